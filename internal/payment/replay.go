package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/logging"
)

// TaskError accumulates the failures of a replay run.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d callbacks failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	return e.Errors
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// ReplaySummary counts what a replay run did.
type ReplaySummary struct {
	Total       int `json:"total"`
	OK          int `json:"ok"`
	Applied     int `json:"applied"`
	Failed      int `json:"failed"`
	Orphaned    int `json:"orphaned"`
	Unattempted int `json:"unattempted"`
}

// Replayer feeds recorded callbacks through a Processor using a worker pool.
type Replayer struct {
	processor *Processor
	workers   int
	logger    *slog.Logger
}

// NewReplayer creates a Replayer with the provided concurrency.
func NewReplayer(processor *Processor, workers int, logger *slog.Logger) *Replayer {
	if workers <= 0 {
		workers = 4
	}
	return &Replayer{
		processor: processor,
		workers:   workers,
		logger:    logging.OrDiscard(logger).With("component", "replayer"),
	}
}

// Replay processes every callback. Rejected callbacks are collected into a
// *TaskError; cancellation stops the run and returns the context error.
func (r *Replayer) Replay(ctx context.Context, callbacks []domain.RawCallback) (ReplaySummary, error) {
	summary := ReplaySummary{Total: len(callbacks)}
	if len(callbacks) == 0 {
		return summary, nil
	}

	indexCh := make(chan int)
	resultCh := make(chan Result, len(callbacks))
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			res := r.processor.Process(ctx, callbacks[idx])
			if res.Reason != nil {
				res.Reason = fmt.Errorf("callback %d (%s): %w", idx, callbacks[idx].Kind, res.Reason)
			}
			resultCh <- res
		}
	}

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := range callbacks {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(resultCh)

	var taskErr TaskError
	for res := range resultCh {
		switch {
		case res.OK:
			summary.OK++
			if res.Applied {
				summary.Applied++
			}
		default:
			summary.Failed++
			if errors.Is(res.Reason, ErrOrphanedCallback) {
				summary.Orphaned++
			}
			if res.Reason != nil {
				taskErr.append(res.Reason)
			} else {
				taskErr.append(errors.New(res.Error))
			}
		}
	}
	summary.Unattempted = summary.Total - summary.OK - summary.Failed

	r.logger.Info("replay finished",
		"total", summary.Total,
		"ok", summary.OK,
		"applied", summary.Applied,
		"failed", summary.Failed,
		"orphaned", summary.Orphaned)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, taskErr.asError()
}
