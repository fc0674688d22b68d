package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vanshika/umkhondo/internal/auth"
	"github.com/vanshika/umkhondo/internal/category"
	"github.com/vanshika/umkhondo/internal/config"
	"github.com/vanshika/umkhondo/internal/events"
	"github.com/vanshika/umkhondo/internal/generator"
	"github.com/vanshika/umkhondo/internal/graph"
	"github.com/vanshika/umkhondo/internal/ledger"
	"github.com/vanshika/umkhondo/internal/logging"
	"github.com/vanshika/umkhondo/internal/metrics"
	"github.com/vanshika/umkhondo/internal/payment"
	"github.com/vanshika/umkhondo/internal/store"
)

func main() {
	var (
		input   = flag.String("input", "data/callbacks.json", "callback dataset written by datagen")
		workers = flag.Int("workers", 4, "number of concurrent replay workers")
		strict  = flag.Bool("strict", false, "exit non-zero when any callback fails")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "ingest")

	dataset, err := generator.ReadDataset(*input)
	if err != nil {
		logger.Error("failed to load dataset", "error", err, "path", *input)
		os.Exit(1)
	}
	if len(dataset.Callbacks) == 0 {
		logger.Error("dataset empty", "path", *input)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	processor, cleanup, err := buildProcessor(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to build callback processor", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	start := time.Now()
	logger.Info("replaying callbacks", "count", len(dataset.Callbacks), "workers", *workers, "store", cfg.Store.Backend)
	summary, err := payment.NewReplayer(processor, *workers, logger).Replay(ctx, dataset.Callbacks)
	_ = json.NewEncoder(os.Stdout).Encode(summary)

	var taskErr *payment.TaskError
	switch {
	case err == nil:
	case errors.As(err, &taskErr) && !*strict:
		logger.Warn("some callbacks were not applied", "failed", len(taskErr.Errors))
	default:
		logger.Error("replay failed", "error", err)
		os.Exit(1)
	}

	logger.Info("replay complete", "duration", time.Since(start).String())
}

// buildProcessor wires the callback pipeline against the configured store
// and ledger. The returned cleanup releases every opened connection.
func buildProcessor(ctx context.Context, logger *slog.Logger, cfg config.Config) (*payment.Processor, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, cleanup, err
	}

	var payments store.Store = store.NewMemoryStore()
	if cfg.Store.Backend == config.StoreGraph {
		client, err := buildGraphClient(ctx, logger, cfg)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() {
			if err := client.Close(context.Background()); err != nil {
				logger.Warn("closing graph client failed", "error", err)
			}
		})
		graphStore := store.NewGraphStore(client)
		if err := graphStore.EnsureSchema(ctx); err != nil {
			return nil, cleanup, fmt.Errorf("ensure payment schema: %w", err)
		}
		payments = graphStore
	}

	var led ledger.Ledger = ledger.NewMemoryLedger()
	if cfg.Ledger.DatabaseURL != "" {
		if cfg.Ledger.Migrate {
			if err := ledger.Migrate(cfg.Ledger.DatabaseURL); err != nil {
				return nil, cleanup, fmt.Errorf("migrate ledger: %w", err)
			}
		}
		pg, err := ledger.NewPostgresLedger(ctx, cfg.Ledger.DatabaseURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connect ledger: %w", err)
		}
		closers = append(closers, pg.Close)
		led = pg
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled() {
		publisher = events.NewKafkaPublisher(cfg.Events.Brokers(), cfg.Events.Topic)
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("closing event publisher failed", "error", err)
			}
		})
	}

	directory, err := auth.Open(cfg.Auth.ConfigPath)
	if err != nil {
		return nil, cleanup, fmt.Errorf("open user directory: %w", err)
	}

	settlement := payment.NewSettlement(led, directory, publisher, m, logger)
	return payment.NewProcessor(payments, category.NewKeyword(), settlement, m, logger), cleanup, nil
}

func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, fmt.Errorf("GRAPH_URI is required for the graph store")
	}
	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	client, err := graph.NewNeo4jClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
	return client, nil
}
