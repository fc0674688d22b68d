package payment

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/umkhondo/internal/daraja"
	"github.com/vanshika/umkhondo/internal/domain"
)

const (
	simulatedAcceptedDesc   = "Accept the service request successfully."
	simulatedCustomerMsg    = "Success. Request accepted for processing"
	simulatedProcessedDesc  = "The service request is processed successfully."
	simulatedGatewayName    = "simulated"
	simulatedConversationID = "AG_"
	simulatedCheckoutID     = "ws_CO_"
)

// SimulatedGateway answers every request locally after an optional delay.
// Querying a pending push request reports it as completed and marks the
// answer for settlement, standing in for the customer approving on their
// handset.
type SimulatedGateway struct {
	latency time.Duration
	nowFn   func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedGateway returns a gateway that waits latency before each answer.
func NewSimulatedGateway(latency time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		latency: latency,
		nowFn:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock overrides the time source.
func (g *SimulatedGateway) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		g.nowFn = nowFn
	}
}

func (g *SimulatedGateway) Name() string { return simulatedGatewayName }

// SettlesLocally reports that query answers are derived from the stored
// record, so read-only lookups have nothing to learn from it.
func (g *SimulatedGateway) SettlesLocally() bool { return true }

func (g *SimulatedGateway) SimulateMerchant(ctx context.Context, _ string, _ MerchantOrder) (MerchantReceipt, error) {
	if err := g.wait(ctx); err != nil {
		return MerchantReceipt{}, err
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return MerchantReceipt{
		ConversationID: simulatedConversationID + daraja.Timestamp(g.nowFn()) + "_" + id[:12],
		Description:    simulatedAcceptedDesc,
		Source:         domain.SourceSimulation,
	}, nil
}

func (g *SimulatedGateway) Push(ctx context.Context, _ string, _ PushOrder) (PushReceipt, error) {
	if err := g.wait(ctx); err != nil {
		return PushReceipt{}, err
	}
	g.mu.Lock()
	a, b, c := g.rnd.Intn(90000)+10000, g.rnd.Intn(90000000)+10000000, g.rnd.Intn(9)+1
	suffix := g.rnd.Intn(9000) + 1000
	g.mu.Unlock()

	return PushReceipt{
		CheckoutRequestID: fmt.Sprintf("%s%s%d", simulatedCheckoutID, daraja.Timestamp(g.nowFn()), suffix),
		MerchantRequestID: fmt.Sprintf("%d-%d-%d", a, b, c),
		CustomerMessage:   simulatedCustomerMsg,
		Source:            domain.SourceSimulation,
	}, nil
}

func (g *SimulatedGateway) QueryPush(ctx context.Context, _ string, correlationID string, local *domain.Payment) (PushState, error) {
	if local == nil {
		return PushState{}, fmt.Errorf("checkout request %s: %w", correlationID, ErrTransactionNotFound)
	}
	if local.Status.Terminal() {
		return PushState{
			Answered:   true,
			Status:     local.Status,
			ResultCode: local.ResultCode,
			ResultDesc: local.ResultDesc,
		}, nil
	}
	if err := g.wait(ctx); err != nil {
		return PushState{}, err
	}
	return PushState{
		Answered:   true,
		Status:     domain.StatusCompleted,
		ResultCode: 0,
		ResultDesc: simulatedProcessedDesc,
		Settle:     true,
	}, nil
}

func (g *SimulatedGateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
