package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vanshika/umkhondo/internal/daraja"
	"github.com/vanshika/umkhondo/internal/domain"
)

const liveGatewayName = "daraja"

// DarajaAPI is the part of *daraja.Client the live gateway calls.
type DarajaAPI interface {
	SimulateC2B(ctx context.Context, bearer string, req daraja.C2BSimulateRequest) (daraja.C2BSimulateResponse, error)
	STKPush(ctx context.Context, bearer string, req daraja.STKPushRequest) (daraja.STKPushResponse, error)
	STKQuery(ctx context.Context, bearer string, req daraja.STKQueryRequest) (daraja.STKQueryResponse, error)
}

// LiveGateway sends requests to the Daraja API. Its push queries are pure
// reads and never ask for settlement.
type LiveGateway struct {
	api   DarajaAPI
	creds Credentials
	nowFn func() time.Time
}

func NewLiveGateway(api DarajaAPI, creds Credentials) *LiveGateway {
	return &LiveGateway{api: api, creds: creds, nowFn: time.Now}
}

// WithClock overrides the time source used for request timestamps.
func (g *LiveGateway) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		g.nowFn = nowFn
	}
}

func (g *LiveGateway) Name() string { return liveGatewayName }

func (g *LiveGateway) SimulateMerchant(ctx context.Context, bearer string, order MerchantOrder) (MerchantReceipt, error) {
	resp, err := g.api.SimulateC2B(ctx, bearer, daraja.C2BSimulateRequest{
		ShortCode:     g.creds.ShortCode,
		CommandID:     daraja.CommandCustomerPayBill,
		Amount:        wholeShillings(order),
		Msisdn:        order.PhoneNumber,
		BillRefNumber: order.Reference,
	})
	if err != nil {
		return MerchantReceipt{}, err
	}
	id := resp.ConversationID
	if id == "" {
		id = resp.OriginatorConversationID
	}
	return MerchantReceipt{
		ConversationID: id,
		Description:    resp.ResponseDescription,
		Source:         domain.SourceAPI,
	}, nil
}

func (g *LiveGateway) Push(ctx context.Context, bearer string, order PushOrder) (PushReceipt, error) {
	ts := daraja.Timestamp(g.nowFn())
	resp, err := g.api.STKPush(ctx, bearer, daraja.STKPushRequest{
		BusinessShortCode: g.creds.ShortCode,
		Password:          daraja.Password(g.creds.ShortCode, g.creds.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   daraja.TransactionTypePayBill,
		Amount:            order.Amount.Ceil().IntPart(),
		PartyA:            order.PhoneNumber,
		PartyB:            g.creds.ShortCode,
		PhoneNumber:       order.PhoneNumber,
		CallBackURL:       g.creds.CallbackURL,
		AccountReference:  daraja.AccountReference(order.Reference),
		TransactionDesc:   daraja.TransactionDesc(order.Description),
	})
	if err != nil {
		return PushReceipt{}, err
	}
	return PushReceipt{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
		Source:            domain.SourceAPI,
	}, nil
}

func (g *LiveGateway) QueryPush(ctx context.Context, bearer, correlationID string, local *domain.Payment) (PushState, error) {
	ts := daraja.Timestamp(g.nowFn())
	resp, err := g.api.STKQuery(ctx, bearer, daraja.STKQueryRequest{
		BusinessShortCode: g.creds.ShortCode,
		Password:          daraja.Password(g.creds.ShortCode, g.creds.Passkey, ts),
		Timestamp:         ts,
		CheckoutRequestID: correlationID,
	})
	if err != nil {
		var upstream *daraja.UpstreamError
		if local == nil && errors.As(err, &upstream) && upstream.StatusCode >= 400 && upstream.StatusCode < 500 && !upstream.Unauthorized() {
			return PushState{}, fmt.Errorf("checkout request %s: %w", correlationID, ErrTransactionNotFound)
		}
		return PushState{}, err
	}

	code, ok := resp.ResultCode.Int()
	if !ok {
		return PushState{Status: domain.StatusPending, ResultDesc: resp.ResponseDescription}, nil
	}
	return PushState{
		Answered:   true,
		Status:     domain.StatusForResultCode(code),
		ResultCode: code,
		ResultDesc: resp.ResultDesc,
	}, nil
}

func wholeShillings(order MerchantOrder) int64 {
	return order.Amount.Ceil().IntPart()
}
