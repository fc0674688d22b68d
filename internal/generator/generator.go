package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/umkhondo/internal/daraja"
	"github.com/vanshika/umkhondo/internal/domain"
)

// Failure result codes the network reports for push requests that did not
// go through.
var failureCodes = []struct {
	code int
	desc string
}{
	{1, "The balance is insufficient for the transaction."},
	{1037, "DS timeout user cannot be reached"},
	{2001, "The initiator information is invalid."},
}

// Stats summarises a generated dataset.
type Stats struct {
	Merchant   int `json:"merchant"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Duplicates int `json:"duplicates"`
}

// Dataset is an ordered list of callbacks as the network would deliver them.
type Dataset struct {
	Callbacks []domain.RawCallback `json:"callbacks"`
	Stats     Stats                `json:"stats"`
}

// Generator produces synthetic Daraja callbacks.
type Generator struct {
	cfg         Config
	rand        *rand.Rand
	subscribers []subscriber
	seq         int
}

type subscriber struct {
	msisdn    string
	firstName string
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	cfg = cfg.withDefaults()
	g := &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
	g.subscribers = make([]subscriber, cfg.NumSubscribers)
	for i := range g.subscribers {
		g.subscribers[i] = subscriber{
			msisdn:    fmt.Sprintf("2547%08d", g.rand.Intn(100000000)),
			firstName: firstNames[g.rand.Intn(len(firstNames))],
		}
	}
	return g
}

// Generate builds the dataset. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	var ds Dataset
	ds.Callbacks = make([]domain.RawCallback, 0, g.cfg.NumCallbacks)

	for i := 0; i < g.cfg.NumCallbacks; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}

		at := g.cfg.Start.Add(-time.Duration(g.rand.Intn(30*24*60)) * time.Minute)
		sub := g.subscribers[g.rand.Intn(len(g.subscribers))]

		var (
			cb  domain.RawCallback
			err error
		)
		if g.rand.Float64() < g.cfg.MerchantRatio {
			cb, err = g.merchantConfirmation(sub, at)
			ds.Stats.Merchant++
		} else {
			var status domain.Status
			cb, status, err = g.pushResult(sub, at)
			switch status {
			case domain.StatusCompleted:
				ds.Stats.Completed++
			case domain.StatusCancelled:
				ds.Stats.Cancelled++
			default:
				ds.Stats.Failed++
			}
		}
		if err != nil {
			return Dataset{}, err
		}

		ds.Callbacks = append(ds.Callbacks, cb)
		if g.rand.Float64() < g.cfg.DuplicateRatio {
			ds.Callbacks = append(ds.Callbacks, cb)
			ds.Stats.Duplicates++
		}
	}
	return ds, nil
}

func (g *Generator) merchantConfirmation(sub subscriber, at time.Time) (domain.RawCallback, error) {
	amount := g.amount()
	body := daraja.C2BConfirmation{
		TransactionType:   "Pay Bill",
		TransID:           g.receipt(),
		TransTime:         daraja.Text(daraja.Timestamp(at)),
		TransAmount:       daraja.Text(amount.StringFixed(2)),
		BusinessShortCode: daraja.Text(g.cfg.ShortCode),
		BillRefNumber:     references[g.rand.Intn(len(references))],
		MSISDN:            daraja.Text(sub.msisdn),
		FirstName:         sub.firstName,
	}
	return encode(domain.CallbackMerchantPayment, body)
}

func (g *Generator) pushResult(sub subscriber, at time.Time) (domain.RawCallback, domain.Status, error) {
	var cb daraja.STKCallback
	cb.MerchantRequestID = fmt.Sprintf("%d-%d-%d", g.rand.Intn(90000)+10000, g.rand.Intn(9000000)+1000000, g.rand.Intn(9))
	cb.CheckoutRequestID = fmt.Sprintf("ws_CO_%s%04d", daraja.Timestamp(at), g.next())

	status := domain.StatusCompleted
	roll := g.rand.Float64()
	switch {
	case roll < g.cfg.FailureRatio:
		status = domain.StatusFailed
		f := failureCodes[g.rand.Intn(len(failureCodes))]
		cb.ResultCode = daraja.Text(fmt.Sprint(f.code))
		cb.ResultDesc = f.desc
	case roll < g.cfg.FailureRatio+g.cfg.CancelRatio:
		status = domain.StatusCancelled
		cb.ResultCode = daraja.Text(fmt.Sprint(domain.ResultCodeCancelled))
		cb.ResultDesc = "Request cancelled by user"
	default:
		cb.ResultCode = "0"
		cb.ResultDesc = "The service request is processed successfully."
		cb.CallbackMetadata.Item = []daraja.MetadataItem{
			{Name: daraja.ItemAmount, Value: daraja.Text(g.amount().String())},
			{Name: daraja.ItemReceiptNumber, Value: daraja.Text(g.receipt())},
			{Name: daraja.ItemTransactionDate, Value: daraja.Text(daraja.Timestamp(at))},
			{Name: daraja.ItemPhoneNumber, Value: daraja.Text(sub.msisdn)},
		}
	}

	var env daraja.STKCallbackEnvelope
	env.Body.STKCallback = cb
	raw, err := encode(domain.CallbackPushResult, env)
	return raw, status, err
}

// amount returns a whole-shilling amount between 10 and 5000.
func (g *Generator) amount() decimal.Decimal {
	return decimal.NewFromInt(int64(10 + g.rand.Intn(4991)))
}

func (g *Generator) receipt() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = alphabet[g.rand.Intn(len(alphabet))]
	}
	return string(b)
}

func (g *Generator) next() int {
	g.seq++
	return g.seq
}

func encode(kind domain.CallbackKind, body any) (domain.RawCallback, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.RawCallback{}, fmt.Errorf("encode %s callback: %w", kind, err)
	}
	return domain.RawCallback{Kind: kind, Payload: payload}, nil
}

var (
	firstNames = []string{"Wanjiku", "Otieno", "Achieng", "Kamau", "Njeri", "Mwangi", "Akinyi", "Kiprop", "Wambui", "Mutua", "Chebet", "Ouma"}
	references = []string{"rent", "school fees", "groceries", "electricity", "water bill", "airtime", "fuel", "hospital", "salary advance", "INV-1042"}
)
