package daraja

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vanshika/umkhondo/internal/domain"
)

// Metadata item names carried on successful push results.
const (
	ItemAmount          = "Amount"
	ItemReceiptNumber   = "MpesaReceiptNumber"
	ItemTransactionDate = "TransactionDate"
	ItemPhoneNumber     = "PhoneNumber"
)

// ErrMalformedCallback is returned when a body cannot be read at all.
var ErrMalformedCallback = errors.New("malformed callback payload")

// DecodeC2BConfirmation reads a merchant confirmation body. Missing fields
// decode to their zero values.
func DecodeC2BConfirmation(payload []byte) (domain.CallbackEvent, error) {
	var body C2BConfirmation
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.CallbackEvent{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	reference := strings.TrimSpace(body.BillRefNumber)
	if reference == "" {
		reference = strings.TrimSpace(body.InvoiceNumber)
	}
	completedAt, _ := ParseTimestamp(body.TransTime.String())

	return domain.CallbackEvent{
		Kind:          domain.CallbackMerchantPayment,
		TransactionID: strings.TrimSpace(body.TransID),
		BillReference: reference,
		ShortCode:     body.BusinessShortCode.String(),
		ResultCode:    0,
		Metadata: domain.CallbackMetadata{
			Amount:        amountOf(body.TransAmount),
			ReceiptNumber: strings.TrimSpace(body.TransID),
			PhoneNumber:   body.MSISDN.String(),
			CompletedAt:   completedAt,
		},
	}, nil
}

// DecodeSTKCallback reads a push-result envelope. The result code is
// required; metadata items are best effort.
func DecodeSTKCallback(payload []byte) (domain.CallbackEvent, error) {
	var env STKCallbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.CallbackEvent{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.STKCallback

	code, ok := cb.ResultCode.Int()
	if !ok {
		return domain.CallbackEvent{}, fmt.Errorf("%w: result code %q", ErrMalformedCallback, cb.ResultCode)
	}

	event := domain.CallbackEvent{
		Kind:          domain.CallbackPushResult,
		CorrelationID: strings.TrimSpace(cb.CheckoutRequestID),
		ResultCode:    code,
		ResultDesc:    cb.ResultDesc,
	}
	md := cb.CallbackMetadata
	event.Metadata = domain.CallbackMetadata{
		Amount:        amountOf(md.Lookup(ItemAmount)),
		ReceiptNumber: strings.TrimSpace(md.Lookup(ItemReceiptNumber).String()),
		PhoneNumber:   md.Lookup(ItemPhoneNumber).String(),
	}
	event.Metadata.CompletedAt, _ = ParseTimestamp(md.Lookup(ItemTransactionDate).String())
	event.TransactionID = event.Metadata.ReceiptNumber
	return event, nil
}

func amountOf(t Text) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(t.String()))
	if err != nil {
		return decimal.Zero
	}
	return d
}
