package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/ledger"
	"github.com/vanshika/umkhondo/internal/payment"
)

const (
	callerHeader    = "X-Username"
	maxCallbackBody = 1 << 20
	dateLayout      = "2006-01-02"
)

// PaymentInitiator starts payments on behalf of a caller.
type PaymentInitiator interface {
	SimulateMerchantPayment(ctx context.Context, caller string, req payment.MerchantPaymentRequest) (payment.MerchantPaymentResult, error)
	InitiatePushPayment(ctx context.Context, caller string, req payment.PushPaymentRequest) (payment.PushPaymentResult, error)
}

// StatusReader answers status and listing queries.
type StatusReader interface {
	QueryByTransactionID(ctx context.Context, transactionID string) (payment.PaymentStatus, error)
	QueryByCorrelationID(ctx context.Context, correlationID string) (payment.PaymentStatus, error)
	List(ctx context.Context, f payment.ListFilter) ([]payment.PaymentStatus, error)
}

// CallbackHandler folds network callbacks into stored payments.
type CallbackHandler interface {
	HandleMerchantPayment(ctx context.Context, payload []byte) payment.Result
	HandlePushResult(ctx context.Context, payload []byte) payment.Result
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger    *slog.Logger
	payments  PaymentInitiator
	status    StatusReader
	callbacks CallbackHandler
	ledger    ledger.Ledger
}

// NewAPIHandlers constructs an APIHandlers instance. A nil ledger disables
// the ledger routes.
func NewAPIHandlers(logger *slog.Logger, payments PaymentInitiator, status StatusReader, callbacks CallbackHandler, l ledger.Ledger) *APIHandlers {
	return &APIHandlers{
		logger:    logger,
		payments:  payments,
		status:    status,
		callbacks: callbacks,
		ledger:    l,
	}
}

type merchantPaymentRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
}

type pushPaymentRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

type transactionsResponse struct {
	Items []payment.PaymentStatus `json:"items"`
	Total int                     `json:"total"`
}

type ledgerEntryResponse struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	Username      string `json:"username,omitempty"`
	Date          string `json:"date"`
	Description   string `json:"description"`
	Amount        string `json:"amount"`
	Type          string `json:"type"`
	Category      string `json:"category"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	Status        string `json:"status"`
	Reference     string `json:"reference,omitempty"`
	Source        string `json:"source"`
}

type ledgerEntriesResponse struct {
	Items []ledgerEntryResponse `json:"items"`
	Total int                   `json:"total"`
}

type categoryRequest struct {
	Category string `json:"category"`
}

type statusResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

func (h *APIHandlers) simulateMerchantPayment(w http.ResponseWriter, r *http.Request) {
	var payload merchantPaymentRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.payments.SimulateMerchantPayment(r.Context(), caller(r), payment.MerchantPaymentRequest(payload))
	if err != nil {
		h.writePaymentError(w, "merchant payment failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (h *APIHandlers) initiatePushPayment(w http.ResponseWriter, r *http.Request) {
	var payload pushPaymentRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.payments.InitiatePushPayment(r.Context(), caller(r), payment.PushPaymentRequest(payload))
	if err != nil {
		h.writePaymentError(w, "push payment failed", err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

func (h *APIHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	items, err := h.status.List(r.Context(), payment.ListFilter{
		PhoneNumber: query.Get("phoneNumber"),
		Status:      domain.Status(query.Get("status")),
		Kind:        domain.Kind(query.Get("kind")),
	})
	if err != nil {
		h.logger.Error("failed to list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	respondJSON(w, http.StatusOK, transactionsResponse{Items: items, Total: len(items)})
}

func (h *APIHandlers) transactionStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "transactionID"))
	status, err := h.status.QueryByTransactionID(r.Context(), id)
	if err != nil {
		h.writePaymentError(w, "transaction status failed", err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *APIHandlers) checkoutStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "checkoutRequestID"))
	status, err := h.status.QueryByCorrelationID(r.Context(), id)
	if err != nil {
		h.writePaymentError(w, "checkout status failed", err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Callback routes always answer 200 with the acknowledgement body; the
// network retries on anything else.
func (h *APIHandlers) merchantCallback(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, h.callbacks.HandleMerchantPayment)
}

func (h *APIHandlers) pushCallback(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, h.callbacks.HandlePushResult)
}

func (h *APIHandlers) callback(w http.ResponseWriter, r *http.Request, handle func(context.Context, []byte) payment.Result) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		h.logger.Warn("unreadable callback body", "path", r.URL.Path, "error", err)
		respondJSON(w, http.StatusOK, payment.Result{Error: "unreadable body"}.Acknowledgement())
		return
	}
	res := handle(r.Context(), body)
	if !res.OK {
		h.logger.Warn("callback not applied", "path", r.URL.Path, "error", res.Error)
	}
	respondJSON(w, http.StatusOK, res.Acknowledgement())
}

func (h *APIHandlers) listLedgerEntries(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusNotFound, "ledger is not configured")
		return
	}
	query := r.URL.Query()
	filter := ledger.Filter{
		Username: query.Get("username"),
		Category: query.Get("category"),
	}
	var err error
	if filter.From, err = parseDate(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date, want YYYY-MM-DD")
		return
	}
	if filter.To, err = parseDate(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date, want YYYY-MM-DD")
		return
	}

	entries, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list ledger entries", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list ledger entries")
		return
	}
	resp := ledgerEntriesResponse{Items: make([]ledgerEntryResponse, 0, len(entries)), Total: len(entries)}
	for _, e := range entries {
		resp.Items = append(resp.Items, toLedgerEntryResponse(e))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) updateLedgerCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	var payload categoryRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Category) == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	if err := h.ledger.UpdateCategory(r.Context(), id, strings.TrimSpace(payload.Category)); err != nil {
		h.writeLedgerError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "ok", ID: id.String()})
}

func (h *APIHandlers) deleteLedgerEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Delete(r.Context(), id); err != nil {
		h.writeLedgerError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandlers) entryID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.ledger == nil {
		writeError(w, http.StatusNotFound, "ledger is not configured")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "entry id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *APIHandlers) writeLedgerError(w http.ResponseWriter, id uuid.UUID, err error) {
	if errors.Is(err, ledger.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("ledger entry %s not found", id))
		return
	}
	h.logger.Error("ledger update failed", "entry_id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "ledger update failed")
}

// writePaymentError maps the payment error taxonomy onto HTTP statuses.
func (h *APIHandlers) writePaymentError(w http.ResponseWriter, msg string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	} else {
		h.logger.Warn(msg, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, payment.ErrInvalidPhoneNumber), errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrUnauthorizedPhoneAccess):
		return http.StatusForbidden
	case errors.Is(err, payment.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrCredentialsNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, payment.ErrAuthenticationFailed), errors.Is(err, payment.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func toLedgerEntryResponse(e ledger.Entry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:            e.ID.String(),
		TransactionID: e.TransactionID,
		Username:      e.Username,
		Date:          formatTime(e.Date),
		Description:   e.Description,
		Amount:        e.Amount.StringFixed(2),
		Type:          string(e.Type),
		Category:      e.Category,
		PhoneNumber:   e.PhoneNumber,
		Status:        string(e.Status),
		Reference:     e.Reference,
		Source:        string(e.Source),
	}
}

func caller(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(callerHeader))
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}
