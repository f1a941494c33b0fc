package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"

	"github.com/gentlechase/api/internal/httpx"
	"github.com/gentlechase/api/internal/importer"
	"github.com/gentlechase/api/internal/store"
)

type invoiceRequest struct {
	InvoiceNumber string              `json:"invoiceNumber" validate:"max=64"`
	ClientID      *openapi_types.UUID `json:"clientId"`
	ClientName    string              `json:"clientName" validate:"required,max=200"`
	ClientEmail   string              `json:"clientEmail" validate:"omitempty,email,max=254"`
	ClientPhone   string              `json:"clientPhone" validate:"max=50"`
	Amount        decimal.Decimal     `json:"amount"`
	DueDate       openapi_types.Date  `json:"dueDate"`
	Status        string              `json:"status" validate:"omitempty,oneof=paid pending overdue"`
	Description   string              `json:"description" validate:"max=2000"`
	Notes         string              `json:"notes" validate:"max=2000"`
}

type invoiceResponse struct {
	ID            openapi_types.UUID   `json:"id"`
	ClientID      *openapi_types.UUID  `json:"clientId"`
	InvoiceNumber string               `json:"invoiceNumber"`
	ClientName    string               `json:"clientName"`
	ClientEmail   *openapi_types.Email `json:"clientEmail"`
	ClientPhone   *string              `json:"clientPhone"`
	Amount        decimal.Decimal      `json:"amount"`
	DueDate       openapi_types.Date   `json:"dueDate"`
	Status        string               `json:"status"`
	Description   *string              `json:"description"`
	Notes         *string              `json:"notes"`
	PaidAt        *time.Time           `json:"paidAt"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

type invoiceStatsResponse struct {
	Total       int             `json:"total"`
	Paid        int             `json:"paid"`
	Pending     int             `json:"pending"`
	Overdue     int             `json:"overdue"`
	Revenue     decimal.Decimal `json:"revenue"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

type invoiceListResponse struct {
	Items []invoiceResponse    `json:"items"`
	Stats invoiceStatsResponse `json:"stats"`
}

type reminderResponse struct {
	ID        openapi_types.UUID `json:"id"`
	InvoiceID openapi_types.UUID `json:"invoiceId"`
	Style     string             `json:"style"`
	Channel   string             `json:"channel"`
	Source    string             `json:"source"`
	QueuedAt  time.Time          `json:"queuedAt"`
}

func mapInvoice(inv store.Invoice) invoiceResponse {
	var paidAt *time.Time
	if inv.PaidAt != nil {
		paidAt = ptr(inv.PaidAt.UTC())
	}
	return invoiceResponse{
		ID:            inv.ID,
		ClientID:      inv.ClientID,
		InvoiceNumber: inv.InvoiceNumber,
		ClientName:    inv.ClientName,
		ClientEmail:   optionalEmail(inv.ClientEmail),
		ClientPhone:   optionalString(inv.ClientPhone),
		Amount:        inv.Amount,
		DueDate:       dateOnly(inv.DueDate),
		Status:        inv.Status,
		Description:   optionalString(inv.Description),
		Notes:         optionalString(inv.Notes),
		PaidAt:        paidAt,
		CreatedAt:     inv.CreatedAt.UTC(),
		UpdatedAt:     inv.UpdatedAt.UTC(),
	}
}

func mapInvoices(invoices []store.Invoice) []invoiceResponse {
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, mapInvoice(inv))
	}
	return out
}

func mapInvoiceStats(st store.InvoiceStats) invoiceStatsResponse {
	return invoiceStatsResponse{
		Total:       st.Total,
		Paid:        st.Paid,
		Pending:     st.Pending,
		Overdue:     st.Overdue,
		Revenue:     st.Revenue,
		Outstanding: st.Outstanding,
	}
}

// invoiceParams checks the parts of the request the struct tags cannot
// express. It writes the error response on failure.
func invoiceParams(w http.ResponseWriter, r *http.Request, req invoiceRequest) (store.InvoiceParams, bool) {
	details := map[string]string{}
	amount := req.Amount.Round(2)
	switch {
	case !amount.IsPositive():
		details["amount"] = "Must be a positive number"
	case amount.GreaterThanOrEqual(importer.MaxAmount):
		details["amount"] = "Amount is too large"
	}
	if req.DueDate.Time.IsZero() {
		details["dueDate"] = "Required"
	}
	if len(details) > 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Request validation failed", details)
		return store.InvoiceParams{}, false
	}
	status := req.Status
	if status == "" {
		status = string(importer.StatusPending)
	}
	return store.InvoiceParams{
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		ClientID:      req.ClientID,
		ClientName:    req.ClientName,
		ClientEmail:   strings.TrimSpace(req.ClientEmail),
		ClientPhone:   strings.TrimSpace(req.ClientPhone),
		Amount:        amount,
		DueDate:       req.DueDate.Time,
		Status:        status,
		Description:   strings.TrimSpace(req.Description),
		Notes:         strings.TrimSpace(req.Notes),
	}, true
}

// ownsClient rejects links to clients the user does not have.
func (s *Server) ownsClient(w http.ResponseWriter, r *http.Request, userID uuid.UUID, clientID *uuid.UUID) bool {
	if clientID == nil {
		return true
	}
	if _, err := s.Store.GetClient(r.Context(), userID, *clientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Request validation failed",
				map[string]string{"clientId": "Unknown client"})
			return false
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load client", nil)
		return false
	}
	return true
}

// nextInvoiceNumber picks an unused number for the user.
func (s *Server) nextInvoiceNumber(ctx context.Context, userID uuid.UUID) (string, error) {
	numbers, err := s.Store.FetchInvoiceNumbers(ctx, userID)
	if err != nil {
		return "", err
	}
	taken := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		taken[n] = struct{}{}
	}
	return importer.NewNumberGenerator(nil, taken).Next(), nil
}

func (s *Server) GetInvoices(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}

	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "all" {
		status = ""
	}
	invoices, err := s.Store.ListInvoices(r.Context(), userID, store.InvoiceFilter{
		Status: status,
		Q:      r.URL.Query().Get("q"),
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load invoices", nil)
		return
	}
	stats, err := s.Store.GetInvoiceStats(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load invoice stats", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, invoiceListResponse{Items: mapInvoices(invoices), Stats: mapInvoiceStats(stats)})
}

func (s *Server) PostInvoices(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	var req invoiceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	params, ok := invoiceParams(w, r, req)
	if !ok || !s.ownsClient(w, r, userID, params.ClientID) {
		return
	}
	if params.InvoiceNumber == "" {
		number, err := s.nextInvoiceNumber(r.Context(), userID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to allocate invoice number", nil)
			return
		}
		params.InvoiceNumber = number
	}

	inv, err := s.Store.CreateInvoice(r.Context(), userID, params)
	if err != nil {
		s.writeInvoiceError(w, r, err, "Failed to create invoice")
		return
	}
	s.logAudit(r, userID, "invoices.create", "invoice", ptr(inv.ID), nil)

	httpx.WriteJSON(w, http.StatusCreated, mapInvoice(inv))
}

func (s *Server) GetInvoice(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	invoiceID, ok := pathUUID(w, r, chi.URLParam(r, "invoiceId"), "invoiceId")
	if !ok {
		return
	}

	inv, err := s.Store.GetInvoice(r.Context(), userID, invoiceID)
	if err != nil {
		s.writeInvoiceError(w, r, err, "Failed to load invoice")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapInvoice(inv))
}

func (s *Server) PutInvoice(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	invoiceID, ok := pathUUID(w, r, chi.URLParam(r, "invoiceId"), "invoiceId")
	if !ok {
		return
	}
	var req invoiceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	params, ok := invoiceParams(w, r, req)
	if !ok || !s.ownsClient(w, r, userID, params.ClientID) {
		return
	}
	if params.InvoiceNumber == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Request validation failed",
			map[string]string{"invoiceNumber": "Required"})
		return
	}

	inv, err := s.Store.UpdateInvoice(r.Context(), userID, invoiceID, params)
	if err != nil {
		s.writeInvoiceError(w, r, err, "Failed to update invoice")
		return
	}
	s.logAudit(r, userID, "invoices.update", "invoice", ptr(inv.ID), nil)

	httpx.WriteJSON(w, http.StatusOK, mapInvoice(inv))
}

func (s *Server) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	invoiceID, ok := pathUUID(w, r, chi.URLParam(r, "invoiceId"), "invoiceId")
	if !ok {
		return
	}

	if err := s.Store.DeleteInvoice(r.Context(), userID, invoiceID); err != nil {
		s.writeInvoiceError(w, r, err, "Failed to delete invoice")
		return
	}
	s.logAudit(r, userID, "invoices.delete", "invoice", ptr(invoiceID), nil)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PostInvoiceMarkPaid(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	invoiceID, ok := pathUUID(w, r, chi.URLParam(r, "invoiceId"), "invoiceId")
	if !ok {
		return
	}

	inv, err := s.Store.MarkInvoicePaid(r.Context(), userID, invoiceID)
	if err != nil {
		s.writeInvoiceError(w, r, err, "Failed to mark invoice paid")
		return
	}
	s.logAudit(r, userID, "invoices.mark_paid", "invoice", ptr(inv.ID), nil)

	httpx.WriteJSON(w, http.StatusOK, mapInvoice(inv))
}

func (s *Server) PostInvoiceReminder(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	invoiceID, ok := pathUUID(w, r, chi.URLParam(r, "invoiceId"), "invoiceId")
	if !ok {
		return
	}

	inv, err := s.Store.GetInvoice(r.Context(), userID, invoiceID)
	if err != nil {
		s.writeInvoiceError(w, r, err, "Failed to load invoice")
		return
	}
	if inv.Status == string(importer.StatusPaid) {
		httpx.WriteError(w, r, http.StatusConflict, "invoice_paid", "Paid invoices do not get reminders", nil)
		return
	}

	rem, err := s.Store.QueueReminder(r.Context(), userID, invoiceID, store.ReminderSourceManual)
	if err != nil {
		s.writeInvoiceError(w, r, err, "Failed to queue reminder")
		return
	}
	s.logAudit(r, userID, "reminders.queue", "invoice", ptr(invoiceID), map[string]any{"style": rem.Style})

	httpx.WriteJSON(w, http.StatusAccepted, reminderResponse{
		ID:        rem.ID,
		InvoiceID: rem.InvoiceID,
		Style:     rem.Style,
		Channel:   rem.Channel,
		Source:    rem.Source,
		QueuedAt:  rem.QueuedAt.UTC(),
	})
}

func (s *Server) writeInvoiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "invoice_not_found", "Invoice was not found", nil)
	case errors.Is(err, store.ErrConflict):
		httpx.WriteError(w, r, http.StatusConflict, "invoice_number_taken", "An invoice with this number already exists", nil)
	default:
		s.Logger.Error("invoice_store_failed", "error", err, "request_id", requestID(r))
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
