package handlers

import (
	"net/http"
	"strings"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"

	"github.com/gentlechase/api/internal/httpx"
	"github.com/gentlechase/api/internal/importer"
	"github.com/gentlechase/api/internal/store"
)

type profileResponse struct {
	BusinessName       string               `json:"businessName"`
	BusinessEmail      *openapi_types.Email `json:"businessEmail"`
	BusinessPhone      *string              `json:"businessPhone"`
	ReminderStyle      string               `json:"reminderStyle"`
	ReminderPattern    string               `json:"reminderPattern"`
	OnboardingStep     int                  `json:"onboardingStep"`
	OnboardingComplete bool                 `json:"onboardingComplete"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

type businessRequest struct {
	BusinessName string `json:"businessName" validate:"required,max=200"`
	Email        string `json:"email" validate:"omitempty,email,max=254"`
	Phone        string `json:"phone" validate:"max=50"`
}

type firstInvoiceRequest struct {
	Skip       bool               `json:"skip"`
	ClientName string             `json:"clientName" validate:"required_unless=Skip true,max=200"`
	Amount     decimal.Decimal    `json:"amount"`
	DueDate    openapi_types.Date `json:"dueDate"`
}

type reminderSettingsRequest struct {
	Style   string `json:"style" validate:"required,oneof=polite firm final"`
	Pattern string `json:"pattern" validate:"required,oneof=3days 7days 14days"`
}

type firstInvoiceResponse struct {
	Profile profileResponse  `json:"profile"`
	Invoice *invoiceResponse `json:"invoice,omitempty"`
}

func mapProfile(p store.Profile) profileResponse {
	return profileResponse{
		BusinessName:       p.BusinessName,
		BusinessEmail:      optionalEmail(p.BusinessEmail),
		BusinessPhone:      optionalString(p.BusinessPhone),
		ReminderStyle:      p.ReminderStyle,
		ReminderPattern:    p.ReminderPattern,
		OnboardingStep:     p.OnboardingStep,
		OnboardingComplete: p.OnboardingComplete,
		UpdatedAt:          p.UpdatedAt.UTC(),
	}
}

func (s *Server) GetOnboarding(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	p, err := s.Store.GetProfile(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load profile", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapProfile(p))
}

func (s *Server) PutOnboardingBusiness(w http.ResponseWriter, r *http.Request) {
	actor, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	var req businessRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = actor.Email
	}

	p, err := s.Store.UpdateBusiness(r.Context(), userID, store.BusinessParams{
		Name:  strings.TrimSpace(req.BusinessName),
		Email: email,
		Phone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to save business details", nil)
		return
	}
	s.logAudit(r, userID, "onboarding.business", "profile", ptr(userID), nil)

	httpx.WriteJSON(w, http.StatusOK, mapProfile(p))
}

// PostOnboardingInvoice optionally records the user's first invoice and
// moves the wizard to step 3.
func (s *Server) PostOnboardingInvoice(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	var req firstInvoiceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	var created *invoiceResponse
	if !req.Skip {
		params, ok := invoiceParams(w, r, invoiceRequest{
			ClientName: req.ClientName,
			Amount:     req.Amount,
			DueDate:    req.DueDate,
			Status:     string(importer.StatusPending),
		})
		if !ok {
			return
		}
		number, err := s.nextInvoiceNumber(r.Context(), userID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to allocate invoice number", nil)
			return
		}
		params.InvoiceNumber = number

		var inv store.Invoice
		err = s.Store.WithTx(r.Context(), func(tx *store.Store) error {
			client, err := tx.CreateClient(r.Context(), userID, store.ClientParams{Name: params.ClientName})
			if err != nil {
				return err
			}
			params.ClientID = &client.ID
			inv, err = tx.CreateInvoice(r.Context(), userID, params)
			return err
		})
		if err != nil {
			s.writeInvoiceError(w, r, err, "Failed to create invoice")
			return
		}
		created = ptr(mapInvoice(inv))
		s.logAudit(r, userID, "invoices.create", "invoice", ptr(inv.ID), map[string]any{"source": "onboarding"})
	}

	p, err := s.Store.AdvanceOnboarding(r.Context(), userID, 3)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to update onboarding", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, firstInvoiceResponse{Profile: mapProfile(p), Invoice: created})
}

func (s *Server) PutOnboardingReminders(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	var req reminderSettingsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	p, err := s.Store.UpdateReminderSettings(r.Context(), userID, req.Style, req.Pattern)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to save reminder settings", nil)
		return
	}
	s.logAudit(r, userID, "onboarding.reminders", "profile", ptr(userID),
		map[string]any{"style": req.Style, "pattern": req.Pattern})

	httpx.WriteJSON(w, http.StatusOK, mapProfile(p))
}

// PostOnboardingComplete finishes the wizard. Payment setup is not offered
// yet, so skipping and finishing are the same request.
func (s *Server) PostOnboardingComplete(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	p, err := s.Store.CompleteOnboarding(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to complete onboarding", nil)
		return
	}
	s.logAudit(r, userID, "onboarding.complete", "profile", ptr(userID), nil)

	httpx.WriteJSON(w, http.StatusOK, mapProfile(p))
}
