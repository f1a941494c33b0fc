package handlers

import (
	"net/http"

	"github.com/gentlechase/api/internal/httpx"
)

const recentInvoiceLimit = 5

type dashboardResponse struct {
	BusinessName   string               `json:"businessName"`
	Invoices       invoiceStatsResponse `json:"invoices"`
	Clients        clientCountsResponse `json:"clients"`
	RecentInvoices []invoiceResponse    `json:"recentInvoices"`
}

func (s *Server) GetDashboardSummary(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	profile, err := s.Store.GetProfile(ctx, userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load profile", nil)
		return
	}
	stats, err := s.Store.GetInvoiceStats(ctx, userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load invoice stats", nil)
		return
	}
	counts, err := s.Store.CountClients(ctx, userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to count clients", nil)
		return
	}
	recent, err := s.Store.RecentInvoices(ctx, userID, recentInvoiceLimit)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load recent invoices", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, dashboardResponse{
		BusinessName:   profile.BusinessName,
		Invoices:       mapInvoiceStats(stats),
		Clients:        clientCountsResponse{Total: counts.Total, Active: counts.Active, Inactive: counts.Inactive},
		RecentInvoices: mapInvoices(recent),
	})
}
