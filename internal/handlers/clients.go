package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/gentlechase/api/internal/httpx"
	"github.com/gentlechase/api/internal/store"
)

type clientRequest struct {
	Name   string `json:"name" validate:"required,max=200"`
	Email  string `json:"email" validate:"omitempty,email,max=254"`
	Phone  string `json:"phone" validate:"max=50"`
	Status string `json:"status" validate:"omitempty,oneof=active inactive"`
}

type clientResponse struct {
	ID        openapi_types.UUID   `json:"id"`
	Name      string               `json:"name"`
	Email     *openapi_types.Email `json:"email"`
	Phone     *string              `json:"phone"`
	Status    string               `json:"status"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

type clientCountsResponse struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

type clientListResponse struct {
	Items  []clientResponse     `json:"items"`
	Counts clientCountsResponse `json:"counts"`
}

func mapClient(c store.Client) clientResponse {
	return clientResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     optionalEmail(c.Email),
		Phone:     optionalString(c.Phone),
		Status:    c.Status,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
}

func (s *Server) GetClients(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}

	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "all" {
		status = ""
	}
	clients, err := s.Store.ListClients(r.Context(), userID, store.ClientFilter{Status: status, Q: r.URL.Query().Get("q")})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load clients", nil)
		return
	}
	counts, err := s.Store.CountClients(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to count clients", nil)
		return
	}

	items := make([]clientResponse, 0, len(clients))
	for _, c := range clients {
		items = append(items, mapClient(c))
	}
	httpx.WriteJSON(w, http.StatusOK, clientListResponse{
		Items:  items,
		Counts: clientCountsResponse{Total: counts.Total, Active: counts.Active, Inactive: counts.Inactive},
	})
}

func (s *Server) PostClients(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	var req clientRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.Store.CreateClient(r.Context(), userID, store.ClientParams{
		Name:   req.Name,
		Email:  strings.TrimSpace(req.Email),
		Phone:  strings.TrimSpace(req.Phone),
		Status: req.Status,
	})
	if err != nil {
		s.writeClientError(w, r, err, "Failed to create client")
		return
	}
	s.logAudit(r, userID, "clients.create", "client", ptr(c.ID), nil)

	httpx.WriteJSON(w, http.StatusCreated, mapClient(c))
}

func (s *Server) PutClient(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	clientID, ok := pathUUID(w, r, chi.URLParam(r, "clientId"), "clientId")
	if !ok {
		return
	}
	var req clientRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	c, err := s.Store.UpdateClient(r.Context(), userID, clientID, store.ClientParams{
		Name:   req.Name,
		Email:  strings.TrimSpace(req.Email),
		Phone:  strings.TrimSpace(req.Phone),
		Status: req.Status,
	})
	if err != nil {
		s.writeClientError(w, r, err, "Failed to update client")
		return
	}
	s.logAudit(r, userID, "clients.update", "client", ptr(c.ID), nil)

	httpx.WriteJSON(w, http.StatusOK, mapClient(c))
}

func (s *Server) PostClientToggleStatus(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	clientID, ok := pathUUID(w, r, chi.URLParam(r, "clientId"), "clientId")
	if !ok {
		return
	}

	c, err := s.Store.ToggleClientStatus(r.Context(), userID, clientID)
	if err != nil {
		s.writeClientError(w, r, err, "Failed to update client")
		return
	}
	s.logAudit(r, userID, "clients.toggle_status", "client", ptr(c.ID), map[string]any{"status": c.Status})

	httpx.WriteJSON(w, http.StatusOK, mapClient(c))
}

func (s *Server) DeleteClient(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	clientID, ok := pathUUID(w, r, chi.URLParam(r, "clientId"), "clientId")
	if !ok {
		return
	}

	if err := s.Store.DeleteClient(r.Context(), userID, clientID); err != nil {
		s.writeClientError(w, r, err, "Failed to delete client")
		return
	}
	s.logAudit(r, userID, "clients.delete", "client", ptr(clientID), nil)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeClientError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, r, http.StatusNotFound, "client_not_found", "Client was not found", nil)
		return
	}
	s.Logger.Error("client_store_failed", "error", err, "request_id", requestID(r))
	httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", fallback, nil)
}
