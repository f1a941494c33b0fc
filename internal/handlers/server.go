package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/gentlechase/api/internal/audit"
	"github.com/gentlechase/api/internal/config"
	"github.com/gentlechase/api/internal/httpx"
	"github.com/gentlechase/api/internal/importer"
	"github.com/gentlechase/api/internal/middleware"
	"github.com/gentlechase/api/internal/store"
)

type Server struct {
	Config   config.Config
	Store    *store.Store
	Audit    *audit.Logger
	Logger   *slog.Logger
	Sessions importer.SessionStore
	Synonyms importer.Synonyms

	validate *validator.Validate
}

func NewServer(cfg config.Config, st *store.Store, auditLogger *audit.Logger, logger *slog.Logger, sessions importer.SessionStore, synonyms importer.Synonyms) *Server {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		Config:   cfg,
		Store:    st,
		Audit:    auditLogger,
		Logger:   logger,
		Sessions: sessions,
		Synonyms: synonyms,
		validate: v,
	}
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads and validates a request body. It writes the error
// response itself and reports whether the handler should continue.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Request validation failed", fieldErrors(verrs))
			return false
		}
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return false
	}
	return true
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out[fe.Field()] = "Required"
		case "email":
			out[fe.Field()] = "Must be a valid email"
		case "min":
			out[fe.Field()] = "Must be at least " + fe.Param() + " characters"
		case "max":
			out[fe.Field()] = "Must be at most " + fe.Param() + " characters"
		case "oneof":
			out[fe.Field()] = "Must be one of: " + fe.Param()
		default:
			out[fe.Field()] = "Invalid value"
		}
	}
	return out
}

func requireActorIDs(w http.ResponseWriter, r *http.Request) (middleware.Actor, uuid.UUID, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
		return middleware.Actor{}, uuid.Nil, false
	}
	userID, err := uuid.Parse(actor.UserID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid user", nil)
		return middleware.Actor{}, uuid.Nil, false
	}
	return actor, userID, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_id", name+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) logAudit(r *http.Request, userID uuid.UUID, action, entityType string, entityID *uuid.UUID, metadata map[string]any) {
	err := s.Audit.Log(r.Context(), audit.Entry{
		UserID:     &userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		RequestID:  httpx.RequestIDFromContext(r.Context()),
		Metadata:   metadata,
	})
	if err != nil {
		s.Logger.Warn("audit_write_failed", "action", action, "error", err)
	}
}

func dateOnly(t time.Time) openapi_types.Date {
	utc := t.UTC()
	return openapi_types.Date{Time: time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)}
}

func ptr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func optionalEmail(v string) *openapi_types.Email {
	if v == "" {
		return nil
	}
	e := openapi_types.Email(v)
	return &e
}

func requestID(r *http.Request) string {
	return httpx.RequestIDFromContext(r.Context())
}
