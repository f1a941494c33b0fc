package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/gentlechase/api/internal/auth"
	"github.com/gentlechase/api/internal/httpx"
	"github.com/gentlechase/api/internal/middleware"
	"github.com/gentlechase/api/internal/store"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	FullName string `json:"fullName" validate:"required,max=200"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID                 openapi_types.UUID  `json:"id"`
	Email              openapi_types.Email `json:"email"`
	FullName           string              `json:"fullName"`
	OnboardingStep     int                 `json:"onboardingStep"`
	OnboardingComplete bool                `json:"onboardingComplete"`
}

type authSessionResponse struct {
	User      userResponse `json:"user"`
	CSRFToken string       `json:"csrfToken"`
}

func (s *Server) PostAuthSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := auth.CheckPasswordPolicy(req.Password); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Password does not meet requirements",
			map[string]string{"password": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to hash password", nil)
		return
	}
	user, err := s.Store.CreateUser(r.Context(), store.CreateUserParams{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			httpx.WriteError(w, r, http.StatusConflict, "email_taken", "An account with this email already exists", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create account", nil)
		return
	}

	csrf, ok := s.startSession(w, r, user.ID)
	if !ok {
		return
	}
	s.logAudit(r, user.ID, "auth.signup", "user", ptr(user.ID), nil)

	httpx.WriteJSON(w, http.StatusCreated, authSessionResponse{
		User: userResponse{
			ID:             user.ID,
			Email:          openapi_types.Email(user.Email),
			FullName:       user.FullName,
			OnboardingStep: 1,
		},
		CSRFToken: csrf,
	})
}

func (s *Server) PostAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load user", nil)
		return
	}
	if err != nil || !user.IsActive {
		httpx.WriteError(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
		return
	}
	match, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Password verification failed", nil)
		return
	}
	if !match {
		httpx.WriteError(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
		return
	}

	if old, err := r.Cookie(s.Config.SessionCookieName); err == nil && old.Value != "" {
		_ = s.Store.RevokeSessionByTokenHash(r.Context(), auth.HashToken(old.Value))
	}

	csrf, ok := s.startSession(w, r, user.ID)
	if !ok {
		return
	}
	s.logAudit(r, user.ID, "auth.login", "session", nil, nil)

	profile, err := s.Store.GetProfile(r.Context(), user.ID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load profile", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authSessionResponse{
		User: userResponse{
			ID:                 user.ID,
			Email:              openapi_types.Email(user.Email),
			FullName:           user.FullName,
			OnboardingStep:     profile.OnboardingStep,
			OnboardingComplete: profile.OnboardingComplete,
		},
		CSRFToken: csrf,
	})
}

// startSession persists a new session and sets its cookie. It returns the
// session's CSRF token.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, userID uuid.UUID) (string, bool) {
	tokens, err := auth.NewSessionTokens()
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create session", nil)
		return "", false
	}
	expires := time.Now().Add(s.Config.SessionTTL)
	if _, err := s.Store.CreateSession(r.Context(), store.CreateSessionParams{
		UserID:    userID,
		TokenHash: auth.HashToken(tokens.Session),
		CSRFToken: tokens.CSRF,
		ExpiresAt: expires,
	}); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to save session", nil)
		return "", false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.Config.SessionCookieName,
		Value:    tokens.Session,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Config.SecureCookies,
		Expires:  expires,
	})
	return tokens.CSRF, true
}

func (s *Server) PostAuthLogout(w http.ResponseWriter, r *http.Request) {
	actor, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(actor.SessionID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid session", nil)
		return
	}

	if err := s.Store.RevokeSession(r.Context(), sessionID, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to revoke session", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.Config.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Config.SecureCookies,
		MaxAge:   -1,
	})
	s.logAudit(r, userID, "auth.logout", "session", ptr(sessionID), nil)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetAuthMe(w http.ResponseWriter, r *http.Request) {
	actor, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authSessionResponse{
		User: userResponse{
			ID:                 userID,
			Email:              openapi_types.Email(actor.Email),
			FullName:           actor.FullName,
			OnboardingStep:     actor.OnboardingStep,
			OnboardingComplete: actor.OnboardingComplete,
		},
		CSRFToken: actor.CSRFToken,
	})
}

func (s *Server) GetAuthCsrf(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"csrfToken": actor.CSRFToken})
}
