package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Email        string
	FullName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

type CreateUserParams struct {
	Email        string
	FullName     string
	PasswordHash string
}

// CreateUser inserts the account and its empty profile. A taken email
// yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, p CreateUserParams) (User, error) {
	var u User
	err := s.WithTx(ctx, func(tx *Store) error {
		err := tx.db.QueryRow(ctx, `
			INSERT INTO users (email, full_name, password_hash)
			VALUES ($1, $2, $3)
			RETURNING id, email, full_name, password_hash, is_active, created_at
		`, strings.TrimSpace(p.Email), strings.TrimSpace(p.FullName), p.PasswordHash).
			Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.db.Exec(ctx, `INSERT INTO profiles (user_id, business_email) VALUES ($1, $2)`, u.ID, u.Email); err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		return nil
	})
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, full_name, password_hash, is_active, created_at
		FROM users
		WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

type CreateSessionParams struct {
	UserID    uuid.UUID
	TokenHash string
	CSRFToken string
	ExpiresAt time.Time
}

func (s *Store) CreateSession(ctx context.Context, p CreateSessionParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (user_id, token_hash, csrf_token, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, p.UserID, p.TokenHash, p.CSRFToken, p.ExpiresAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// SessionPrincipal is the authenticated user behind a live session.
type SessionPrincipal struct {
	SessionID          uuid.UUID
	UserID             uuid.UUID
	Email              string
	FullName           string
	CSRFToken          string
	ExpiresAt          time.Time
	OnboardingStep     int
	OnboardingComplete bool
}

func (s *Store) GetSessionPrincipal(ctx context.Context, tokenHash string) (SessionPrincipal, error) {
	var p SessionPrincipal
	err := s.db.QueryRow(ctx, `
		SELECT s.id, u.id, u.email, u.full_name, s.csrf_token, s.expires_at,
		       COALESCE(p.onboarding_step, 1), COALESCE(p.onboarding_complete, FALSE)
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE s.token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		  AND u.is_active
	`, tokenHash).Scan(&p.SessionID, &p.UserID, &p.Email, &p.FullName, &p.CSRFToken, &p.ExpiresAt,
		&p.OnboardingStep, &p.OnboardingComplete)
	if err != nil {
		return SessionPrincipal{}, notFound(err)
	}
	return p, nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE sessions SET last_seen_at = now() WHERE id = $1`, sessionID)
	return err
}

func (s *Store) RevokeSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions SET revoked_at = now()
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := s.db.Exec(ctx, `UPDATE sessions SET revoked_at = now() WHERE token_hash = $1 AND revoked_at IS NULL`, tokenHash)
	return err
}
