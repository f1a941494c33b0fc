package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is what gets persisted for a session cookie value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

type SessionTokens struct {
	Session string
	CSRF    string
}

func NewSessionTokens() (SessionTokens, error) {
	session, err := GenerateToken()
	if err != nil {
		return SessionTokens{}, fmt.Errorf("session token: %w", err)
	}
	csrf, err := GenerateToken()
	if err != nil {
		return SessionTokens{}, fmt.Errorf("csrf token: %w", err)
	}
	return SessionTokens{Session: session, CSRF: csrf}, nil
}
