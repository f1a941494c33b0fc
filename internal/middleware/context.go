package middleware

import (
	"context"
	"time"
)

type Actor struct {
	SessionID          string
	UserID             string
	Email              string
	FullName           string
	CSRFToken          string
	ExpiresAt          time.Time
	OnboardingStep     int
	OnboardingComplete bool
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	accessLogKey contextKey = "access_log"
)

// accessLog carries fields resolved further down the chain back up to the
// Logging middleware.
type accessLog struct {
	userID string
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	if entry, ok := ctx.Value(accessLogKey).(*accessLog); ok {
		entry.userID = actor.UserID
	}
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(actorKey).(Actor)
	return v, ok
}
