package middleware

import (
	"net/http"

	"github.com/gentlechase/api/internal/httpx"
)

// RequireOnboarding rejects requests from users who have not finished the
// onboarding wizard. Must run after RequireAuth.
func RequireOnboarding(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
			return
		}
		if !actor.OnboardingComplete {
			httpx.WriteError(w, r, http.StatusConflict, "onboarding_required", "Finish onboarding first",
				map[string]int{"step": actor.OnboardingStep})
			return
		}
		next.ServeHTTP(w, r)
	})
}
