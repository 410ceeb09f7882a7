package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mrkniai/backend/internal/auth"
	"github.com/mrkniai/backend/internal/logging"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Authenticate rejects requests without a valid bearer token with a JSON 401 and stores the
// caller's identity on the request context otherwise.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.FromContext(r.Context())
			if verifier == nil {
				logger.Error("authentication is not configured")
				writeError(w, http.StatusUnauthorized, "authentication is not configured")
				return
			}

			id, err := verifier.Verify(auth.BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				message := "authentication required"
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					message = "session expired"
				case errors.Is(err, auth.ErrNotConfigured):
					logger.Error("authentication is not configured")
					message = "authentication is not configured"
				}
				logger.Warn("request rejected", "status", http.StatusUnauthorized, "error", err)
				writeError(w, http.StatusUnauthorized, message)
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			ctx = logging.WithLogger(ctx, logger.With("user_id", id.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
