package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/auth"
)

// RequireAdmin only lets logged-in admin sessions through. Everyone else gets
// a JSON 401.
func RequireAdmin(sessions *auth.Sessions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok, err := sessions.User(r.Context(), r)
			if err != nil {
				zap.L().Warn("Session lookup failed", zap.Error(err), zap.String("path", r.URL.Path))
			}
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"error":"Authentication required"}`))
				return
			}

			zap.L().Debug("Admin request", zap.String("user", user), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}
