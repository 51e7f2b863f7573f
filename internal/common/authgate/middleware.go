package authgate

import (
	"context"
	"net/http"
	"strings"

	commonhttp "github.com/boxchat/authd/internal/common/http"
	"github.com/boxchat/authd/internal/common/logger"
	"github.com/boxchat/authd/internal/common/token"
	"github.com/boxchat/authd/internal/observability/metrics"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// Verifier is the slice of the token codec the gate needs.
type Verifier interface {
	Verify(tokenString string) (token.Claims, error)
}

// Middleware rejects unauthenticated requests to every path outside the
// configured public prefixes. Missing header, malformed token, bad
// signature and expiry all produce the same 401.
func Middleware(codec Verifier, publicPrefixes []string, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path, publicPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			raw := r.Header.Get("Authorization")
			if raw == "" {
				log.Warnf("auth gate: missing authorization header path=%s", r.URL.Path)
				commonhttp.WriteError(w, http.StatusUnauthorized, "missing or invalid authorization")
				return
			}

			tokenString := strings.TrimPrefix(raw, "Bearer ")

			metrics.JWTValidationsTotal.Inc()
			claims, err := codec.Verify(tokenString)
			if err != nil {
				metrics.JWTValidationsFailed.Inc()
				log.Warnf("auth gate: token rejected path=%s", r.URL.Path)
				commonhttp.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the claims attached by the middleware, if the
// request passed through an authenticated route.
func FromContext(ctx context.Context) (token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(token.Claims)
	return claims, ok
}

func isPublicPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
