package middleware

import (
	"context"
	"net/http"
	"strings"

	appctx "github.com/flowmetrics/activity-aggregator/internal/pkg/context"
	"github.com/flowmetrics/activity-aggregator/internal/security"
	"github.com/flowmetrics/activity-aggregator/internal/transport/http/response"
)

type subjectKey struct{}

// Subject returns the bearer token subject Auth attached to the request
// context, or "" if the request was never authenticated.
func Subject(r *http.Request) string {
	if v, ok := r.Context().Value(subjectKey{}).(string); ok {
		return v
	}
	return ""
}

// Auth requires a valid HS256 bearer token on every request it guards.
// Both /stats routes sit behind it per the observability surface contract.
type Auth struct {
	verifier security.AccessTokenVerifier
}

func NewAuth(verifier security.AccessTokenVerifier) *Auth {
	return &Auth{verifier: verifier}
}

func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := appctx.GetRequestID(r.Context())

		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			response.Fail(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", rid)
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		claims, err := a.verifier.VerifyAccessToken(raw)
		if err != nil {
			response.Fail(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token", rid)
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
