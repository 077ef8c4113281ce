package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is package-private so no other package can shadow the subject.
type contextKey string

const subjectKey contextKey = "subject"

var errNoBearer = errors.New("auth: missing bearer token")

// RequireAuth rejects requests without a valid bearer token with 401 and
// stores the token subject in the request context otherwise.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
//
// Browsers cannot set headers on a websocket handshake, so the token is
// also accepted from the access_token query parameter.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := extractSubject(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="blitz"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid bearer token required"}`))
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the authenticated caller, or ("", false) when
// the request was not authenticated.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}

func extractSubject(r *http.Request, tokens *TokenService) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", errNoBearer
	}
	return tokens.Validate(raw)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}
