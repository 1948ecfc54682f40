// Package middleware holds the relay's HTTP middleware.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/matiasleandrokruk/velune/internal/api/ctxkeys"
	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

// Authorizer decides whether a presented token may use the relay.
// relay.Validator satisfies this interface.
type Authorizer interface {
	Authorize(token string) error
}

// Token reads the access token from header, rejects it with 401 when authz
// refuses it, and injects it into the context under ctxkeys.Token.
//
// A disabled policy accepts every token, including the empty one.
func Token(header string, authz Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(header))
			if err := authz.Authorize(token); err != nil {
				writeUnauthorized(w, relay.Detail(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithValue(r.Context(), ctxkeys.Token, token)))
		})
	}
}

// writeUnauthorized writes a 401 in the same {"detail": ...} shape as the handlers.
func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail}) //nolint:errcheck
}
