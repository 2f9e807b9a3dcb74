package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth rejects requests whose Authorization header does not carry token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			auth := r.Header.Get("Authorization")
			if token == "" || !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ScopeGate is the scope allow list. A nil or empty gate admits every
// scope, and requests without a scope are always admitted.
type ScopeGate struct {
	allowed map[string]struct{}
}

func NewScopeGate(scopes []string) *ScopeGate {
	g := &ScopeGate{allowed: make(map[string]struct{}, len(scopes))}
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			g.allowed[s] = struct{}{}
		}
	}
	return g
}

func (g *ScopeGate) Allowed(scope string) bool {
	if g == nil || len(g.allowed) == 0 || scope == "" {
		return true
	}
	_, ok := g.allowed[scope]
	return ok
}
