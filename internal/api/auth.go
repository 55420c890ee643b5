package api

import (
	"fmt"
	"net/http"

	"github.com/mattjoyce/telbridge/internal/auth"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.principalHas(r, scopes...) {
				s.writeError(w, http.StatusForbidden, fmt.Sprintf("token lacks scope %v", scopes))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) principalHas(r *http.Request, scopes ...string) bool {
	p, ok := auth.PrincipalFromContext(r.Context())
	return ok && auth.HasAnyScope(p, scopes...)
}
