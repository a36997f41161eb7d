package httpsvc

import (
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
)

// authenticate проверяет заголовок Authorization, если он есть. Без заголовка запрос идёт дальше анонимно.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := auth.BearerToken(header)
		if !ok || s.tokens == nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
			return
		}
		userID, err := s.tokens.Verify(raw)
		if err != nil {
			s.logger.WithError(err).Debug("rejected bearer token")
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

// requireUser пропускает только аутентифицированные запросы.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserIDFromContext(r.Context()) == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
