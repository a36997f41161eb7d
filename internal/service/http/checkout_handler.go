package httpsvc

import (
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

// CreateSessionResponse — ответ create-session. Заполнено ровно одно из ClientSecret и RedirectURL.
type CreateSessionResponse struct {
	SessionID    string `json:"session_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
}

// SessionStatusResponse — ответ session-status.
type SessionStatusResponse struct {
	Status        string `json:"status"`
	CustomerEmail string `json:"customer_email"`
	SessionID     string `json:"session_id"`
	OrderID       string `json:"order_id,omitempty"`
	NextAction    string `json:"next_action,omitempty"`
}

// GET|POST /payment/create-session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	start, err := s.checkout.CreateSession(r.Context(), checkout.CreateSessionInput{
		UserID:         auth.UserIDFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		respondDomainError(w, s.requestLog(r), err)
		return
	}

	resp := CreateSessionResponse{SessionID: start.SessionID}
	if start.Mode == domain.UIModeHosted {
		resp.RedirectURL = start.RedirectURL
	} else {
		resp.ClientSecret = start.ClientSecret
	}
	respondJSON(w, http.StatusOK, resp)
}

// GET /payment/session-status?session_id=
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	s.sessionStatus(w, r, auth.UserIDFromContext(r.Context()))
}

// GET /payment/public/session-status?session_id=
// Идентификатор пользователя из запроса не принимается: владелец берётся из сессии провайдера.
func (s *Server) handlePublicSessionStatus(w http.ResponseWriter, r *http.Request) {
	s.sessionStatus(w, r, "")
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request, callerUserID string) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", "session_id is required")
		return
	}

	settlement, err := s.checkout.GetStatus(r.Context(), sessionID, callerUserID)
	if err != nil {
		respondDomainError(w, s.requestLog(r), err)
		return
	}
	respondJSON(w, http.StatusOK, toStatusResponse(settlement))
}

func toStatusResponse(s checkout.Settlement) SessionStatusResponse {
	return SessionStatusResponse{
		Status:        string(s.Status),
		CustomerEmail: s.BuyerEmail,
		SessionID:     s.SessionID,
		OrderID:       s.OrderID,
		NextAction:    s.NextAction,
	}
}
