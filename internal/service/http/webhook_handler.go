package httpsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// WebhookResponse — ответ на принятый вебхук.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Result   string `json:"result"`
}

// POST /stripe-webhook
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLog(r)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_argument", "cannot read request body")
		return
	}

	event, err := s.webhooks.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logger.WithError(err).Warn("webhook rejected")
		s.metrics.RecordWebhookEvent("unknown", "rejected")
		respondDomainError(w, logger, err)
		return
	}
	logger = logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"session_id": event.SessionID,
	})

	key := "stripe-event:" + event.ID
	if s.idempotency != nil {
		replayed, done := s.claimEvent(r.Context(), w, key, payload, logger)
		if done {
			if replayed {
				s.metrics.RecordWebhookEvent(event.Type, "duplicate")
			}
			return
		}
	}

	result, err := s.dispatchEvent(r.Context(), event)
	if err != nil {
		logger.WithError(err).Error("webhook processing failed")
		s.metrics.RecordWebhookEvent(event.Type, "error")
		status, code := statusFor(err)
		if status < http.StatusInternalServerError {
			// Провайдер повторяет доставку только на 5xx; ошибки клиента повторять бессмысленно.
			status, code = http.StatusOK, "ignored"
		}
		body := ErrorResponse{Error: http.StatusText(status), Code: code}
		s.finishEvent(r.Context(), key, body, status, false, logger)
		respondJSON(w, status, body)
		return
	}

	s.metrics.RecordWebhookEvent(event.Type, result)
	body := WebhookResponse{Received: true, Result: result}
	s.finishEvent(r.Context(), key, body, http.StatusOK, true, logger)
	respondJSON(w, http.StatusOK, body)
}

// dispatchEvent выполняет действие для типа события и возвращает метку результата.
func (s *Server) dispatchEvent(ctx context.Context, event domain.PaymentEvent) (string, error) {
	switch event.Type {
	case domain.EventSessionCompleted, domain.EventSessionAsyncPaymentSucceeded:
		settlement, err := s.checkout.Settle(ctx, event.SessionID)
		if err != nil {
			return "", err
		}
		return string(settlement.Outcome), nil
	case domain.EventSessionExpired, domain.EventSessionAsyncPaymentFailed:
		if err := s.checkout.Expire(ctx, event.SessionID, event.Type); err != nil {
			return "", err
		}
		return "released", nil
	default:
		return "ignored", nil
	}
}

// claimEvent занимает ключ события. done=true означает, что ответ уже записан.
func (s *Server) claimEvent(ctx context.Context, w http.ResponseWriter, key string, payload []byte, logger *log.Entry) (replayed, done bool) {
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	_, err := s.idempotency.CreateProcessing(ctx, key, hash, time.Now().UTC().Add(s.webhookTTL))
	switch {
	case err == nil:
		return false, false
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		record, getErr := s.idempotency.Get(ctx, key)
		if getErr != nil {
			logger.WithError(getErr).Error("failed to load webhook idempotency record")
			respondError(w, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
			return false, true
		}
		if record.Status == domain.IdempotencyStatusDone {
			logger.Debug("webhook event already processed")
			respondJSON(w, http.StatusOK, WebhookResponse{Received: true, Result: "duplicate"})
			return true, true
		}
		respondError(w, http.StatusConflict, "in_progress", "event is being processed")
		return true, true
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		logger.Warn("webhook event id reused with a different payload")
		respondError(w, http.StatusConflict, "idempotency_conflict", "event payload mismatch")
		return true, true
	default:
		logger.WithError(err).Error("failed to claim webhook event")
		respondError(w, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
		return false, true
	}
}

func (s *Server) finishEvent(ctx context.Context, key string, body any, status int, ok bool, logger *log.Entry) {
	if s.idempotency == nil {
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		logger.WithError(err).Warn("failed to marshal webhook response")
		return
	}

	mark := s.idempotency.MarkDone
	if !ok && status >= http.StatusInternalServerError {
		mark = s.idempotency.MarkFailed
	}
	if err := mark(ctx, key, raw, status); err != nil {
		logger.WithError(err).Warn("failed to update webhook idempotency record")
	}
}
