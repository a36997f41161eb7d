package httpsvc

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// statusFor переводит доменную ошибку в HTTP-статус и машинный код.
// Ошибка провайдера проверяется первой: она может оборачивать ErrSessionNotFound.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUpstreamPayment):
		return http.StatusBadGateway, "upstream_payment_error"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrInvalidPricing):
		return http.StatusUnprocessableEntity, "invalid_pricing"
	case errors.Is(err, domain.ErrItemQtyInvalid):
		return http.StatusBadRequest, "invalid_quantity"
	case domain.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrSessionIDRequired), errors.Is(err, domain.ErrWebhookSignature):
		return http.StatusBadRequest, "invalid_argument"
	case domain.IsIdempotencyConflict(err):
		return http.StatusConflict, "idempotency_conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondDomainError пишет ответ по доменной ошибке; внутренние детали 5xx не раскрываются.
func respondDomainError(w http.ResponseWriter, logger *log.Entry, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("status", status).Error("request failed")
		message = http.StatusText(status)
	}
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}
