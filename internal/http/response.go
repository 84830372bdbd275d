package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/fjod/go_cart/cart-api/internal/domain"
)

const (
	msgUnauthenticated     = "User not authenticated"
	msgUpstreamUnavailable = "Failed to connect to Product Service"
	msgInvalidBody         = "Invalid request body"
	msgInternal            = "Internal server error"
)

type messageResponse struct {
	Message string `json:"message"`
}

type cartResponse struct {
	Message string       `json:"message"`
	Cart    *domain.Cart `json:"cart"`
}

type summaryResponse struct {
	Message string         `json:"message"`
	Summary domain.Summary `json:"summary"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, r, status, messageResponse{Message: message})
}

// respondServiceError maps the error taxonomy onto a status and a client-facing message.
// Store and other unclassified failures are logged and never echoed back.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
	} else {
		logger.Info().Err(err).Int("status", status).Msg("request rejected")
	}
	respondError(w, r, status, message)
}

func errorStatus(err error) (int, string) {
	var stockErr *domain.InsufficientStockError
	var rejected *domain.UpstreamRejectedError

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, msgUnauthenticated
	case errors.As(err, &stockErr):
		return http.StatusBadRequest, stockErr.Error()
	case errors.As(err, &rejected):
		return http.StatusBadRequest, rejected.Error()
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadRequest, msgUpstreamUnavailable
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusBadRequest, sentence(err.Error())
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func sentence(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
