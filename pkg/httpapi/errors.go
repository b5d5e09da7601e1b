package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/raywall/gifted-service/dyndb"
	"github.com/raywall/gifted-service/pkg/accounts"
	"github.com/raywall/gifted-service/pkg/gifts"
	"github.com/raywall/gifted-service/pkg/newsletter"
	"github.com/raywall/gifted-service/pkg/reconciler"
	"github.com/raywall/gifted-service/pkg/session"
	"github.com/raywall/gifted-service/pkg/storage"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v81"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

var errBadBody = errors.New("httpapi: malformed request body")

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var badRequest = []error{
	errBadBody,
	reconciler.ErrInvalidSignature,
	newsletter.ErrInvalidEmail,
	newsletter.ErrInvalidLink,
	newsletter.ErrInvalidToken,
	newsletter.ErrInvalidNotification,
	gifts.ErrInvalidStatus,
	gifts.ErrInvalidRange,
	accounts.ErrWeakPassword,
	storage.ErrUnsupportedImage,
}

// StatusFor maps a service error to its HTTP status and reason code.
func StatusFor(err error) (int, string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, "validation_failed"
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest, "bad_request"
		}
	}

	switch {
	case errors.Is(err, session.ErrUnauthenticated), errors.Is(err, accounts.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, session.ErrForbidden), errors.Is(err, reconciler.ErrForbidden),
		errors.Is(err, newsletter.ErrTopicMismatch):
		return http.StatusForbidden, "forbidden"
	case reconciler.IsDataIntegrity(err):
		return http.StatusUnprocessableEntity, "data_integrity"
	case errors.Is(err, dyndb.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, dyndb.ErrAlreadyExists), errors.Is(err, newsletter.ErrUnsubscribed):
		return http.StatusConflict, "conflict"
	case dyndb.IsRetryable(err):
		return http.StatusServiceUnavailable, "unavailable"
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
		return http.StatusNotFound, "not_found"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs err and answers with its mapped status. Internal errors
// never leak their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, reason := StatusFor(err)
	msg := err.Error()

	logger := log.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = http.StatusText(status)
	} else {
		logger.Info().Err(err).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, ErrorBody{Error: reason, Message: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}
