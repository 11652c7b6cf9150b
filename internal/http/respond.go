package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/period"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

var validationErrors = []error{
	period.ErrInvalidPeriod,
	period.ErrInvalidStartDay,
	core.ErrInvalidDay,
	core.ErrInvalidAmount,
	core.ErrEmptyName,
	core.ErrNameTooLong,
	core.ErrInvalidBucketKind,
	core.ErrMissingPeriod,
	core.ErrMissingAccount,
	core.ErrMissingBucket,
	core.ErrInvalidOrder,
	errBadRequest,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) (int, string) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, log.ErrorTypeValidation
		}
	}
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, log.ErrorTypeNotFound
	case errors.Is(err, core.ErrBucketInUse), errors.Is(err, core.ErrConflict):
		return http.StatusConflict, log.ErrorTypeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, log.ErrorTypeTimeout
	default:
		return http.StatusInternalServerError, log.ErrorTypeInternal
	}
}

// writeError logs err and answers with its mapped status. Internal errors
// are not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := statusFor(err)
	ctx := r.Context()
	logger := log.FromContext(ctx)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "Request failed", log.FieldError, err, log.FieldErrorType, errType)
		msg = http.StatusText(status)
	} else {
		logger.DebugContext(ctx, "Request rejected", log.FieldError, err, log.FieldErrorType, errType)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: body must contain a single JSON object", errBadRequest)
	}
	return nil
}
