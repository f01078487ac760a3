// Package httpx holds the JSON envelope, the error-to-status mapping and the middleware
// shared by every handler.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/circuitbreaker"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
)

// ErrorBody is the envelope of every failed request.
type ErrorBody struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	Conflict bool              `json:"conflict,omitempty"`
	Order    *models.Order     `json:"order,omitempty"`
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"message":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorBody{Success: false, Message: message})
}

// MaxBodyBytes caps every JSON request body.
const MaxBodyBytes = 1 << 20

// DecodeJSON reads a single JSON value into dst. Bodies over MaxBodyBytes and trailing
// data after the value are rejected.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.NewValidationError("body", fmt.Sprintf("must be at most %d bytes", MaxBodyBytes))
		}
		return apperr.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if dec.More() {
		return apperr.NewValidationError("body", "unexpected data after the JSON value")
	}
	return nil
}

// StatusFor maps an error from the service layer to its HTTP status and envelope.
func StatusFor(err error) (int, ErrorBody) {
	body := ErrorBody{Success: false}

	var (
		validation *apperr.ValidationError
		authz      *apperr.AuthorizationError
		invalid    *apperr.InvalidTransitionError
		conflict   *apperr.ConflictError
		submission *apperr.SubmissionError
		persist    *apperr.PersistenceError
	)

	switch {
	case errors.As(err, &validation):
		body.Message = "Invalid request"
		body.Fields = validation.Fields
		return http.StatusBadRequest, body
	case errors.Is(err, apperr.ErrUnauthenticated), errors.Is(err, apperr.ErrBadCredentials):
		body.Message = err.Error()
		return http.StatusUnauthorized, body
	case errors.Is(err, apperr.ErrInactive):
		body.Message = err.Error()
		return http.StatusForbidden, body
	case errors.As(err, &authz):
		body.Message = authz.Error()
		return http.StatusForbidden, body
	case errors.As(err, &invalid):
		body.Message = invalid.Error()
		body.Order = invalid.Current
		return http.StatusConflict, body
	case errors.As(err, &conflict):
		body.Message = "Order was already taken or changed"
		body.Conflict = true
		body.Order = conflict.Current
		return http.StatusConflict, body
	case errors.Is(err, apperr.ErrNotFound):
		body.Message = "Not found"
		return http.StatusNotFound, body
	case errors.Is(err, apperr.ErrEmailTaken), errors.Is(err, apperr.ErrAlreadyExists):
		body.Message = err.Error()
		return http.StatusConflict, body
	case errors.As(err, &submission):
		body.Message = "Failed to submit order"
		return http.StatusInternalServerError, body
	case errors.As(err, &persist):
		body.Message = "Storage error"
		return http.StatusInternalServerError, body
	case errors.Is(err, circuitbreaker.ErrOpen):
		body.Message = "Service temporarily unavailable"
		return http.StatusServiceUnavailable, body
	default:
		body.Message = "Internal server error"
		return http.StatusInternalServerError, body
	}
}

// Fail writes err as a JSON envelope. Server-side failures are logged with their cause;
// the client only sees the generic message.
func Fail(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, err error) {
	code, body := StatusFor(err)
	entry := logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": code,
	}).WithError(err)
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	RespondWithJSON(w, code, body)
}
