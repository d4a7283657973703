package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"todoshare/auth"
	"todoshare/models"
	"todoshare/service"
	"todoshare/store"
)

const (
	msgUnauthorized = "Could not validate credentials"
	msgNotFound     = "Task does not exist or not enough permissions"
	msgForbidden    = "Only the owner can update permissions"
	msgConflict     = "Username already registered"
	msgInternal     = "Internal server error"
)

var errTooManyAttempts = errors.New("too many login attempts")

type detail struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, detail{Detail: msg})
}

func writeUnauthorized(w http.ResponseWriter, status int) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, status, msgUnauthorized)
}

// writeError maps err to a status code and a client-safe message. Anything
// unclassified is logged and answered with 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeDetail(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpired):
		writeUnauthorized(w, http.StatusUnauthorized)
	case errors.Is(err, errTooManyAttempts):
		writeUnauthorized(w, http.StatusTooManyRequests)
	case errors.Is(err, service.ErrForbidden):
		writeDetail(w, http.StatusForbidden, msgForbidden)
	case errors.Is(err, service.ErrNotFound):
		writeDetail(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, store.ErrConflict):
		writeDetail(w, http.StatusConflict, msgConflict)
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
		)
		writeDetail(w, http.StatusInternalServerError, msgInternal)
	}
}

// decodeJSON reads a single JSON object from the body. Malformed bodies are
// reported as validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return &models.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}
