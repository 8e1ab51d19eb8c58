package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/decodestudio/decodeauth/internal/auth"
)

// APIError represents a structured API error response
type APIError struct {
	Success bool   `json:"success"`
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeSuccess writes fields alongside "success": true, the shape the
// frontend reads ({success, token, user}).
func writeSuccess(w http.ResponseWriter, status int, fields map[string]interface{}) {
	body := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	writeJSON(w, status, body)
}

const (
	msgLoginRequired = "please login to access this resource"
	msgForbidden     = "you are not allowed to access this resource"
	msgInternal      = "internal server error"
)

// fail maps an error from the auth core or storage onto an HTTP response.
// Anything unrecognized is a 500 whose text is only exposed outside
// production.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error())
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, auth.ErrDuplicateIdentity):
		writeError(w, http.StatusBadRequest, "DUPLICATE_EMAIL", "Email already exists")
	case errors.Is(err, auth.ErrNoCredential), errors.Is(err, auth.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgLoginRequired)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", msgForbidden)
	case errors.Is(err, errUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
	default:
		a.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		body := APIError{Code: "INTERNAL_ERROR", Message: msgInternal}
		if !a.Config.IsProduction() {
			body.Details = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}
