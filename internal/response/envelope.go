// Package response writes the JSON envelope every sar endpoint answers with.
package response

import (
	"encoding/json"
	"net/http"

	"sar/internal/apperr"
)

type Envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(env)
}

func Success(w http.ResponseWriter, statusCode int, message string, data any) {
	WriteJSON(w, statusCode, Envelope{Status: true, Message: message, Data: data})
}

func OK(w http.ResponseWriter, data any) {
	Success(w, http.StatusOK, "ok", data)
}

func Created(w http.ResponseWriter, data any) {
	Success(w, http.StatusCreated, "created", data)
}

func Error(w http.ResponseWriter, statusCode int, code, message string) {
	WriteJSON(w, statusCode, Envelope{Status: false, Message: message, Code: code})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", message)
}

func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, "FORBIDDEN", message)
}

// Err maps err through the apperr taxonomy. Internal errors are answered
// with a generic message; the caller logs the detail.
func Err(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	Error(w, status, apperr.Code(err), msg)
}
