// Package response writes the admission surface's JSON wire shapes.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorBody is the standard error response format.
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON sends data with the given status code.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// OK sends a 200 OK response with JSON data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created sends a 201 Created response with JSON data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Error sends an error response with the given status code.
func Error(w http.ResponseWriter, statusCode int, message string) {
	JSON(w, statusCode, ErrorBody{Error: message})
}

// BadRequest sends a 400 Bad Request error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound sends a 404 Not Found error.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError sends a 500 Internal Server Error.
// The underlying error is logged server-side; the client gets a generic
// message to avoid leaking internals.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err)
	}
	Error(w, http.StatusInternalServerError, "an internal error occurred")
}
