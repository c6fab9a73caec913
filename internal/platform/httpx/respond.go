// Package httpx provides HTTP response utilities shared by all handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the success response shape shared by every endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

// ErrorBody is the error response shape shared by every endpoint.
type ErrorBody struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Error   string       `json:"error,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError describes a single request validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK sends a success envelope with status 200.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// Created sends a success envelope with status 201.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// OKMessage sends a success envelope with a human readable message.
func OKMessage(w http.ResponseWriter, data any, message string) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

// DecodeJSON decodes the JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
