package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"kpiprogress/internal/core"
	"kpiprogress/internal/services"
)

// ResponseBuilder provides a fluent API for JSON responses.
type ResponseBuilder struct {
	statusCode int
	headers    map[string]string
	payload    any
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.payload = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.payload == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	body, err := json.Marshal(b.payload)
	if err != nil {
		slog.Error("Response encoding failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(body, '\n'))
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorResponse creates a JSON error response.
func ErrorResponse(statusCode int, code, message string) *ResponseBuilder {
	return NewResponse().Status(statusCode).JSON(errorBody{Error: message, Code: code})
}

var (
	errSessionNotFound = errors.New("session not found")
	errBadRequest      = errors.New("bad request")
	errYearMismatch    = errors.New("edit addressed to a year that is not selected")
)

// classifyError maps an editing error to a status code and a stable code
// string for clients.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, errSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, errYearMismatch):
		return http.StatusConflict, "year_mismatch"
	case errors.Is(err, core.ErrNoOptions):
		return http.StatusConflict, "no_options"
	case errors.Is(err, core.ErrUnknownYear):
		return http.StatusUnprocessableEntity, "unknown_year"
	case errors.Is(err, core.ErrInvalidReading):
		return http.StatusUnprocessableEntity, "invalid_reading"
	case errors.Is(err, core.ErrInvalidMonth):
		return http.StatusUnprocessableEntity, "invalid_month"
	case errors.Is(err, services.ErrLoad), errors.Is(err, core.ErrDuplicateYear):
		return http.StatusBadGateway, "load_failed"
	case errors.Is(err, services.ErrSave):
		return http.StatusBadGateway, "save_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// errorResponse builds the JSON error for err. Internal failures are not
// echoed to the client.
func errorResponse(err error) *ResponseBuilder {
	status, code := classifyError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return ErrorResponse(status, code, msg)
}
