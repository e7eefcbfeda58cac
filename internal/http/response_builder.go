package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"expensemanager/internal/core"
	"expensemanager/internal/services"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResponseBuilder provides a fluent API for building API responses.
type ResponseBuilder struct {
	statusCode  int
	headers     map[string]string
	body        []byte
	contentType string
	payload     *envelope
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets a successful envelope around v.
func (b *ResponseBuilder) Data(v any) *ResponseBuilder {
	b.payload = &envelope{Success: true, Data: v}
	return b
}

// Fail sets a failed envelope carrying message.
func (b *ResponseBuilder) Fail(message string) *ResponseBuilder {
	b.payload = &envelope{Success: false, Error: message}
	return b
}

// Body sets a raw body, replacing any envelope.
func (b *ResponseBuilder) Body(contentType string, content []byte) *ResponseBuilder {
	b.payload = nil
	b.contentType = contentType
	b.body = content
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	body := b.body
	contentType := b.contentType
	if b.payload != nil {
		encoded, err := json.Marshal(b.payload)
		if err != nil {
			slog.Error("Failed to encode response", "error", err)
			b.statusCode = http.StatusInternalServerError
			encoded = []byte(`{"success":false,"error":"internal error"}`)
		}
		body = append(encoded, '\n')
		contentType = "application/json; charset=utf-8"
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(b.statusCode)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

// OK wraps v in a 200 envelope.
func OK(v any) *ResponseBuilder {
	return NewResponse().Data(v)
}

// Created wraps v in a 201 envelope.
func Created(v any) *ResponseBuilder {
	return NewResponse().Status(http.StatusCreated).Data(v)
}

func ErrorResponse(statusCode int, message string) *ResponseBuilder {
	return NewResponse().Status(statusCode).Fail(message)
}

func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func UnauthorizedError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, message).Header("WWW-Authenticate", `Bearer realm="ledger"`)
}

func ForbiddenError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusForbidden, message)
}

func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func InternalServerError() *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal error")
}

// ErrorFor maps a service error onto a response: validation 400, bad
// credentials or session 401, unknown user 404, duplicates 409, anything
// else 500 without details.
func ErrorFor(err error) *ResponseBuilder {
	switch {
	case errors.Is(err, core.ErrValidation):
		return BadRequestError(err.Error())
	case errors.Is(err, core.ErrInvalidCredential):
		return UnauthorizedError("invalid credentials")
	case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, services.ErrSessionClosed):
		return UnauthorizedError(err.Error())
	case errors.Is(err, core.ErrUserNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, core.ErrDuplicateUser), errors.Is(err, core.ErrDuplicateTransaction):
		return ErrorResponse(http.StatusConflict, err.Error())
	default:
		return InternalServerError()
	}
}
