// Package http provides the Spendly web server: pages, the live dashboard
// stream and the HTMX endpoints that mutate expenses.
//
// This file implements the Builder Pattern for constructing HTMX responses.
// It provides a fluent API for building HX-Trigger headers and consistent
// response formatting.
package http

import (
	"encoding/json"
	"html/template"
	"net/http"

	"spendly/internal/gateway"
)

// Client-side events raised through HX-Trigger.
const (
	EventShowNotification = "show-notification"
	EventFormReset        = "form:reset"
	EventEditExit         = "edit:exit"
)

// HTMXResponseBuilder provides a fluent API for building HTMX responses.
type HTMXResponseBuilder struct {
	triggers   map[string]any
	statusCode int
	body       []byte
	headers    map[string]string
}

// NewHTMXResponse creates a new response builder with default 200 status.
func NewHTMXResponse() *HTMXResponseBuilder {
	return &HTMXResponseBuilder{
		triggers:   make(map[string]any),
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *HTMXResponseBuilder) Status(code int) *HTMXResponseBuilder {
	b.statusCode = code
	return b
}

// Trigger adds a named trigger with optional data to the HX-Trigger header.
func (b *HTMXResponseBuilder) Trigger(name string, data any) *HTMXResponseBuilder {
	b.triggers[name] = data
	return b
}

// TriggerFormReset asks the page to clear the expense form.
func (b *HTMXResponseBuilder) TriggerFormReset() *HTMXResponseBuilder {
	return b.Trigger(EventFormReset, struct{}{})
}

// TriggerEditExit asks the page to leave edit mode.
func (b *HTMXResponseBuilder) TriggerEditExit() *HTMXResponseBuilder {
	return b.Trigger(EventEditExit, struct{}{})
}

// TriggerNotification adds a show-notification trigger.
func (b *HTMXResponseBuilder) TriggerNotification(kind gateway.NoticeKind, message string, durationMs int64) *HTMXResponseBuilder {
	return b.Trigger(EventShowNotification, map[string]any{
		"type":     string(kind),
		"message":  message,
		"duration": durationMs,
	})
}

// TriggerNotice shows a gateway notice for its own duration.
func (b *HTMXResponseBuilder) TriggerNotice(n gateway.Notice) *HTMXResponseBuilder {
	return b.TriggerNotification(n.Kind, n.Text, n.Milliseconds())
}

// TriggerResult adds every trigger a mutation result asks for.
func (b *HTMXResponseBuilder) TriggerResult(res gateway.Result) *HTMXResponseBuilder {
	if res.Notice.Text != "" {
		b.TriggerNotice(res.Notice)
	}
	if res.ResetForm {
		b.TriggerFormReset()
	}
	if res.ExitEdit {
		b.TriggerEditExit()
	}
	return b
}

// Header adds a custom header to the response.
func (b *HTMXResponseBuilder) Header(name, value string) *HTMXResponseBuilder {
	b.headers[name] = value
	return b
}

// Redirect makes HTMX perform a full client-side navigation.
func (b *HTMXResponseBuilder) Redirect(location string) *HTMXResponseBuilder {
	return b.Header("HX-Redirect", location)
}

// PushURL replaces the browser location after a partial swap.
func (b *HTMXResponseBuilder) PushURL(location string) *HTMXResponseBuilder {
	return b.Header("HX-Push-Url", location)
}

// Body sets the response body as bytes.
func (b *HTMXResponseBuilder) Body(content []byte) *HTMXResponseBuilder {
	b.body = content
	return b
}

// BodyHTML sets the response body as HTML content.
func (b *HTMXResponseBuilder) BodyHTML(html string) *HTMXResponseBuilder {
	b.headers["Content-Type"] = "text/html; charset=utf-8"
	b.body = []byte(html)
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *HTMXResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	if len(b.triggers) > 0 {
		if triggerJSON, err := json.Marshal(b.triggers); err == nil {
			w.Header().Set("HX-Trigger", string(triggerJSON))
		}
	}

	w.WriteHeader(b.statusCode)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

// ErrorResponse creates a standard error response with HTML formatting.
// The message is HTML-escaped.
func ErrorResponse(statusCode int, message string) *HTMXResponseBuilder {
	return NewHTMXResponse().
		Status(statusCode).
		BodyHTML(`<div class="alert alert-error">` + template.HTMLEscapeString(message) + `</div>`)
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}
