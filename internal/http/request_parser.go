// This file implements utilities for parsing and validating HTTP request data.

package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"spendly/internal/gateway"
	"spendly/internal/view"
)

// maxBodyBytes caps form and JSON bodies.
const maxBodyBytes = 64 << 10

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads at most maxBodyBytes of the body once.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if p.err == nil && len(p.body) > maxBodyBytes {
			p.err = errBodyTooLarge
		}
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if strings.HasPrefix(p.contentType, "application/json") || p.body[0] == '{' {
		p.jsonData = make(map[string]any)
		dec := json.NewDecoder(strings.NewReader(string(p.body)))
		dec.UseNumber()
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = err
			p.jsonData = nil
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	return sanitizeInput(p.raw(key))
}

func (p *RequestBodyParser) raw(key string) string {
	if p.jsonData != nil {
		return stringValue(p.jsonData[key])
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ExpenseFields reads the expense form.
func (p *RequestBodyParser) ExpenseFields() gateway.Fields {
	return gateway.Fields{
		Amount:   p.Get("amount"),
		Category: p.Get("category"),
		Date:     p.Get("date"),
		Note:     p.Get("note"),
	}
}

// Credentials reads an email and password pair. The password is passed on
// exactly as typed.
func (p *RequestBodyParser) Credentials() (email, password string) {
	return p.Get("email"), p.raw("password")
}

// ParseViewState reads the dashboard view state from the query string.
func ParseViewState(r *http.Request) view.State {
	return view.ParseState(r.URL.Query())
}
