package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"spendly/internal/core"
	"spendly/internal/identity"
	"spendly/internal/log"
	"spendly/internal/view"
	appweb "spendly/web"
)

var providerNames = map[string]string{
	identity.ProviderGoogle: "Google",
	identity.ProviderGitHub: "GitHub",
}

var templateFuncs = template.FuncMap{
	"money": func(m core.Money) string { return "$" + m.String() },
	"date":  core.DateString,
	"dateInput": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return core.DateString(*t)
	},
	"chartJSON": func(c view.Chart) (string, error) {
		b, err := json.Marshal(chartPayload{Type: string(c.Type), Labels: c.Labels, Data: c.Data, Colors: c.Colors})
		return string(b), err
	},
	"providerName": func(p string) string {
		if n, ok := providerNames[p]; ok {
			return n
		}
		return p
	},
	"minPassword": func() int { return identity.MinPasswordLength },
}

// chartPayload is what app.js hands to Chart.js.
type chartPayload struct {
	Type   string    `json:"type"`
	Labels []string  `json:"labels"`
	Data   []float64 `json:"data"`
	Colors []string  `json:"colors"`
}

// parseTemplates loads every embedded page and partial.
func parseTemplates() (*template.Template, error) {
	t, err := template.New("spendly").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return t, nil
}

// renderTemplate executes name into a buffer so a failing template never
// leaves a half-written page behind.
func (s *Server) renderTemplate(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// writePage renders a full page or partial with the given status.
func (s *Server) writePage(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	body, err := s.renderTemplate(name, data)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err, "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	NewHTMXResponse().Status(status).BodyHTML(string(body)).Write(w)
}

// queryURL is an encoded view state that templates may splice into links.
func queryURL(v url.Values) template.URL {
	return template.URL(v.Encode())
}
