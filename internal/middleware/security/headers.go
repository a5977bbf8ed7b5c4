package security

import (
	"fmt"
	"net/http"
)

// HeadersConfig holds security headers configuration. Empty values are not sent.
type HeadersConfig struct {
	CSP string

	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	PermissionsPolicy   string
	CrossOriginOpener   string
	CrossOriginResource string
}

// Script origins the dashboard loads htmx, its SSE extension and Chart.js from.
const (
	htmxOrigin    = "https://unpkg.com"
	chartJSOrigin = "https://cdn.jsdelivr.net"
)

// DefaultHeadersConfig returns the policy used by the web server.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP: "default-src 'self'; " +
			"script-src 'self' " + htmxOrigin + " " + chartJSOrigin + "; " +
			"style-src 'self' 'unsafe-inline'; " +
			"img-src 'self' data:; " +
			"connect-src 'self'; " +
			"font-src 'self'; " +
			"object-src 'none'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'self'; " +
			"form-action 'self' https://accounts.google.com https://github.com",

		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,

		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "strict-origin-when-cross-origin",
		PermissionsPolicy:   "geolocation=(), microphone=(), camera=(), payment=()",
		CrossOriginOpener:   "same-origin",
		CrossOriginResource: "same-origin",
	}
}

// HeadersMiddleware applies security headers to responses
type HeadersMiddleware struct {
	config HeadersConfig
}

// NewHeadersMiddleware creates a new security headers middleware
func NewHeadersMiddleware(config HeadersConfig) *HeadersMiddleware {
	return &HeadersMiddleware{config: config}
}

// Middleware returns the HTTP middleware function
func (h *HeadersMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.applyHeaders(w, r)
		next.ServeHTTP(w, r)
	})
}

func (h *HeadersMiddleware) applyHeaders(w http.ResponseWriter, r *http.Request) {
	headers := w.Header()
	set := func(key, value string) {
		if value != "" {
			headers.Set(key, value)
		}
	}

	set("X-Content-Type-Options", h.config.XContentTypeOptions)
	set("X-Frame-Options", h.config.XFrameOptions)
	set("Content-Security-Policy", h.config.CSP)
	set("Referrer-Policy", h.config.ReferrerPolicy)
	set("Permissions-Policy", h.config.PermissionsPolicy)
	set("Cross-Origin-Opener-Policy", h.config.CrossOriginOpener)
	set("Cross-Origin-Resource-Policy", h.config.CrossOriginResource)

	// HSTS only means something over TLS
	if r.TLS != nil && h.config.HSTSMaxAge > 0 {
		hstsValue := fmt.Sprintf("max-age=%d", h.config.HSTSMaxAge)
		if h.config.HSTSIncludeSubdomains {
			hstsValue += "; includeSubDomains"
		}
		if h.config.HSTSPreload {
			hstsValue += "; preload"
		}
		headers.Set("Strict-Transport-Security", hstsValue)
	}
}

// StaticAssetMiddleware adds caching headers for static assets
func StaticAssetMiddleware(maxAge int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxAge > 0 {
				w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
			}
			next.ServeHTTP(w, r)
		})
	}
}
