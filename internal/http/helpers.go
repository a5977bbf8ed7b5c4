package http

import (
	"errors"
	"net/http"
	"strings"
)

var errBodyTooLarge = errors.New("request body too large")

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// isHTMX reports whether r was issued by htmx rather than a plain form post.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// redirect sends the browser to location, as a full navigation for htmx
// requests and a 303 otherwise.
func redirect(w http.ResponseWriter, r *http.Request, location string) {
	if isHTMX(r) {
		NewHTMXResponse().Redirect(location).Write(w)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
