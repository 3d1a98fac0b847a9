// Package web serves the embedded dashboard page.
package web

import (
	"bytes"
	_ "embed"
	"html"
	"net/http"
)

//go:embed dashboard.html
var dashboardHTML []byte

var tokenPlaceholder = []byte("{{TOKEN}}")

// Dashboard returns a handler for the dashboard page with the websocket
// session token baked in. The page refuses to be framed so another site
// cannot overlay its confirmation buttons.
func Dashboard(token string) http.HandlerFunc {
	page := bytes.ReplaceAll(dashboardHTML, tokenPlaceholder, []byte(html.EscapeString(token)))

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		_, _ = w.Write(page)
	}
}
