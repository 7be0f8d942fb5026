package memberlink

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/scalingmax/memberlink/internal/memberlink/mlsec"
)

// generateCSPNonce returns a 16-byte base64-encoded nonce.
func generateCSPNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Error().Err(err).Msg("CSP nonce generation failed, falling back to unsafe-inline")
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// SecurityHeaders sets security headers and a nonce-based Content Security
// Policy on the member-facing pages. The nonce is stored in the request
// context for the page templates via mlsec.NonceFromContext.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonce := generateCSPNonce()
		if nonce != "" {
			r = r.WithContext(mlsec.WithNonce(r.Context(), nonce))
		}

		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-XSS-Protection", "0")
		// Access links carry the member token in the query string.
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=()")

		styleSrc := "style-src 'self' 'unsafe-inline'"
		if nonce != "" {
			styleSrc = "style-src 'self' 'nonce-" + nonce + "'"
		}

		csp := "default-src 'none'; " +
			styleSrc + "; " +
			"img-src 'self' data:; " +
			"form-action 'self'; " +
			"base-uri 'none'; " +
			"frame-ancestors 'none'"

		h.Set("Content-Security-Policy", csp)

		next.ServeHTTP(w, r)
	})
}
