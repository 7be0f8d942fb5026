// Package mlsec carries the per-request CSP nonce from the security headers
// middleware to the page renderers.
package mlsec

import "context"

type nonceKey struct{}

// WithNonce returns a context carrying the CSP nonce.
func WithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceKey{}, nonce)
}

// NonceFromContext returns the CSP nonce, or "" when none was set.
func NonceFromContext(ctx context.Context) string {
	nonce, _ := ctx.Value(nonceKey{}).(string)
	return nonce
}
