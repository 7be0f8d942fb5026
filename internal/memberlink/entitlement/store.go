// Package entitlement reads and updates subscriber state kept in Stripe customer metadata.
package entitlement

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no customer matches a lookup.
var ErrNotFound = errors.New("subscriber not found")

// Store reads and updates subscriber state held by the payment provider.
type Store interface {
	// FindByAccessToken returns the subscriber whose stored access token
	// equals token exactly.
	FindByAccessToken(ctx context.Context, token string) (*Subscriber, error)
	// Get returns the subscriber for a customer ID.
	Get(ctx context.Context, customerID string) (*Subscriber, error)
	// HasActiveSubscription reports whether the customer has at least one
	// subscription in the active state.
	HasActiveSubscription(ctx context.Context, customerID string) (bool, error)
	// MergeMetadata applies updates over the existing metadata bag and
	// returns the updated subscriber. Keys absent from updates are kept.
	MergeMetadata(ctx context.Context, customerID string, updates map[string]string) (*Subscriber, error)
}
