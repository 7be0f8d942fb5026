// Package access mints and verifies the bearer tokens mailed to new
// subscribers. A token is only a handle: every verification re-derives the
// subscriber's entitlement from the payment provider.
package access

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/scalingmax/memberlink/internal/memberlink/entitlement"
)

// TokenPrefix marks access tokens minted by this service.
const TokenPrefix = "mlk_"

const randomBytes = 32

// ErrInvalidOrExpired is returned when a token matches no subscriber or the
// matching subscriber is no longer entitled.
var ErrInvalidOrExpired = errors.New("access token invalid or expired")

// Issuer mints and verifies access tokens against an entitlement store.
type Issuer struct {
	store   entitlement.Store
	entropy io.Reader
}

// NewIssuer creates an Issuer backed by store.
func NewIssuer(store entitlement.Store) *Issuer {
	return &Issuer{store: store, entropy: rand.Reader}
}

// NewToken returns a fresh token: a ULID for uniqueness followed by 256 bits
// from crypto/rand for unpredictability.
func (i *Issuer) NewToken() (string, error) {
	secret := make([]byte, randomBytes)
	if _, err := io.ReadFull(i.entropy, secret); err != nil {
		return "", fmt.Errorf("read token entropy: %w", err)
	}
	return TokenPrefix + ulid.Make().String() + "_" + base64.RawURLEncoding.EncodeToString(secret), nil
}

// Issue mints a token for customerID and stores it with status=active,
// replacing any previous token.
func (i *Issuer) Issue(ctx context.Context, customerID string) (string, error) {
	token, err := i.NewToken()
	if err != nil {
		return "", err
	}
	_, err = i.store.MergeMetadata(ctx, customerID, map[string]string{
		entitlement.MetaAccessToken: token,
		entitlement.MetaStatus:      string(entitlement.StatusActive),
	})
	if err != nil {
		return "", fmt.Errorf("store access token for %s: %w", customerID, err)
	}
	return token, nil
}

// Verify resolves token to its subscriber and checks the subscription is
// still active.
func (i *Issuer) Verify(ctx context.Context, token string) (*entitlement.Subscriber, error) {
	if !WellFormed(token) {
		return nil, ErrInvalidOrExpired
	}
	sub, err := i.store.FindByAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, entitlement.ErrNotFound) {
			return nil, ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("find subscriber by token: %w", err)
	}
	if sub.AccessToken() != token {
		return nil, ErrInvalidOrExpired
	}
	return i.requireActive(ctx, sub)
}

// VerifyCustomer checks that customerID still holds an active subscription.
func (i *Issuer) VerifyCustomer(ctx context.Context, customerID string) (*entitlement.Subscriber, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrInvalidOrExpired
	}
	sub, err := i.store.Get(ctx, customerID)
	if err != nil {
		if errors.Is(err, entitlement.ErrNotFound) {
			return nil, ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("get subscriber %s: %w", customerID, err)
	}
	return i.requireActive(ctx, sub)
}

func (i *Issuer) requireActive(ctx context.Context, sub *entitlement.Subscriber) (*entitlement.Subscriber, error) {
	active, err := i.store.HasActiveSubscription(ctx, sub.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("check subscription for %s: %w", sub.CustomerID, err)
	}
	if !active {
		return nil, ErrInvalidOrExpired
	}
	return sub, nil
}

// WellFormed reports whether token could be a stored token: non-empty,
// bounded and URL-safe. Tokens minted before the mlk_ format are still
// accepted, so this only screens out junk before a remote lookup.
func WellFormed(token string) bool {
	if token == "" || len(token) > 128 {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

// Redact shortens a token for logs.
func Redact(token string) string {
	if len(token) <= len(TokenPrefix)+4 {
		return "[redacted]"
	}
	return token[:len(TokenPrefix)+4] + "..."
}
