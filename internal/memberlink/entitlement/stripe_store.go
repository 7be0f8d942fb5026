package entitlement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeStoreConfig configures the Stripe-backed store.
type StripeStoreConfig struct {
	APIKey     string
	HTTPClient *http.Client // defaults to a client with a 10s timeout
	BaseURL    string       // API base URL override (tests)
}

// StripeStore keeps subscriber state in Stripe customer metadata.
type StripeStore struct {
	api *client.API
}

// NewStripeStore creates a store backed by the Stripe API.
func NewStripeStore(cfg StripeStoreConfig) *StripeStore {
	return &StripeStore{api: NewStripeAPI(cfg)}
}

// NewStripeAPI builds a Stripe API client with explicit backends so no
// package-level Stripe state is shared between components.
func NewStripeAPI(cfg StripeStoreConfig) *client.API {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	backendCfg := &stripelib.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     zerologStripeLogger{},
		MaxNetworkRetries: stripelib.Int64(1),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		backendCfg.URL = stripelib.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(strings.TrimSpace(cfg.APIKey), &stripelib.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return api
}

// FindByAccessToken searches customers by the access token metadata key.
func (s *StripeStore) FindByAccessToken(ctx context.Context, token string) (*Subscriber, error) {
	params := &stripelib.CustomerSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", MetaAccessToken, escapeSearchValue(token))
	params.Limit = stripelib.Int64(10)

	iter := s.api.Customers.Search(params)
	for iter.Next() {
		c := iter.Customer()
		// Search is eventually consistent and not guaranteed exact; the
		// stored value must match byte for byte.
		if c != nil && c.Metadata[MetaAccessToken] == token {
			return subscriberFromCustomer(c), nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("search customers by access token: %w", err)
	}
	return nil, ErrNotFound
}

// Get fetches a customer by ID.
func (s *StripeStore) Get(ctx context.Context, customerID string) (*Subscriber, error) {
	params := &stripelib.CustomerParams{}
	params.Context = ctx
	c, err := s.api.Customers.Get(customerID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get customer %s: %w", customerID, err)
	}
	if c == nil || c.Deleted {
		return nil, ErrNotFound
	}
	return subscriberFromCustomer(c), nil
}

// HasActiveSubscription lists at most one active subscription for the customer.
func (s *StripeStore) HasActiveSubscription(ctx context.Context, customerID string) (bool, error) {
	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String(string(stripelib.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripelib.Int64(1)

	iter := s.api.Subscriptions.List(params)
	if iter.Next() {
		return true, nil
	}
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("list active subscriptions for %s: %w", customerID, err)
	}
	return false, nil
}

// MergeMetadata reads the customer, merges updates and writes the full bag back.
func (s *StripeStore) MergeMetadata(ctx context.Context, customerID string, updates map[string]string) (*Subscriber, error) {
	current, err := s.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	merged := MergeMetadata(current.Metadata, updates)

	params := &stripelib.CustomerParams{}
	params.Context = ctx
	for k, v := range merged {
		params.AddMetadata(k, v)
	}
	c, err := s.api.Customers.Update(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("update customer %s metadata: %w", customerID, err)
	}
	return subscriberFromCustomer(c), nil
}

func subscriberFromCustomer(c *stripelib.Customer) *Subscriber {
	return &Subscriber{
		CustomerID: c.ID,
		Email:      strings.ToLower(strings.TrimSpace(c.Email)),
		Name:       strings.TrimSpace(c.Name),
		Metadata:   MergeMetadata(c.Metadata, nil),
	}
}

func escapeSearchValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripelib.Error
	return errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound
}

// zerologStripeLogger routes stripe-go's internal logging through zerolog.
type zerologStripeLogger struct{}

func (zerologStripeLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (zerologStripeLogger) Infof(format string, v ...interface{}) {
	log.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (zerologStripeLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Str("component", "stripe").Msgf(format, v...)
}

func (zerologStripeLogger) Errorf(format string, v ...interface{}) {
	log.Error().Str("component", "stripe").Msgf(format, v...)
}
