// Package outbound builds the HTTP client shared by every upstream API call
// (payments, chat platform, email). Host lookups go through a refreshed
// in-memory DNS cache.
package outbound

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is how often cached lookups are refreshed.
const DefaultTTL = 5 * time.Minute

// Resolver wraps a dnscache resolver with its refresh loop.
type Resolver struct {
	cache *dnscache.Resolver
	ttl   time.Duration
}

// NewResolver creates a caching resolver. A non-positive ttl uses DefaultTTL.
func NewResolver(ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{cache: &dnscache.Resolver{}, ttl: ttl}
}

// Run refreshes the cache every ttl until ctx is done. Entries not used
// since the previous refresh are dropped.
func (r *Resolver) Run(ctx context.Context) {
	log.Info().
		Dur("ttl", r.ttl).
		Msg("DNS resolver cache started")

	ticker := time.NewTicker(r.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cache.Refresh(true)
			log.Debug().
				Dur("ttl", r.ttl).
				Msg("DNS cache refreshed")
		}
	}
}

// DialContext dials address after resolving its host through the cache. Each
// resolved address is tried in order.
func (r *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := r.cache.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Client returns an HTTP client whose transport dials through the cache.
func (r *Resolver) Client(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = r.DialContext
	transport.MaxIdleConnsPerHost = 10
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
