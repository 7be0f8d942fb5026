// Package stripe turns Stripe webhook deliveries into subscriber lifecycle
// changes: activation on checkout, revocation on failed payment or
// cancellation.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scalingmax/memberlink/internal/logging"
	"github.com/scalingmax/memberlink/internal/memberlink/mlmetrics"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	webhookBodyLimit      = 1024 * 1024 // 1 MiB
	webhookProcessTimeout = 2 * time.Minute
)

// EventDeduper runs an event handler at most once per event ID.
type EventDeduper interface {
	Do(ctx context.Context, eventID string, fn func() error) (already bool, err error)
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret  string
	syncer  *Syncer
	deduper EventDeduper
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, syncer *Syncer, deduper EventDeduper) *WebhookHandler {
	return &WebhookHandler{
		secret:  secret,
		syncer:  syncer,
		deduper: deduper,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		mlmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		mlmetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn().Err(err).Msg("Stripe webhook signature rejected")
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	// Processing outlives a dropped connection; Stripe only sees the status.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookProcessTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, logging.New("", logging.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"type":     eventType,
	})))
	log := logging.FromContext(ctx)

	already, err := h.deduper.Do(ctx, event.ID, func() error {
		return h.handleEvent(ctx, &event)
	})
	if err != nil {
		if errors.Is(err, ErrEventInFlight) {
			log.Warn().Msg("Stripe webhook event is already in flight; returning non-2xx so Stripe retries")
			status = http.StatusConflict
			writeJSON(w, status, webhookErrorResponse{Error: "event in flight"})
			return
		}
		log.Error().Err(err).Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}

	if already {
		log.Info().Msg("Stripe webhook duplicate ignored")
		writeJSON(w, status, webhookReceivedResponse{Received: true, Status: "duplicate"})
		return
	}
	writeJSON(w, status, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.syncer.HandleCheckout(ctx, session)

	case "invoice.payment_failed":
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.syncer.HandlePaymentFailed(ctx, inv)

	case "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.syncer.HandleSubscriptionDeleted(ctx, sub)

	case "customer.subscription.updated":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.syncer.HandleSubscriptionUpdated(ctx, sub)

	default:
		logging.FromContext(ctx).Info().Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// Invoice is a minimal representation of a Stripe invoice event.
type Invoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	AttemptCount  int    `json:"attempt_count"`
}

// Subscription is a minimal representation of a Stripe subscription event.
type Subscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := logging.New("stripe")
		logger.Error().Err(err).Int("status", status).Msg("encode webhook response")
	}
}
