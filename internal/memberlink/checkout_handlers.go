package memberlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"github.com/scalingmax/memberlink/internal/logging"
	stripe "github.com/stripe/stripe-go/v82"
)

const formRequestBodyLimit = 16 * 1024

// CheckoutHandlers creates Stripe Checkout sessions for the membership plan.
type CheckoutHandlers struct {
	priceID               string
	siteURL               string
	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type checkoutRequest struct {
	Email string `json:"email"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewCheckoutHandlers wires the checkout endpoint. create is usually the
// Stripe client's CheckoutSessions.New.
func NewCheckoutHandlers(priceID, siteURL string, create func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)) *CheckoutHandlers {
	return &CheckoutHandlers{
		priceID:               strings.TrimSpace(priceID),
		siteURL:               strings.TrimRight(siteURL, "/"),
		createCheckoutSession: create,
	}
}

// HandleCheckout handles POST /checkout.
func (h *CheckoutHandlers) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeFormJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	logger := logging.FromContext(r.Context())

	var req checkoutRequest
	r.Body = http.MaxBytesReader(w, r.Body, formRequestBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeFormJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	email := strings.TrimSpace(req.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			writeFormJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid email"})
			return
		}
	}

	checkoutURL, err := h.createCheckout(r.Context(), email)
	if err != nil {
		logger.Error().Err(err).Msg("checkout: create session failed")
		writeFormJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to create checkout session"})
		return
	}

	writeFormJSON(w, http.StatusOK, checkoutResponse{URL: checkoutURL})
}

func (h *CheckoutHandlers) createCheckout(ctx context.Context, email string) (string, error) {
	if h.createCheckoutSession == nil {
		return "", fmt.Errorf("stripe api key not configured")
	}
	if h.priceID == "" {
		return "", fmt.Errorf("checkout price id not configured")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(h.siteURL + "/success.html"),
		CancelURL:  stripe.String(h.siteURL + "/paiement.html"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(h.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionAuto)),
		TaxIDCollection: &stripe.CheckoutSessionTaxIDCollectionParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	session, err := h.createCheckoutSession(params)
	if err != nil {
		return "", err
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("stripe returned empty checkout URL")
	}
	return strings.TrimSpace(session.URL), nil
}

func writeFormJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := logging.New("memberlink")
		logger.Error().Err(err).Int("status", status).Msg("encode response")
	}
}
