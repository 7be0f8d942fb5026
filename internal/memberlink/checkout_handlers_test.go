package memberlink

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

func TestHandleCheckout_CreatesSubscriptionSession(t *testing.T) {
	var got *stripe.CheckoutSessionParams
	h := NewCheckoutHandlers("price_123", "https://www.example.com/", func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = p
		return &stripe.CheckoutSession{URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"email":"lead@example.com"}`))
	h.HandleCheckout(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp checkoutResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", resp.URL)

	require.NotNil(t, got)
	assert.Equal(t, "subscription", *got.Mode)
	assert.Equal(t, "https://www.example.com/success.html", *got.SuccessURL)
	assert.Equal(t, "https://www.example.com/paiement.html", *got.CancelURL)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "price_123", *got.LineItems[0].Price)
	assert.Equal(t, int64(1), *got.LineItems[0].Quantity)
	assert.True(t, *got.AllowPromotionCodes)
	assert.Equal(t, "auto", *got.BillingAddressCollection)
	assert.True(t, *got.TaxIDCollection.Enabled)
	assert.Equal(t, "lead@example.com", *got.CustomerEmail)
	assert.Equal(t, req.Context(), got.Context)
}

func TestHandleCheckout_EmptyBodyOmitsEmail(t *testing.T) {
	var got *stripe.CheckoutSessionParams
	h := NewCheckoutHandlers("price_123", "https://www.example.com", func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = p
		return &stripe.CheckoutSession{URL: "https://checkout.stripe.com/x"}, nil
	})

	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Nil(t, got.CustomerEmail)
}

func TestHandleCheckout_StripeFailure(t *testing.T) {
	h := NewCheckoutHandlers("price_123", "https://www.example.com", func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("card network down")
	})

	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to create checkout session"}`, rec.Body.String())
}

func TestHandleCheckout_NotConfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCheckoutHandlers("", "https://www.example.com", nil).
		HandleCheckout(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleCheckout_RejectsBadInput(t *testing.T) {
	called := false
	h := NewCheckoutHandlers("price_123", "https://www.example.com", func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		called = true
		return &stripe.CheckoutSession{URL: "https://checkout.stripe.com/x"}, nil
	})

	for _, body := range []string{`{"email":"not-an-email"}`, `{"email":`} {
		rec := httptest.NewRecorder()
		h.HandleCheckout(rec, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := httptest.NewRecorder()
	h.HandleCheckout(rec, httptest.NewRequest(http.MethodGet, "/checkout", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, called)
}
