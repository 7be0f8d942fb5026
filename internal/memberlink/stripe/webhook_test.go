package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/scalingmax/memberlink/internal/memberlink/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestWebhook(t *testing.T, meta map[string]string) (*WebhookHandler, *syncFixture) {
	t.Helper()
	f := newSyncFixture(t, meta)
	return NewWebhookHandler(testWebhookSecret, f.syncer, newTestDeduper(t)), f
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const checkoutEvent = `{"id":"evt_checkout_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","mode":"subscription","customer":"cus_member1","customer_details":{"email":"buyer@example.com"}}}}`

func TestWebhookCheckoutThenDuplicate(t *testing.T) {
	h, f := newTestWebhook(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutEvent))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]any{"received": true}, decodeBody(t, rec))
	token := f.store.Snapshot("cus_member1").AccessToken()
	require.NotEmpty(t, token)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutEvent))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"received": true, "status": "duplicate"}, decodeBody(t, rec))

	assert.Equal(t, token, f.store.Snapshot("cus_member1").AccessToken(), "duplicate must not reissue")
	assert.Len(t, f.sender.Sent(), 1)
}

func TestWebhookBadSignatureRejectedBeforeDispatch(t *testing.T) {
	h, f := newTestWebhook(t, map[string]string{entitlement.MetaChatUserID: "u1"})
	cancelEvent := `{"id":"evt_cancel_1","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_member1"}}}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, "whsec_wrong", cancelEvent))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", strings.NewReader(cancelEvent))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.store.Calls())
	assert.Empty(t, f.revoker.Removed())
	assert.Empty(t, f.sender.Sent())
}

func TestWebhookPaymentFailedRevokes(t *testing.T) {
	h, f := newTestWebhook(t, map[string]string{entitlement.MetaChatUserID: "u1"})
	event := `{"id":"evt_inv_1","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice","customer":"cus_member1"}}}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, event))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"u1"}, f.revoker.Removed())
	assert.Equal(t, entitlement.StatusPaymentFailed, f.store.Snapshot("cus_member1").Status())
}

func TestWebhookProcessingFailureIsRetryable(t *testing.T) {
	h, f := newTestWebhook(t, nil)
	f.sender.err = assert.AnError

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutEvent))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"error": "processing failed"}, decodeBody(t, rec))

	f.sender.err = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutEvent))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"received": true}, decodeBody(t, rec))
	assert.Len(t, f.sender.Sent(), 1)
}

func TestWebhookCompletesWhenClientDisconnects(t *testing.T) {
	h, f := newTestWebhook(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutEvent).WithContext(ctx))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := f.store.Snapshot("cus_member1").AccessToken()
	require.NotEmpty(t, token)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutEvent))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"received": true, "status": "duplicate"}, decodeBody(t, rec))
	assert.Equal(t, token, f.store.Snapshot("cus_member1").AccessToken())
	assert.Len(t, f.sender.Sent(), 1)
}

func TestWebhookInFlightReturnsConflict(t *testing.T) {
	h, _ := newTestWebhook(t, nil)
	d := h.deduper.(*Deduper)
	_, err := d.acquire(context.Background(), "evt_checkout_1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutEvent))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhookMethodAndSecretGuards(t *testing.T) {
	h, _ := newTestWebhook(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/payment", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	unconfigured := NewWebhookHandler("", h.syncer, h.deduper)
	rec = httptest.NewRecorder()
	unconfigured.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, checkoutEvent))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookUnhandledTypeAcknowledged(t *testing.T) {
	h, f := newTestWebhook(t, nil)
	event := `{"id":"evt_other","object":"event","type":"customer.created","data":{"object":{"id":"cus_member1"}}}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, event))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.store.Calls())
}

func TestWebhookBodyLimit(t *testing.T) {
	h, _ := newTestWebhook(t, nil)
	big := `{"id":"evt_big","object":"event","type":"customer.created","data":{"object":{"pad":"` + strings.Repeat("x", webhookBodyLimit) + `"}}}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, big))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
