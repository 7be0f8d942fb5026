package linker

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

func newTestCodec(t *testing.T) *StateCodec {
	t.Helper()
	c, err := NewStateCodec(testSecret)
	require.NoError(t, err)
	return c
}

func TestStateRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	in := State{Token: "mlk_01HZX_secret-part", CustomerID: "cus_ABC123"}

	raw, err := c.Sign(in)
	require.NoError(t, err)
	out, err := c.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	again, err := c.Sign(in)
	require.NoError(t, err)
	assert.NotEqual(t, raw, again, "nonce makes each state unique")
}

func TestNewStateCodecRejectsShortSecret(t *testing.T) {
	_, err := NewStateCodec("too-short")
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedAndForgedStates(t *testing.T) {
	c := newTestCodec(t)
	valid, err := c.Sign(State{Token: "mlk_tok", CustomerID: "cus_1"})
	require.NoError(t, err)
	payload, sig, _ := strings.Cut(valid, ".")

	// Unsigned state in the old plain base64 JSON shape.
	legacy := base64.StdEncoding.EncodeToString([]byte(`{"token":"mlk_tok","customerId":"cus_1"}`))

	other, err := NewStateCodec(strings.Repeat("z", MinSecretLen))
	require.NoError(t, err)
	foreign, err := other.Sign(State{Token: "mlk_tok", CustomerID: "cus_1"})
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"empty":          "",
		"no separator":   payload,
		"empty sig":      payload + ".",
		"bad base64":     "!!!." + sig,
		"tampered":       base64.RawURLEncoding.EncodeToString([]byte(`{"t":"mlk_tok","c":"cus_2","x":9999999999,"n":"x"}`)) + "." + sig,
		"legacy":         legacy,
		"foreign secret": foreign,
	} {
		_, err := c.Decode(raw)
		assert.ErrorIs(t, err, ErrInvalidState, name)
	}
}

func TestDecodeRejectsExpiredState(t *testing.T) {
	c := newTestCodec(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start }

	raw, err := c.Sign(State{Token: "mlk_tok", CustomerID: "cus_1"})
	require.NoError(t, err)

	c.now = func() time.Time { return start.Add(StateTTL - time.Second) }
	_, err = c.Decode(raw)
	require.NoError(t, err)

	c.now = func() time.Time { return start.Add(StateTTL + time.Second) }
	_, err = c.Decode(raw)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestGenerateSecretIsUsable(t *testing.T) {
	s, err := GenerateSecret()
	require.NoError(t, err)
	_, err = NewStateCodec(s)
	assert.NoError(t, err)
}
