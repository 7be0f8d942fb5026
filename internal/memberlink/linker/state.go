package linker

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// StateTTL bounds how long an authorization round trip may take.
const StateTTL = 15 * time.Minute

// MinSecretLen is the minimum length of the state signing secret.
const MinSecretLen = 32

const stateKeyInfo = "memberlink oauth state v1"

// ErrInvalidState is returned for a state that is malformed, forged or expired.
var ErrInvalidState = errors.New("oauth state invalid")

// State is what survives the authorization round trip.
type State struct {
	Token      string
	CustomerID string
}

type statePayload struct {
	Token      string `json:"t"`
	CustomerID string `json:"c"`
	Expiry     int64  `json:"x"`
	Nonce      string `json:"n"`
}

// StateCodec signs and verifies OAuth state values.
type StateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateCodec derives a signing key from secret.
func NewStateCodec(secret string) (*StateCodec, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("state secret must be at least %d bytes", MinSecretLen)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(stateKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive state key: %w", err)
	}
	return &StateCodec{key: key, ttl: StateTTL, now: time.Now}, nil
}

// Sign encodes st as payload.signature, both base64url.
func (c *StateCodec) Sign(st State) (string, error) {
	if st.Token == "" || st.CustomerID == "" {
		return "", fmt.Errorf("token and customer id are required")
	}

	nonce := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	payloadBytes, err := json.Marshal(statePayload{
		Token:      st.Token,
		CustomerID: st.CustomerID,
		Expiry:     c.now().UTC().Add(c.ttl).Unix(),
		Nonce:      base64.RawURLEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("marshal state payload: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(payloadBytes) + "." +
		base64.RawURLEncoding.EncodeToString(c.mac(payloadBytes)), nil
}

// Decode verifies raw and returns the state it carries.
func (c *StateCodec) Decode(raw string) (State, error) {
	payloadB64, sigB64, ok := strings.Cut(raw, ".")
	if !ok || payloadB64 == "" || sigB64 == "" {
		return State{}, ErrInvalidState
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return State{}, ErrInvalidState
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return State{}, ErrInvalidState
	}
	if !hmac.Equal(sigBytes, c.mac(payloadBytes)) {
		return State{}, ErrInvalidState
	}

	var p statePayload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		return State{}, ErrInvalidState
	}
	if c.now().UTC().Unix() > p.Expiry {
		return State{}, fmt.Errorf("%w: expired", ErrInvalidState)
	}
	if p.Token == "" || p.CustomerID == "" {
		return State{}, ErrInvalidState
	}

	return State{Token: p.Token, CustomerID: p.CustomerID}, nil
}

func (c *StateCodec) mac(data []byte) []byte {
	m := hmac.New(sha256.New, c.key)
	m.Write(data)
	return m.Sum(nil)
}

// GenerateSecret returns a random secret suitable for NewStateCodec.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("generate state secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
