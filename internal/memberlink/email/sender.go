// Package email sends transactional mail and manages marketing contacts through Brevo.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBrevoBaseURL is the Brevo v3 API root.
const DefaultBrevoBaseURL = "https://api.brevo.com/v3"

// Sender sends transactional emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message represents an email to send.
type Message struct {
	FromName string
	From     string
	To       string
	Subject  string
	HTML     string
	Text     string
}

// BrevoSender sends emails via the Brevo transactional email API.
type BrevoSender struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewBrevoSender creates a Brevo email sender. A nil httpClient gets a
// client with a 10s timeout.
func NewBrevoSender(apiKey string, httpClient *http.Client) *BrevoSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &BrevoSender{
		apiKey:     apiKey,
		baseURL:    DefaultBrevoBaseURL,
		httpClient: httpClient,
	}
}

// WithBaseURL points the sender at another API root.
func (b *BrevoSender) WithBaseURL(baseURL string) *BrevoSender {
	b.baseURL = strings.TrimRight(baseURL, "/")
	return b
}

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoEmailRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent,omitempty"`
	TextContent string         `json:"textContent,omitempty"`
}

type brevoErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Send sends an email via the Brevo API.
func (b *BrevoSender) Send(ctx context.Context, msg Message) error {
	payload := brevoEmailRequest{
		Sender:      brevoAddress{Name: msg.FromName, Email: msg.From},
		To:          []brevoAddress{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.Text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal brevo request: %w", err)
	}

	resp, err := b.post(ctx, "/smtp/email", body)
	if err != nil {
		return fmt.Errorf("brevo request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var brevoResp brevoErrorResponse
		_ = json.Unmarshal(respBody, &brevoResp)
		return fmt.Errorf("brevo error (HTTP %d): code=%s message=%s", resp.StatusCode, brevoResp.Code, brevoResp.Message)
	}

	return nil
}

func (b *BrevoSender) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	return brevoPost(ctx, b.httpClient, b.baseURL+path, b.apiKey, body)
}

func brevoPost(ctx context.Context, client *http.Client, endpoint, apiKey string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create brevo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", apiKey)
	return client.Do(req)
}

// LogSender logs emails instead of sending them. Used as fallback when no email provider is configured.
type LogSender struct {
	logFn func(to, subject, body string)
}

// NewLogSender creates a sender that logs emails.
func NewLogSender(logFn func(to, subject, body string)) *LogSender {
	return &LogSender{logFn: logFn}
}

// Send logs the email instead of sending it.
func (l *LogSender) Send(_ context.Context, msg Message) error {
	if l.logFn != nil {
		l.logFn(msg.To, msg.Subject, msg.Text)
	}
	return nil
}
