package email

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultSource tags contacts collected without an explicit source.
const DefaultSource = "scaling-max-landing"

const brevoDuplicateCode = "duplicate_parameter"

// Contact is a marketing list opt-in.
type Contact struct {
	Email     string
	FirstName string
	Phone     string
	Source    string
}

// ContactResult describes the outcome of an upsert.
type ContactResult struct {
	ID       int64
	Existing bool
}

// ContactError is a rejection from the contact provider. Status mirrors the
// provider's HTTP status.
type ContactError struct {
	Status  int
	Code    string
	Message string
}

func (e *ContactError) Error() string {
	return fmt.Sprintf("brevo contact error (HTTP %d): code=%s message=%s", e.Status, e.Code, e.Message)
}

// ContactList adds or updates contacts on a marketing list.
type ContactList interface {
	Upsert(ctx context.Context, c Contact) (ContactResult, error)
}

// BrevoContacts upserts contacts into one Brevo list.
type BrevoContacts struct {
	apiKey     string
	listID     int64
	baseURL    string
	httpClient *http.Client
}

// NewBrevoContacts creates a contact list client for listID.
func NewBrevoContacts(apiKey string, listID int64, httpClient *http.Client) *BrevoContacts {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &BrevoContacts{
		apiKey:     apiKey,
		listID:     listID,
		baseURL:    DefaultBrevoBaseURL,
		httpClient: httpClient,
	}
}

// WithBaseURL points the client at another API root.
func (b *BrevoContacts) WithBaseURL(baseURL string) *BrevoContacts {
	b.baseURL = strings.TrimRight(baseURL, "/")
	return b
}

type brevoContactRequest struct {
	Email         string            `json:"email"`
	Attributes    map[string]string `json:"attributes"`
	ListIDs       []int64           `json:"listIds"`
	UpdateEnabled bool              `json:"updateEnabled"`
}

type brevoContactResponse struct {
	ID int64 `json:"id"`
}

// Upsert creates the contact or updates it when it already exists. Brevo
// reporting a duplicate counts as success.
func (b *BrevoContacts) Upsert(ctx context.Context, c Contact) (ContactResult, error) {
	source := strings.TrimSpace(c.Source)
	if source == "" {
		source = DefaultSource
	}
	body, err := json.Marshal(brevoContactRequest{
		Email: c.Email,
		Attributes: map[string]string{
			"FIRSTNAME": c.FirstName,
			"SMS":       c.Phone,
			"SOURCE":    source,
		},
		ListIDs:       []int64{b.listID},
		UpdateEnabled: true,
	})
	if err != nil {
		return ContactResult{}, fmt.Errorf("marshal brevo contact: %w", err)
	}

	resp, err := brevoPost(ctx, b.httpClient, b.baseURL+"/contacts", b.apiKey, body)
	if err != nil {
		return ContactResult{}, fmt.Errorf("brevo contact request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var brevoResp brevoErrorResponse
		_ = json.Unmarshal(respBody, &brevoResp)
		if brevoResp.Code == brevoDuplicateCode {
			return ContactResult{Existing: true}, nil
		}
		return ContactResult{}, &ContactError{Status: resp.StatusCode, Code: brevoResp.Code, Message: brevoResp.Message}
	}

	// 204 means an existing contact was updated.
	if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return ContactResult{Existing: true}, nil
	}
	var created brevoContactResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return ContactResult{}, fmt.Errorf("decode brevo contact response: %w", err)
	}
	return ContactResult{ID: created.ID}, nil
}
