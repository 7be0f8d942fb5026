package entitlement

import (
	"strings"
	"time"
)

// Metadata keys stored on the Stripe customer. The customer metadata bag is
// the only place subscriber state lives.
const (
	MetaAccessToken  = "discord_access_token"
	MetaStatus       = "status"
	MetaChatUserID   = "discord_user_id"
	MetaChatUsername = "discord_username"
	MetaLinkedAt     = "discord_linked_at"
)

// Status is the denormalized subscription status written into metadata.
type Status string

const (
	StatusActive        Status = "active"
	StatusPaymentFailed Status = "payment_failed"
	StatusCancelled     Status = "cancelled"
)

// Subscriber is a paying customer as seen through the Stripe customer record.
type Subscriber struct {
	CustomerID string
	Email      string
	Name       string
	Metadata   map[string]string
}

// AccessToken returns the current access token, or "" if none was issued.
func (s *Subscriber) AccessToken() string {
	return s.meta(MetaAccessToken)
}

// Status returns the status copy recorded in metadata.
func (s *Subscriber) Status() Status {
	return Status(s.meta(MetaStatus))
}

// ChatUserID returns the linked Discord user ID, or "" when not linked.
func (s *Subscriber) ChatUserID() string {
	return s.meta(MetaChatUserID)
}

// ChatUsername returns the linked Discord username.
func (s *Subscriber) ChatUsername() string {
	return s.meta(MetaChatUsername)
}

// Linked reports whether a Discord identity is recorded.
func (s *Subscriber) Linked() bool {
	return s.ChatUserID() != ""
}

// LinkedAt returns when the Discord identity was recorded, if known.
func (s *Subscriber) LinkedAt() (time.Time, bool) {
	raw := s.meta(MetaLinkedAt)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *Subscriber) meta(key string) string {
	if s == nil || s.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(s.Metadata[key])
}

// MergeMetadata returns a new map holding existing with updates applied on
// top. Neither input is modified.
func MergeMetadata(existing, updates map[string]string) map[string]string {
	merged := make(map[string]string, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

func cloneSubscriber(s *Subscriber) *Subscriber {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = MergeMetadata(s.Metadata, nil)
	return &c
}
