package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogSender_Send(t *testing.T) {
	var called bool
	var gotTo, gotSubject string

	sender := NewLogSender(func(to, subject, body string) {
		called = true
		gotTo = to
		gotSubject = subject
	})

	err := sender.Send(context.Background(), Message{
		To:      "test@example.com",
		Subject: "Test Subject",
		Text:    "Hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("log function was not called")
	}
	if gotTo != "test@example.com" {
		t.Errorf("expected to=test@example.com, got %s", gotTo)
	}
	if gotSubject != "Test Subject" {
		t.Errorf("expected subject=Test Subject, got %s", gotSubject)
	}
}

func TestBrevoSender_Send(t *testing.T) {
	var got brevoEmailRequest
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"messageId":"<abc@smtp-relay.brevo.com>"}`)
	}))
	defer srv.Close()

	sender := NewBrevoSender("xkeysib-test", srv.Client()).WithBaseURL(srv.URL + "/v3/")
	err := sender.Send(context.Background(), Message{
		FromName: "Maxime Augiat",
		From:     "contact@maximeaugiat.com",
		To:       "member@example.com",
		Subject:  WelcomeSubject,
		HTML:     "<p>hi</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "xkeysib-test" {
		t.Errorf("expected api-key header, got %q", gotKey)
	}
	if gotPath != "/v3/smtp/email" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if got.Sender.Email != "contact@maximeaugiat.com" || got.Sender.Name != "Maxime Augiat" {
		t.Errorf("unexpected sender %+v", got.Sender)
	}
	if len(got.To) != 1 || got.To[0].Email != "member@example.com" {
		t.Errorf("unexpected recipients %+v", got.To)
	}
	if got.Subject != WelcomeSubject {
		t.Errorf("unexpected subject %q", got.Subject)
	}
}

func TestBrevoSender_SendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":"unauthorized","message":"Key not found"}`)
	}))
	defer srv.Close()

	err := NewBrevoSender("bad", srv.Client()).WithBaseURL(srv.URL).Send(context.Background(), Message{To: "a@b.c"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "HTTP 401") || !strings.Contains(err.Error(), "Key not found") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRenderWelcomeEmail(t *testing.T) {
	html, text, err := RenderWelcomeEmail(WelcomeData{AccessURL: "https://members.example.com/chat-access?token=mlk_abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(html, `href="https://members.example.com/chat-access?token=mlk_abc"`) {
		t.Errorf("html missing access link: %s", html)
	}
	if !strings.Contains(text, "https://members.example.com/chat-access?token=mlk_abc") {
		t.Errorf("text missing access link: %s", text)
	}
	if !strings.Contains(html, "<strong>Max</strong>") {
		t.Error("expected default signature")
	}
}

func TestRenderWelcomeEmailEscapesURL(t *testing.T) {
	html, _, err := RenderWelcomeEmail(WelcomeData{AccessURL: `javascript:alert(1)`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(html, "javascript:alert") {
		t.Error("unsafe URL was not sanitized")
	}
}

func TestRenderCancellationEmail(t *testing.T) {
	html, text, err := RenderCancellationEmail(CancellationData{ResubscribeURL: "https://www.example.com/#pricing", Signature: "L'équipe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(html, `href="https://www.example.com/#pricing"`) {
		t.Errorf("html missing resubscribe link: %s", html)
	}
	if !strings.Contains(text, "https://www.example.com/#pricing") {
		t.Errorf("text missing resubscribe link: %s", text)
	}
	if !strings.Contains(text, "L'équipe") {
		t.Errorf("text missing signature: %s", text)
	}
}

func TestBrevoContacts_Upsert(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantID       int64
		wantExisting bool
		wantStatus   int
	}{
		{name: "created", status: http.StatusCreated, body: `{"id":21}`, wantID: 21},
		{name: "updated", status: http.StatusNoContent, wantExisting: true},
		{name: "duplicate", status: http.StatusBadRequest, body: `{"code":"duplicate_parameter","message":"Contact already exist"}`, wantExisting: true},
		{name: "rejected", status: http.StatusBadRequest, body: `{"code":"invalid_parameter","message":"email is not valid"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got brevoContactRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/contacts" {
					t.Errorf("unexpected path %q", r.URL.Path)
				}
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			contacts := NewBrevoContacts("key", 6, srv.Client()).WithBaseURL(srv.URL)
			res, err := contacts.Upsert(context.Background(), Contact{Email: "lead@example.com", FirstName: "Léa"})

			if tt.wantStatus != 0 {
				var cerr *ContactError
				if !errors.As(err, &cerr) {
					t.Fatalf("expected ContactError, got %v", err)
				}
				if cerr.Status != tt.wantStatus || cerr.Message != "email is not valid" {
					t.Errorf("unexpected error %+v", cerr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.ID != tt.wantID || res.Existing != tt.wantExisting {
				t.Errorf("got %+v", res)
			}
			if got.Attributes["SOURCE"] != DefaultSource || got.Attributes["FIRSTNAME"] != "Léa" {
				t.Errorf("unexpected attributes %v", got.Attributes)
			}
			if len(got.ListIDs) != 1 || got.ListIDs[0] != 6 || !got.UpdateEnabled {
				t.Errorf("unexpected list settings %+v", got)
			}
		})
	}
}
