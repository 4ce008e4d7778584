package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/CaravanDesk/ChatCaravan/internal/twiliowhatsapp"
	"github.com/CaravanDesk/ChatCaravan/internal/whatsapp"
)

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"77011234567", "77011234567", false},
		{"+7 701 123-45-67", "77011234567", false},
		{"(701) 123 4567", "7011234567", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, c := range cases {
		got, err := canonicalizePhone(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("canonicalizePhone(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("canonicalizePhone(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestGreenAPISendMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]string{"idMessage": "msg-1"})
	}))
	defer srv.Close()

	svc := NewGreenAPIService(
		WithIDInstance("1101000001"),
		WithAPIToken("token-abc"),
		WithBaseURL(srv.URL),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if err := svc.SendMessage(context.Background(), "+7 701 123 4567", "Здравствуйте!"); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if gotPath != "/waInstance1101000001/sendMessage/token-abc" {
		t.Errorf("unexpected request path %q", gotPath)
	}
	if gotPayload["chatId"] != "77011234567@c.us" {
		t.Errorf("unexpected chatId %q", gotPayload["chatId"])
	}
	if gotPayload["message"] != "Здравствуйте!" {
		t.Errorf("unexpected message %q", gotPayload["message"])
	}
}

func TestGreenAPISendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	svc := NewGreenAPIService(WithIDInstance("1"), WithAPIToken("t"), WithBaseURL(srv.URL))
	err := svc.SendMessage(context.Background(), "77011234567", "текст")
	if err == nil {
		t.Fatal("expected error on API failure")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestGreenAPIStartWithoutCredentials(t *testing.T) {
	svc := NewGreenAPIService()
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail without credentials")
	}
}

func TestWhatsMeowServiceSendsViaClient(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsMeowService(mock)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+7-701-123-45-67", "привет"); err != nil {
		t.Errorf("unexpected send error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "77011234567" || mock.SentMessages[0].Body != "привет" {
		t.Errorf("unexpected recorded sends %+v", mock.SentMessages)
	}
	if err := svc.SendMessage(context.Background(), "", "привет"); err == nil {
		t.Error("expected error for empty recipient")
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
}

func TestTwilioServiceSendAndStop(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "7701 123 4567", "текст"); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "+77011234567" {
		t.Errorf("unexpected sent messages %v", mock.SentMessages)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "77011234567", "текст"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped after Stop, got %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	var gotFrom, gotBody string
	svc.SetIncomingHandler(func(from, body string) {
		gotFrom, gotBody = from, body
	})

	form := url.Values{}
	form.Set("From", "whatsapp:+77011234567")
	form.Set("Body", "Сколько стоит курс?")
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if gotFrom != "77011234567" || gotBody != "Сколько стоит курс?" {
		t.Errorf("unexpected handler args from=%q body=%q", gotFrom, gotBody)
	}

	// Missing fields are rejected.
	req = httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", rec.Code)
	}
}

func TestWhatsMeowServiceDeliversInboundText(t *testing.T) {
	svc := NewWhatsMeowService(whatsapp.NewMockClient())
	var gotFrom, gotBody string
	svc.SetIncomingHandler(func(from, body string) {
		gotFrom, gotBody = from, body
	})

	body := "привет"
	svc.handleIncomingMessage(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID("77011234567", "s.whatsapp.net")},
		},
		Message: &waE2E.Message{Conversation: &body},
	})
	if gotFrom != "77011234567" {
		t.Errorf("expected bare phone number as sender, got %q", gotFrom)
	}
	if gotBody != "привет" {
		t.Errorf("unexpected message body %q", gotBody)
	}

	// Non-text payloads are ignored.
	gotFrom, gotBody = "", ""
	svc.handleIncomingMessage(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID("77011234567", "s.whatsapp.net")},
		},
		Message: &waE2E.Message{},
	})
	if gotFrom != "" || gotBody != "" {
		t.Errorf("expected non-text message to be dropped, handler got %q %q", gotFrom, gotBody)
	}
}
