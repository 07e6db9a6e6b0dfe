package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"wabroadcast/internal/config"
	"wabroadcast/internal/models"
)

const testCallbackURL = "https://example.com/webhook"

func newTestTwilio(baseURL string) *Twilio {
	return NewTwilio(config.TwilioConfig{
		BaseURL:           baseURL,
		AccountSID:        "AC123",
		AuthToken:         "twilio-token",
		From:              "+14155238886",
		StatusCallbackURL: testCallbackURL,
	}, &http.Client{Timeout: time.Second})
}

func TestTwilio_Send_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "twilio-token" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("To") != "whatsapp:+254700000001" {
			t.Errorf("To = %q", r.PostForm.Get("To"))
		}
		if r.PostForm.Get("From") != "whatsapp:+14155238886" {
			t.Errorf("From = %q", r.PostForm.Get("From"))
		}
		if r.PostForm.Get("StatusCallback") != testCallbackURL {
			t.Errorf("StatusCallback = %q", r.PostForm.Get("StatusCallback"))
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM0001","status":"queued","date_created":"Wed, 01 May 2024 10:00:00 +0000"}`))
	}))
	defer srv.Close()

	res, err := newTestTwilio(srv.URL).Send(context.Background(), "+254700000001", "Hi Bob")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderMessageID != "SM0001" {
		t.Errorf("ProviderMessageID = %q", res.ProviderMessageID)
	}
	if !res.AcceptedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("AcceptedAt = %v", res.AcceptedAt)
	}
}

func TestTwilio_Send_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"invalid number", 400, `{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`, false},
		{"auth", 401, `{"code":20003,"message":"Authenticate","status":401}`, false},
		{"too many requests", 429, `{"code":20429,"message":"Too Many Requests","status":429}`, true},
		{"unavailable", 503, `{"code":20500,"message":"Internal","status":503}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestTwilio(srv.URL).Send(context.Background(), "+254700000001", "hi")
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v (err %v)", IsRetryable(err), tt.retryable, err)
			}
			var rejected *RejectedError
			if !tt.retryable && !errors.As(err, &rejected) {
				t.Errorf("expected *RejectedError, got %T", err)
			}
		})
	}
}

func signedTwilioCallback(t *testing.T, form url.Values) ([]byte, http.Header) {
	t.Helper()
	headers := http.Header{}
	headers.Set(twilioSignatureHeader, SignTwilio("twilio-token", testCallbackURL, form))
	return []byte(form.Encode()), headers
}

func TestTwilio_VerifyCallback(t *testing.T) {
	tw := newTestTwilio("http://unused")

	tests := []struct {
		status string
		want   models.MessageStatus
		events int
	}{
		{"delivered", models.MessageStatusDelivered, 1},
		{"read", models.MessageStatusRead, 1},
		{"undelivered", models.MessageStatusFailed, 1},
		{"queued", "", 0},
		{"sending", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			form := url.Values{
				"MessageSid":    {"SM0001"},
				"MessageStatus": {tt.status},
				"To":            {"whatsapp:+254700000001"},
				"AccountSid":    {"AC123"},
			}
			raw, headers := signedTwilioCallback(t, form)

			events, err := tw.VerifyCallback(context.Background(), raw, headers)
			if err != nil {
				t.Fatalf("VerifyCallback: %v", err)
			}
			if len(events) != tt.events {
				t.Fatalf("got %d events, want %d", len(events), tt.events)
			}
			if tt.events == 1 {
				if events[0].Status != tt.want || events[0].ProviderMessageID != "SM0001" {
					t.Errorf("event = %+v", events[0])
				}
				if events[0].Recipient != "+254700000001" {
					t.Errorf("recipient = %q", events[0].Recipient)
				}
			}
		})
	}
}

func TestTwilio_VerifyCallback_InboundReply(t *testing.T) {
	tw := newTestTwilio("http://unused")

	tests := []struct {
		name   string
		body   string
		events int
	}{
		{"stop", "STOP", 1},
		{"other text", "menu", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{
				"MessageSid": {"SM0099"},
				"SmsStatus":  {"received"},
				"From":       {"whatsapp:+254700000001"},
				"To":         {"whatsapp:+14155238886"},
				"Body":       {tt.body},
			}
			raw, headers := signedTwilioCallback(t, form)

			events, err := tw.VerifyCallback(context.Background(), raw, headers)
			if err != nil {
				t.Fatalf("VerifyCallback: %v", err)
			}
			if len(events) != tt.events {
				t.Fatalf("got %d events, want %d", len(events), tt.events)
			}
			if tt.events == 1 && (events[0].Kind != KindOptOut || events[0].From != "+254700000001") {
				t.Errorf("event = %+v", events[0])
			}
		})
	}
}

func TestTwilio_VerifyCallback_TamperedBody(t *testing.T) {
	tw := newTestTwilio("http://unused")
	form := url.Values{"MessageSid": {"SM0001"}, "MessageStatus": {"delivered"}}
	_, headers := signedTwilioCallback(t, form)

	form.Set("MessageStatus", "read")
	_, err := tw.VerifyCallback(context.Background(), []byte(form.Encode()), headers)

	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestNew_SelectsVariant(t *testing.T) {
	p, err := New(config.ProviderConfig{Name: config.ProviderMeta, Timeout: time.Second}, nil)
	if err != nil || p.Name() != "meta" {
		t.Fatalf("New(meta) = %v, %v", p, err)
	}
	if _, ok := p.(SubscriptionVerifier); !ok {
		t.Error("meta provider should support the subscription handshake")
	}

	p, err = New(config.ProviderConfig{Name: config.ProviderTwilio}, nil)
	if err != nil || p.Name() != "twilio" {
		t.Fatalf("New(twilio) = %v, %v", p, err)
	}

	if _, err := New(config.ProviderConfig{Name: "sms"}, nil); err == nil {
		t.Error("unknown provider should fail")
	}
}
