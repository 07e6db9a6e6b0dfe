package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"wabroadcast/internal/config"
	"wabroadcast/internal/models"
)

const twilioSignatureHeader = "X-Twilio-Signature"

var twilioThrottleCodes = map[string]bool{
	"20429": true,
}

// Twilio sends WhatsApp messages through the Twilio Messaging API
type Twilio struct {
	cfg    config.TwilioConfig
	client *http.Client
	now    func() time.Time
}

// NewTwilio creates a Twilio WhatsApp provider
func NewTwilio(cfg config.TwilioConfig, client *http.Client) *Twilio {
	return &Twilio{cfg: cfg, client: client, now: time.Now}
}

func (t *Twilio) Name() string { return config.ProviderTwilio }

type twilioMessage struct {
	SID         string `json:"sid"`
	Status      string `json:"status"`
	DateCreated string `json:"date_created"`
	Code        *int   `json:"code"`
	Message     string `json:"message"`
}

// Send posts a form-encoded message with whatsapp: prefixed addresses
func (t *Twilio) Send(ctx context.Context, to, body string) (*SendResult, error) {
	form := url.Values{}
	form.Set("To", whatsappAddress(to))
	form.Set("From", whatsappAddress(t.cfg.From))
	form.Set("Body", body)
	if t.cfg.StatusCallbackURL != "" {
		form.Set("StatusCallback", t.cfg.StatusCallbackURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(t.cfg.BaseURL, "/"), t.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Provider: t.Name(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &UnavailableError{Provider: t.Name(), StatusCode: resp.StatusCode, Err: err}
	}

	var decoded twilioMessage
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode >= 300 {
		code, message := "", strings.TrimSpace(string(raw))
		if decoded.Code != nil {
			code = strconv.Itoa(*decoded.Code)
		}
		if decoded.Message != "" {
			message = decoded.Message
		}
		return nil, classify(t.Name(), resp.StatusCode, code, message, twilioThrottleCodes)
	}

	if decoded.SID == "" {
		return nil, &RejectedError{Provider: t.Name(), StatusCode: resp.StatusCode, Message: "accepted response carried no message sid"}
	}

	acceptedAt := t.now().UTC()
	if ts, err := time.Parse(time.RFC1123Z, decoded.DateCreated); err == nil {
		acceptedAt = ts.UTC()
	}

	return &SendResult{ProviderMessageID: decoded.SID, AcceptedAt: acceptedAt}, nil
}

// VerifyCallback validates X-Twilio-Signature against the configured status
// callback URL and maps MessageStatus. Intermediate statuses yield no event.
// An inbound message (Body without MessageStatus) yields an opt-out event
// when it is a STOP reply; the number's incoming webhook must point at the
// same URL for its signature to verify.
func (t *Twilio) VerifyCallback(_ context.Context, raw []byte, headers http.Header) ([]StatusEvent, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, ErrInvalidSignature
	}

	expected := SignTwilio(t.cfg.AuthToken, t.cfg.StatusCallbackURL, form)
	provided := headers.Get(twilioSignatureHeader)
	if t.cfg.AuthToken == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return nil, ErrInvalidSignature
	}

	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}

	if form.Get("MessageStatus") == "" && form.Has("Body") {
		from := strings.TrimPrefix(form.Get("From"), "whatsapp:")
		if from == "" || !IsOptOut(form.Get("Body")) {
			return nil, nil
		}
		return []StatusEvent{{
			Kind:              KindOptOut,
			ProviderMessageID: sid,
			From:              e164(from),
			At:                t.now().UTC(),
		}}, nil
	}

	status, ok := twilioStatusMap[strings.ToLower(form.Get("MessageStatus"))]
	if !ok || sid == "" {
		return nil, nil
	}

	return []StatusEvent{{
		ProviderMessageID: sid,
		Status:            status,
		At:                t.now().UTC(),
		Recipient:         strings.TrimPrefix(form.Get("To"), "whatsapp:"),
		ErrorCode:         form.Get("ErrorCode"),
		ErrorMessage:      form.Get("ErrorMessage"),
	}}, nil
}

var twilioStatusMap = map[string]models.MessageStatus{
	"sent":        models.MessageStatusSent,
	"delivered":   models.MessageStatusDelivered,
	"read":        models.MessageStatusRead,
	"failed":      models.MessageStatusFailed,
	"undelivered": models.MessageStatusFailed,
	"canceled":    models.MessageStatusFailed,
}

// SignTwilio computes the X-Twilio-Signature for a form POST to callbackURL
func SignTwilio(authToken, callbackURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(callbackURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
