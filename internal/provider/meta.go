package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wabroadcast/internal/config"
	"wabroadcast/internal/models"
)

const metaSignatureHeader = "X-Hub-Signature-256"

// Graph API error codes that signal rate limiting rather than a bad request.
var metaThrottleCodes = map[string]bool{
	"4":      true,
	"80007":  true,
	"130429": true,
	"131048": true,
	"131056": true,
}

// Meta talks to the WhatsApp Cloud API
type Meta struct {
	cfg    config.MetaConfig
	client *http.Client
	now    func() time.Time
}

// NewMeta creates a WhatsApp Cloud API provider
func NewMeta(cfg config.MetaConfig, client *http.Client) *Meta {
	return &Meta{cfg: cfg, client: client, now: time.Now}
}

func (m *Meta) Name() string { return config.ProviderMeta }

type metaSendRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             metaTextBody `json:"text"`
}

type metaTextBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type metaSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *metaError `json:"error"`
}

type metaError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
}

// Send posts a text message. The Cloud API wants the number without "+".
func (m *Meta) Send(ctx context.Context, to, body string) (*SendResult, error) {
	payload, err := json.Marshal(metaSendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             metaTextBody{Body: body},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode meta request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(m.cfg.BaseURL, "/"), m.cfg.APIVersion, m.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build meta request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Provider: m.Name(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &UnavailableError{Provider: m.Name(), StatusCode: resp.StatusCode, Err: err}
	}

	var decoded metaSendResponse
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode >= 300 {
		code, message := "", strings.TrimSpace(string(raw))
		if decoded.Error != nil {
			code = strconv.Itoa(decoded.Error.Code)
			message = decoded.Error.Message
		}
		return nil, classify(m.Name(), resp.StatusCode, code, message, metaThrottleCodes)
	}

	if len(decoded.Messages) == 0 || decoded.Messages[0].ID == "" {
		return nil, &RejectedError{Provider: m.Name(), StatusCode: resp.StatusCode, Message: "accepted response carried no message id"}
	}

	return &SendResult{ProviderMessageID: decoded.Messages[0].ID, AcceptedAt: m.now().UTC()}, nil
}

type metaWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Statuses []metaStatus  `json:"statuses"`
				Messages []metaInbound `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type metaStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors"`
}

type metaInbound struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

// VerifyCallback checks X-Hub-Signature-256 and extracts message statuses
// and STOP replies. Other inbound messages and unknown status values are
// ignored.
func (m *Meta) VerifyCallback(_ context.Context, raw []byte, headers http.Header) ([]StatusEvent, error) {
	if !m.validSignature(raw, headers.Get(metaSignatureHeader)) {
		return nil, ErrInvalidSignature
	}

	var hook metaWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return nil, fmt.Errorf("failed to decode meta callback: %w", err)
	}

	var events []StatusEvent
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				status, ok := metaStatusMap[st.Status]
				if !ok || st.ID == "" {
					continue
				}
				event := StatusEvent{
					ProviderMessageID: st.ID,
					Status:            status,
					At:                m.parseTimestamp(st.Timestamp),
					Recipient:         st.RecipientID,
				}
				if len(st.Errors) > 0 {
					event.ErrorCode = strconv.Itoa(st.Errors[0].Code)
					event.ErrorMessage = st.Errors[0].Title
					if st.Errors[0].Message != "" {
						event.ErrorMessage = st.Errors[0].Message
					}
				}
				events = append(events, event)
			}
			for _, in := range change.Value.Messages {
				if in.Type != "text" || in.From == "" || !IsOptOut(in.Text.Body) {
					continue
				}
				events = append(events, StatusEvent{
					Kind:              KindOptOut,
					ProviderMessageID: in.ID,
					From:              e164(in.From),
					At:                m.parseTimestamp(in.Timestamp),
				})
			}
		}
	}

	return events, nil
}

var metaStatusMap = map[string]models.MessageStatus{
	"sent":      models.MessageStatusSent,
	"delivered": models.MessageStatusDelivered,
	"read":      models.MessageStatusRead,
	"failed":    models.MessageStatusFailed,
}

func (m *Meta) parseTimestamp(ts string) time.Time {
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return m.now().UTC()
}

func (m *Meta) validSignature(raw []byte, header string) bool {
	if m.cfg.AppSecret == "" {
		return false
	}
	sig := strings.TrimSpace(header)
	if !strings.HasPrefix(sig, "sha256=") {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(m.cfg.AppSecret))
	mac.Write(raw)
	return subtle.ConstantTimeCompare(provided, mac.Sum(nil)) == 1
}

// VerifySubscription answers the hub.mode=subscribe handshake
func (m *Meta) VerifySubscription(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || m.cfg.VerifyToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(m.cfg.VerifyToken)) != 1 {
		return "", false
	}
	return challenge, true
}

// SignMeta computes the X-Hub-Signature-256 value for body
func SignMeta(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
