// Package provider adapts the WhatsApp messaging providers to one interface.
// The variant is chosen once at startup; callers never branch on it.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wabroadcast/internal/config"
	"wabroadcast/internal/models"
)

// Provider sends messages and authenticates status callbacks.
// Each Send is exactly one outbound request; retry policy belongs to the caller.
type Provider interface {
	Name() string
	Send(ctx context.Context, to, body string) (*SendResult, error)
	// VerifyCallback checks the payload signature and parses it into status
	// events. It returns ErrInvalidSignature when authentication fails.
	VerifyCallback(ctx context.Context, raw []byte, headers http.Header) ([]StatusEvent, error)
}

// SubscriptionVerifier is implemented by providers that require a webhook
// subscription handshake before delivering callbacks.
type SubscriptionVerifier interface {
	VerifySubscription(mode, token, challenge string) (string, bool)
}

// SendResult is the provider's acceptance of a message
type SendResult struct {
	ProviderMessageID string
	AcceptedAt        time.Time
}

// EventKind tells delivery statuses apart from inbound replies
type EventKind string

const (
	// KindStatus is a delivery status for a message we sent
	KindStatus EventKind = ""
	// KindOptOut is an inbound STOP reply; From holds the sender
	KindOptOut EventKind = "opt_out"
)

// StatusEvent is one event carried by a callback
type StatusEvent struct {
	Kind              EventKind
	ProviderMessageID string
	Status            models.MessageStatus
	At                time.Time
	Recipient         string
	// From is the E.164 sender of an inbound reply
	From         string
	ErrorCode    string
	ErrorMessage string
}

// IsOptOut reports whether an inbound message body asks to unsubscribe
func IsOptOut(body string) bool {
	return strings.EqualFold(strings.TrimSpace(body), "stop")
}

// e164 prefixes digit-only numbers with '+'
func e164(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+" + phone
}

// New builds the provider selected by cfg.Name
func New(cfg config.ProviderConfig, client *http.Client) (Provider, error) {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	switch cfg.Name {
	case config.ProviderMeta:
		return NewMeta(cfg.Meta, client), nil
	case config.ProviderTwilio:
		return NewTwilio(cfg.Twilio, client), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

const maxResponseBody = 1 << 20
