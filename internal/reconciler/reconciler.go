// Package reconciler applies provider status callbacks to outbound messages.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"wabroadcast/internal/delivery"
	"wabroadcast/internal/provider"
	"wabroadcast/internal/repository"
)

// Outcome is the answer returned to the webhook transport
type Outcome string

const (
	OutcomeAck    Outcome = "ack"
	OutcomeReject Outcome = "reject"
)

// Result summarises one callback delivery
type Result struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	// Retryable asks the provider to deliver the callback again later.
	Retryable bool `json:"retryable"`
	// Unauthenticated marks a payload that failed the signature check.
	Unauthenticated bool     `json:"unauthenticated,omitempty"`
	Applied         int      `json:"applied"`
	Duplicates      int      `json:"duplicates"`
	Conflicts       int      `json:"conflicts"`
	Ignored         int      `json:"ignored"`
	OptedOut        int      `json:"opted_out"`
	Unmatched       []string `json:"unmatched,omitempty"`
}

// Reconciler matches callback events to messages by provider message id
// and opts out contacts who reply STOP.
type Reconciler struct {
	provider provider.Provider
	messages repository.MessageRepository
	contacts repository.ContactRepository
	machine  *delivery.Machine
	log      zerolog.Logger
}

// New creates a reconciler for the configured provider
func New(p provider.Provider, messages repository.MessageRepository, contacts repository.ContactRepository, machine *delivery.Machine, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		provider: p,
		messages: messages,
		contacts: contacts,
		machine:  machine,
		log:      log.With().Str("component", "reconciler").Logger(),
	}
}

// HandleCallback authenticates raw, then applies every status event it
// carries. Nothing is applied when authentication fails. Events for unknown
// provider ids are not buffered; the result asks the caller to retry.
// The returned error is reserved for storage failures.
func (r *Reconciler) HandleCallback(ctx context.Context, raw []byte, headers http.Header) (Result, error) {
	events, err := r.provider.VerifyCallback(ctx, raw, headers)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidSignature) {
			r.log.Warn().Str("provider", r.provider.Name()).Msg("callback signature rejected")
			return Result{Outcome: OutcomeReject, Reason: err.Error(), Unauthenticated: true}, nil
		}
		r.log.Warn().Err(err).Str("provider", r.provider.Name()).Msg("malformed callback")
		return Result{Outcome: OutcomeReject, Reason: err.Error()}, nil
	}

	result := Result{Outcome: OutcomeAck}
	for _, ev := range events {
		if ev.Kind == provider.KindOptOut {
			changed, err := r.contacts.UnsubscribeByPhone(ctx, ev.From)
			if err != nil {
				return result, err
			}
			if changed {
				result.OptedOut++
				r.log.Info().Str("phone", ev.From).Msg("contact opted out")
			}
			continue
		}

		event, ok := delivery.CallbackEvent(ev.Status)
		if !ok {
			result.Ignored++
			continue
		}

		msg, err := r.messages.GetByProviderMessageID(ctx, ev.ProviderMessageID)
		if errors.Is(err, repository.ErrNotFound) {
			result.Unmatched = append(result.Unmatched, ev.ProviderMessageID)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to look up provider message %s: %w", ev.ProviderMessageID, err)
		}

		// History rows are stamped by the local clock so they sort with the
		// dispatch rows; the provider's own time goes in the note.
		update := delivery.Update{Event: event}
		if !ev.At.IsZero() {
			update.Note = "provider time " + ev.At.UTC().Format(time.RFC3339)
		}
		if ev.ErrorCode != "" || ev.ErrorMessage != "" {
			reason := fmt.Sprintf("%s: %s", ev.ErrorCode, ev.ErrorMessage)
			update.Note = joinNote(update.Note, reason)
			update.LastError = &reason
		}

		res, err := r.machine.Apply(ctx, msg, update)
		if err != nil && !errors.Is(err, delivery.ErrStateConflict) {
			return result, err
		}
		switch {
		case res.Applied:
			result.Applied++
		case res.Duplicate:
			result.Duplicates++
		default:
			result.Conflicts++
		}
	}

	if len(result.Unmatched) > 0 {
		result.Outcome = OutcomeReject
		result.Retryable = true
		result.Reason = fmt.Sprintf("%d unknown provider message id(s)", len(result.Unmatched))
		r.log.Info().Strs("provider_message_ids", result.Unmatched).Msg("callback for unknown messages, asking provider to retry")
	}

	r.log.Debug().
		Int("events", len(events)).
		Int("applied", result.Applied).
		Int("duplicates", result.Duplicates).
		Int("conflicts", result.Conflicts).
		Int("opted_out", result.OptedOut).
		Msg("callback reconciled")
	return result, nil
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
