// Package delivery owns the lifecycle of outbound message records.
//
// Status moves queued -> sent -> delivered -> read, with failed reachable
// from queued or sent. read and failed are terminal. Every change is a
// compare-and-swap on the stored status, so the dispatcher and the
// callback path can race on the same record without corrupting it.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"wabroadcast/internal/models"
	"wabroadcast/internal/repository"
)

// ErrStateConflict reports an event that is illegal for the record's status.
// It is informational: conflicts are no-ops, never failures.
var ErrStateConflict = errors.New("state conflict")

// Event is something that may advance a message
type Event string

const (
	EventDispatched        Event = "dispatch:success"
	EventRejected          Event = "dispatch:rejected"
	EventRetriesExhausted  Event = "dispatch:exhausted"
	EventCallbackSent      Event = "callback:sent"
	EventCallbackDelivered Event = "callback:delivered"
	EventCallbackRead      Event = "callback:read"
	EventCallbackFailed    Event = "callback:failed"
)

// CallbackEvent maps a provider-reported status to its event
func CallbackEvent(status models.MessageStatus) (Event, bool) {
	switch status {
	case models.MessageStatusSent:
		return EventCallbackSent, true
	case models.MessageStatusDelivered:
		return EventCallbackDelivered, true
	case models.MessageStatusRead:
		return EventCallbackRead, true
	case models.MessageStatusFailed:
		return EventCallbackFailed, true
	}
	return "", false
}

// Source reports who produced the event
func (e Event) Source() models.StatusSource {
	switch e {
	case EventDispatched, EventRejected, EventRetriesExhausted:
		return models.SourceDispatch
	}
	return models.SourceCallback
}

// target is the status the event asks for, used to spot duplicates
func (e Event) target() models.MessageStatus {
	switch e {
	case EventDispatched, EventCallbackSent:
		return models.MessageStatusSent
	case EventCallbackDelivered:
		return models.MessageStatusDelivered
	case EventCallbackRead:
		return models.MessageStatusRead
	}
	return models.MessageStatusFailed
}

type edge struct {
	from  models.MessageStatus
	event Event
}

// transitions is the complete table; anything missing is a no-op.
//
// It carries one edge beyond the plain queued -> sent -> delivered -> read
// chain: sent + callback:read -> read. Callbacks are not ordered, and a read
// receipt implies the message was delivered, so a read that overtakes its
// delivered callback is applied rather than dropped. The late delivered
// then lands on a terminal record and is a conflict no-op. Without the
// edge the record would stay at sent forever whenever the provider skips
// or reorders delivered.
var transitions = map[edge]models.MessageStatus{
	{models.MessageStatusQueued, EventDispatched}:          models.MessageStatusSent,
	{models.MessageStatusQueued, EventRejected}:            models.MessageStatusFailed,
	{models.MessageStatusQueued, EventRetriesExhausted}:    models.MessageStatusFailed,
	{models.MessageStatusSent, EventCallbackDelivered}:     models.MessageStatusDelivered,
	{models.MessageStatusSent, EventCallbackFailed}:        models.MessageStatusFailed,
	{models.MessageStatusDelivered, EventCallbackRead}:     models.MessageStatusRead,
	{models.MessageStatusSent, EventCallbackRead}:          models.MessageStatusRead,
}

// Next returns the status that event moves current to, or false when the
// combination is not in the transition table.
func Next(current models.MessageStatus, event Event) (models.MessageStatus, bool) {
	next, ok := transitions[edge{current, event}]
	return next, ok
}

// Update is an event plus the data to record with it
type Update struct {
	Event             Event
	Note              string
	ProviderMessageID *string
	RenderedBody      *string
	LastError         *string
	CountsAttempt     bool
	At                time.Time
}

// Result describes what Apply did
type Result struct {
	MessageID int
	From      models.MessageStatus
	To        models.MessageStatus
	Applied   bool
	// Duplicate is set when the record already reflects the event.
	Duplicate bool
	// Conflict is set when the event was illegal for the record's status.
	Conflict bool
}

// Err returns ErrStateConflict for conflicting results
func (r Result) Err() error {
	if r.Conflict {
		return fmt.Errorf("message %d in %s: %w", r.MessageID, r.From, ErrStateConflict)
	}
	return nil
}

// maxRounds bounds reload-and-retry after a lost race. Status only moves
// forward, so a record can change under us at most a handful of times.
const maxRounds = 5

// Machine applies events to stored messages
type Machine struct {
	messages repository.MessageRepository
	log      zerolog.Logger
	now      func() time.Time
}

// NewMachine creates a state machine over the message repository
func NewMachine(messages repository.MessageRepository, log zerolog.Logger) *Machine {
	return &Machine{
		messages: messages,
		log:      log.With().Str("component", "delivery").Logger(),
		now:      time.Now,
	}
}

// Apply advances msg by u. msg.Status is used as the first read; when the
// stored status has moved on, the record is reloaded and the event
// re-evaluated against the fresh status.
func (m *Machine) Apply(ctx context.Context, msg *models.OutboundMessage, u Update) (Result, error) {
	if u.At.IsZero() {
		u.At = m.now().UTC()
	}

	current := msg.Status
	for round := 0; round < maxRounds; round++ {
		result := Result{MessageID: msg.ID, From: current, To: current}

		next, ok := Next(current, u.Event)
		if !ok {
			m.noop(&result, u)
			return result, nil
		}

		applied, err := m.messages.Transition(ctx, models.Transition{
			MessageID:         msg.ID,
			From:              current,
			To:                next,
			Source:            u.Event.Source(),
			Note:              u.Note,
			ProviderMessageID: u.ProviderMessageID,
			RenderedBody:      u.RenderedBody,
			LastError:         u.LastError,
			CountsAttempt:     u.CountsAttempt,
			At:                u.At,
		})
		if err != nil {
			return result, fmt.Errorf("failed to apply %s to message %d: %w", u.Event, msg.ID, err)
		}
		if applied {
			result.To = next
			result.Applied = true
			m.log.Debug().
				Int("message_id", msg.ID).
				Str("from", string(current)).
				Str("to", string(next)).
				Str("event", string(u.Event)).
				Msg("status changed")
			return result, nil
		}

		fresh, err := m.messages.GetByID(ctx, msg.ID)
		if err != nil {
			return result, fmt.Errorf("failed to reload message %d: %w", msg.ID, err)
		}
		current = fresh.Status
	}

	return Result{MessageID: msg.ID, From: current, To: current, Conflict: true},
		fmt.Errorf("message %d kept changing while applying %s: %w", msg.ID, u.Event, ErrStateConflict)
}

func (m *Machine) noop(result *Result, u Update) {
	if u.Event.target() == result.From {
		result.Duplicate = true
		m.log.Debug().
			Int("message_id", result.MessageID).
			Str("status", string(result.From)).
			Str("event", string(u.Event)).
			Msg("duplicate event ignored")
		return
	}

	result.Conflict = true
	ev := m.log.Warn()
	if result.From.IsTerminal() {
		ev = m.log.Info()
	}
	ev.Int("message_id", result.MessageID).
		Str("status", string(result.From)).
		Str("event", string(u.Event)).
		Msg("state conflict, event ignored")
}
