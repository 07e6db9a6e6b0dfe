package models

import "time"

// MessageStatus represents the delivery lifecycle of an outbound message
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// MessageStatuses lists every status in lifecycle order
var MessageStatuses = []MessageStatus{
	MessageStatusQueued,
	MessageStatusSent,
	MessageStatusDelivered,
	MessageStatusRead,
	MessageStatusFailed,
}

// ParseMessageStatus validates a status string
func ParseMessageStatus(s string) (MessageStatus, bool) {
	for _, st := range MessageStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Rank orders statuses along the lifecycle. failed ranks highest because
// nothing may follow it.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusQueued:
		return 0
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	case MessageStatusFailed:
		return 4
	}
	return -1
}

// IsTerminal reports whether no further transition is possible
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusRead || s == MessageStatusFailed
}

// StatusSource records what caused a status change
type StatusSource string

const (
	SourceDispatch StatusSource = "dispatch"
	SourceCallback StatusSource = "callback"
)

// StatusChange is one entry of a message's status history
type StatusChange struct {
	ID        int           `json:"id" db:"id"`
	MessageID int           `json:"message_id" db:"message_id"`
	Status    MessageStatus `json:"status" db:"status"`
	Source    StatusSource  `json:"source" db:"source"`
	Note      string        `json:"note,omitempty" db:"note"`
	At        time.Time     `json:"at" db:"at"`
}

// OutboundMessage represents one (campaign, contact) send
type OutboundMessage struct {
	ID                int            `json:"id" db:"id"`
	CampaignID        int            `json:"campaign_id" db:"campaign_id"`
	ContactID         *int           `json:"contact_id,omitempty" db:"contact_id"`
	Position          int            `json:"position" db:"position"`
	Phone             string         `json:"phone" db:"phone"`
	RenderedBody      *string        `json:"rendered_body,omitempty" db:"rendered_body"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Status            MessageStatus  `json:"status" db:"status"`
	Attempts          int            `json:"attempts" db:"attempts"`
	LastError         *string        `json:"last_error,omitempty" db:"last_error"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
	SentAt            *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	History           []StatusChange `json:"status_history,omitempty"`
}

// Transition describes a compare-and-swap status change on a message.
// Optional fields are only written when non-nil; ProviderMessageID is
// never overwritten once set.
type Transition struct {
	MessageID         int
	From              MessageStatus
	To                MessageStatus
	Source            StatusSource
	Note              string
	ProviderMessageID *string
	RenderedBody      *string
	LastError         *string
	// CountsAttempt adds one to the attempt counter, set when a provider
	// call was actually made.
	CountsAttempt bool
	At            time.Time
}

// TestSendResult reports a one-off send that creates no message record
type TestSendResult struct {
	Phone             string     `json:"phone"`
	Body              string     `json:"body"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	DryRun            bool       `json:"dry_run"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
}
