package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"wabroadcast/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("duplicate")
)

// uniqueViolation is the Postgres error code for a unique constraint failure
const uniqueViolation = "23505"

// wrapInsertError maps unique violations to ErrDuplicate
func wrapInsertError(what string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("failed to create %s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("failed to create %s: %w", what, err)
}

// ContactRepository defines contact data access operations
type ContactRepository interface {
	Create(ctx context.Context, contact *models.Contact) error
	GetByID(ctx context.Context, id int) (*models.Contact, error)
	GetByIDs(ctx context.Context, ids []int) ([]*models.Contact, error)
	List(ctx context.Context, limit, offset int) ([]*models.Contact, int, error)
	SetSubscribed(ctx context.Context, id int, subscribed bool) error
	// UnsubscribeByPhone clears the flag for phone and reports whether a
	// subscribed contact was changed. Unknown numbers are not an error.
	UnsubscribeByPhone(ctx context.Context, phone string) (bool, error)
}

// TemplateRepository defines template data access operations
type TemplateRepository interface {
	Create(ctx context.Context, template *models.Template) error
	GetByID(ctx context.Context, id int) (*models.Template, error)
	GetByName(ctx context.Context, name string) (*models.Template, error)
	List(ctx context.Context) ([]*models.Template, error)
}

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id int) (*models.Campaign, error)
	GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error)
	List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error)
	ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	AddContacts(ctx context.Context, campaignID int, contactIDs []int) (int, error)
	ListContacts(ctx context.Context, campaignID int) ([]*models.Contact, error)
	// CompareAndSetStatus moves the campaign from one status to another and
	// reports false when the campaign was not in the expected status.
	CompareAndSetStatus(ctx context.Context, id int, from, to models.CampaignStatus) (bool, error)
}

// CampaignFilters defines filters for listing campaigns
type CampaignFilters struct {
	Page     int
	PageSize int
	Status   *models.CampaignStatus
}

// MessageRepository defines outbound message data access operations
type MessageRepository interface {
	// CreateQueued inserts queued records, skipping (campaign, contact)
	// pairs that already exist. It returns the number inserted.
	CreateQueued(ctx context.Context, messages []*models.OutboundMessage) (int, error)
	GetByID(ctx context.Context, id int) (*models.OutboundMessage, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*models.OutboundMessage, error)
	ListQueued(ctx context.Context, campaignID, afterPosition, limit int) ([]*models.OutboundMessage, error)
	ListByCampaign(ctx context.Context, campaignID int, status *models.MessageStatus, limit, offset int) ([]*models.OutboundMessage, error)
	CountByStatus(ctx context.Context, campaignID int) (models.CampaignStats, error)
	// Transition applies t only if the record is still in t.From and
	// reports whether it did.
	Transition(ctx context.Context, t models.Transition) (bool, error)
	// RecordAttempt counts a failed retryable attempt while the record is
	// still queued.
	RecordAttempt(ctx context.Context, messageID int, note string) (bool, error)
	History(ctx context.Context, messageID int) ([]models.StatusChange, error)
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
