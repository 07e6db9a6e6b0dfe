package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"wabroadcast/internal/models"
)

const contactColumns = `id, phone, first_name, last_name, email, subscribed, created_at`

type contactRepository struct {
	db *sql.DB
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *sql.DB) ContactRepository {
	return &contactRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	contact := &models.Contact{}
	err := row.Scan(
		&contact.ID,
		&contact.Phone,
		&contact.FirstName,
		&contact.LastName,
		&contact.Email,
		&contact.Subscribed,
		&contact.CreatedAt,
	)
	return contact, err
}

// Create creates a new contact
func (r *contactRepository) Create(ctx context.Context, contact *models.Contact) error {
	query := `
		INSERT INTO contacts (phone, first_name, last_name, email, subscribed)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		contact.Phone,
		contact.FirstName,
		contact.LastName,
		contact.Email,
		contact.Subscribed,
	).Scan(&contact.ID, &contact.CreatedAt)

	if err != nil {
		return wrapInsertError("contact", err)
	}

	return nil
}

// GetByID retrieves a contact by ID
func (r *contactRepository) GetByID(ctx context.Context, id int) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`

	contact, err := scanContact(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return contact, nil
}

// GetByIDs retrieves multiple contacts by IDs
func (r *contactRepository) GetByIDs(ctx context.Context, ids []int) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return []*models.Contact{}, nil
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = ANY($1) ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}
	defer rows.Close()

	return collectContacts(rows)
}

// List retrieves contacts with pagination and the total count
func (r *contactRepository) List(ctx context.Context, limit, offset int) ([]*models.Contact, int, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts ORDER BY id DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	contacts, err := collectContacts(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count contacts: %w", err)
	}

	return contacts, total, nil
}

// SetSubscribed updates the subscription flag, the only mutable contact field
func (r *contactRepository) SetSubscribed(ctx context.Context, id int, subscribed bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE contacts SET subscribed = $1 WHERE id = $2`, subscribed, id)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("contact %d: %w", id, ErrNotFound)
	}

	return nil
}

// UnsubscribeByPhone opts a contact out after a STOP reply
func (r *contactRepository) UnsubscribeByPhone(ctx context.Context, phone string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET subscribed = FALSE
		WHERE phone = $1 AND subscribed
	`, phone)
	if err != nil {
		return false, fmt.Errorf("failed to unsubscribe %s: %w", phone, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func collectContacts(rows *sql.Rows) ([]*models.Contact, error) {
	contacts := []*models.Contact{}
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return contacts, nil
}
