package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wabroadcast/internal/models"
)

const messageColumns = `id, campaign_id, contact_id, position, phone, rendered_body, provider_message_id,
	status, attempts, last_error, created_at, updated_at, sent_at`

type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

func scanMessage(row rowScanner) (*models.OutboundMessage, error) {
	message := &models.OutboundMessage{}
	err := row.Scan(
		&message.ID,
		&message.CampaignID,
		&message.ContactID,
		&message.Position,
		&message.Phone,
		&message.RenderedBody,
		&message.ProviderMessageID,
		&message.Status,
		&message.Attempts,
		&message.LastError,
		&message.CreatedAt,
		&message.UpdatedAt,
		&message.SentAt,
	)
	return message, err
}

// CreateQueued inserts queued messages in one transaction
func (r *messageRepository) CreateQueued(ctx context.Context, messages []*models.OutboundMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outbound_messages (campaign_id, contact_id, position, phone, status)
		VALUES ($1, $2, $3, $4, 'queued')
		ON CONFLICT (campaign_id, contact_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	created := 0
	for _, message := range messages {
		err := stmt.QueryRowContext(
			ctx,
			message.CampaignID,
			message.ContactID,
			message.Position,
			message.Phone,
		).Scan(&message.ID, &message.CreatedAt, &message.UpdatedAt)

		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to create message: %w", err)
		}
		message.Status = models.MessageStatusQueued
		created++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return created, nil
}

// GetByID retrieves a message by ID
func (r *messageRepository) GetByID(ctx context.Context, id int) (*models.OutboundMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM outbound_messages WHERE id = $1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// GetByProviderMessageID retrieves the message a provider callback refers to
func (r *messageRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*models.OutboundMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM outbound_messages WHERE provider_message_id = $1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, providerMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider message %q: %w", providerMessageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// ListQueued returns the next page of queued messages after afterPosition
func (r *messageRepository) ListQueued(ctx context.Context, campaignID, afterPosition, limit int) ([]*models.OutboundMessage, error) {
	query := `SELECT ` + messageColumns + `
		FROM outbound_messages
		WHERE campaign_id = $1 AND status = 'queued' AND position > $2
		ORDER BY position
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// ListByCampaign retrieves a campaign's messages, optionally filtered by status
func (r *messageRepository) ListByCampaign(ctx context.Context, campaignID int, status *models.MessageStatus, limit, offset int) ([]*models.OutboundMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM outbound_messages WHERE campaign_id = $1`
	args := []interface{}{campaignID}

	if status != nil {
		query += " AND status = $2"
		args = append(args, *status)
	}
	query += fmt.Sprintf(" ORDER BY position LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages by campaign: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// CountByStatus returns per-status counts for a campaign
func (r *messageRepository) CountByStatus(ctx context.Context, campaignID int) (models.CampaignStats, error) {
	return countMessagesByStatus(ctx, r.db, campaignID)
}

// Transition performs the compare-and-swap status update together with its
// history row. It returns false without writing anything when the record
// is no longer in t.From.
func (r *messageRepository) Transition(ctx context.Context, t models.Transition) (bool, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	attempts := 0
	if t.CountsAttempt {
		attempts = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE outbound_messages
		SET status = $1,
			provider_message_id = COALESCE(provider_message_id, $2),
			rendered_body = COALESCE($3, rendered_body),
			last_error = COALESCE($4, last_error),
			attempts = attempts + $5,
			sent_at = CASE WHEN $9 AND sent_at IS NULL THEN $6 ELSE sent_at END,
			updated_at = $6
		WHERE id = $7 AND status = $8
	`,
		t.To,
		t.ProviderMessageID,
		t.RenderedBody,
		t.LastError,
		attempts,
		at,
		t.MessageID,
		t.From,
		t.To == models.MessageStatusSent,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition message %d: %w", t.MessageID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if err := insertHistory(ctx, tx, t.MessageID, t.To, t.Source, t.Note, at); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// RecordAttempt bumps the attempt counter and logs the failed attempt
func (r *messageRepository) RecordAttempt(ctx context.Context, messageID int, note string) (bool, error) {
	at := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE outbound_messages
		SET attempts = attempts + 1, last_error = $1, updated_at = $2
		WHERE id = $3 AND status = 'queued'
	`, note, at, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to record attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if err := insertHistory(ctx, tx, messageID, models.MessageStatusQueued, models.SourceDispatch, note, at); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// History returns a message's status changes in the order they were
// recorded. Rows are ordered by id; callback timestamps come from
// different clocks and cannot order the trail.
func (r *messageRepository) History(ctx context.Context, messageID int) ([]models.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, status, source, note, at
		FROM message_status_history
		WHERE message_id = $1
		ORDER BY id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message history: %w", err)
	}
	defer rows.Close()

	history := []models.StatusChange{}
	for rows.Next() {
		var change models.StatusChange
		if err := rows.Scan(&change.ID, &change.MessageID, &change.Status, &change.Source, &change.Note, &change.At); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		history = append(history, change)
	}

	return history, rows.Err()
}

func insertHistory(ctx context.Context, db DB, messageID int, status models.MessageStatus, source models.StatusSource, note string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO message_status_history (message_id, status, source, note, at)
		VALUES ($1, $2, $3, $4, $5)
	`, messageID, status, source, note, at)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

func collectMessages(rows *sql.Rows) ([]*models.OutboundMessage, error) {
	messages := []*models.OutboundMessage{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
