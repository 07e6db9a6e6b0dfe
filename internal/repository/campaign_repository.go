package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"wabroadcast/internal/models"
)

const campaignColumns = `id, name, template_id, status, dry_run, created_at, updated_at, started_at, completed_at`

type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	campaign := &models.Campaign{}
	err := row.Scan(
		&campaign.ID,
		&campaign.Name,
		&campaign.TemplateID,
		&campaign.Status,
		&campaign.DryRun,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
		&campaign.StartedAt,
		&campaign.CompletedAt,
	)
	return campaign, err
}

// Create creates a new campaign
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	query := `
		INSERT INTO campaigns (name, template_id, status, dry_run)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		campaign.Name,
		campaign.TemplateID,
		campaign.Status,
		campaign.DryRun,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetWithStats retrieves a campaign with per-status message counts
func (r *campaignRepository) GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	campaign, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := countMessagesByStatus(ctx, r.db, id)
	if err != nil {
		return nil, err
	}

	return &models.CampaignWithStats{
		Campaign: *campaign,
		Stats:    stats,
	}, nil
}

// List retrieves campaigns with filters and pagination
func (r *campaignRepository) List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`)

	args := []interface{}{}
	argPos := 1

	if filters.Status != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND status = $%d", argPos))
		args = append(args, *filters.Status)
		argPos++
	}

	// Order by ID DESC for stable pagination
	queryBuilder.WriteString(" ORDER BY id DESC")

	limit := filters.PageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := (filters.Page - 1) * limit
	if offset < 0 {
		offset = 0
	}

	queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1))
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns, err := collectCampaigns(rows)
	if err != nil {
		return nil, 0, err
	}

	countQuery := "SELECT COUNT(*) FROM campaigns WHERE 1=1"
	countArgs := []interface{}{}
	if filters.Status != nil {
		countQuery += " AND status = $1"
		countArgs = append(countArgs, *filters.Status)
	}

	var totalCount int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	return campaigns, totalCount, nil
}

// ListByStatus returns every campaign currently in status, oldest first
func (r *campaignRepository) ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns by status: %w", err)
	}
	defer rows.Close()

	return collectCampaigns(rows)
}

// AddContacts appends contacts to the campaign in the given order.
// Contacts already in the campaign keep their original position.
func (r *campaignRepository) AddContacts(ctx context.Context, campaignID int, contactIDs []int) (int, error) {
	if len(contactIDs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO campaign_contacts (campaign_id, contact_id, position)
		SELECT $1, ids.contact_id, base.max_pos + ids.ord
		FROM unnest($2::int[]) WITH ORDINALITY AS ids(contact_id, ord),
			(SELECT COALESCE(MAX(position), 0) AS max_pos FROM campaign_contacts WHERE campaign_id = $1) base
		ON CONFLICT (campaign_id, contact_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, campaignID, pq.Array(contactIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to add campaign contacts: %w", err)
	}

	added, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(added), nil
}

// ListContacts returns the campaign's contacts in join order
func (r *campaignRepository) ListContacts(ctx context.Context, campaignID int) ([]*models.Contact, error) {
	query := `
		SELECT c.id, c.phone, c.first_name, c.last_name, c.email, c.subscribed, c.created_at
		FROM campaign_contacts cc
		JOIN contacts c ON c.id = cc.contact_id
		WHERE cc.campaign_id = $1
		ORDER BY cc.position
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign contacts: %w", err)
	}
	defer rows.Close()

	return collectContacts(rows)
}

// CompareAndSetStatus updates campaign status only when it is currently from
func (r *campaignRepository) CompareAndSetStatus(ctx context.Context, id int, from, to models.CampaignStatus) (bool, error) {
	starting := to == models.CampaignStatusRunning
	finishing := to == models.CampaignStatusCompleted || to == models.CampaignStatusCancelled

	query := `
		UPDATE campaigns
		SET status = $1,
			updated_at = CURRENT_TIMESTAMP,
			started_at = CASE WHEN $4 THEN CURRENT_TIMESTAMP ELSE started_at END,
			completed_at = CASE WHEN $5 THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, to, id, from, starting, finishing)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

func collectCampaigns(rows *sql.Rows) ([]*models.Campaign, error) {
	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaigns: %w", err)
	}
	return campaigns, nil
}

func countMessagesByStatus(ctx context.Context, db DB, campaignID int) (models.CampaignStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE status = 'queued') as queued,
			COUNT(*) FILTER (WHERE status = 'sent') as sent,
			COUNT(*) FILTER (WHERE status = 'delivered') as delivered,
			COUNT(*) FILTER (WHERE status = 'read') as read,
			COUNT(*) FILTER (WHERE status = 'failed') as failed
		FROM outbound_messages
		WHERE campaign_id = $1
	`

	stats := models.CampaignStats{}
	err := db.QueryRowContext(ctx, query, campaignID).Scan(
		&stats.Total,
		&stats.Queued,
		&stats.Sent,
		&stats.Delivered,
		&stats.Read,
		&stats.Failed,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return stats, nil
}
