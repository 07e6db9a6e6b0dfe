package models

import (
	"fmt"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// ParseCampaignStatus validates a status string
func ParseCampaignStatus(s string) (CampaignStatus, bool) {
	switch CampaignStatus(s) {
	case CampaignStatusDraft, CampaignStatusRunning, CampaignStatusCompleted, CampaignStatusCancelled:
		return CampaignStatus(s), true
	}
	return "", false
}

// Campaign represents a campaign in the system
type Campaign struct {
	ID          int            `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	TemplateID  int            `json:"template_id" db:"template_id"`
	Status      CampaignStatus `json:"status" db:"status"`
	DryRun      bool           `json:"dry_run" db:"dry_run"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// CampaignStats holds per-status message counts for a campaign
type CampaignStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
}

// Add increments the counter for status
func (s *CampaignStats) Add(status MessageStatus, n int) {
	s.Total += n
	switch status {
	case MessageStatusQueued:
		s.Queued += n
	case MessageStatusSent:
		s.Sent += n
	case MessageStatusDelivered:
		s.Delivered += n
	case MessageStatusRead:
		s.Read += n
	case MessageStatusFailed:
		s.Failed += n
	}
}

// CampaignWithStats represents a campaign with its statistics
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// Validate checks if the campaign fields are valid
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.TemplateID <= 0 {
		return fmt.Errorf("template_id is required")
	}
	return nil
}

// CanStart checks if campaign can be started
func (c *Campaign) CanStart() bool {
	return c.Status == CampaignStatusDraft
}

// CanCancel checks if campaign can be cancelled
func (c *Campaign) CanCancel() bool {
	return c.Status == CampaignStatusRunning
}

// IsRunning reports whether the dispatcher should keep picking up records
func (c *Campaign) IsRunning() bool {
	return c.Status == CampaignStatusRunning
}
