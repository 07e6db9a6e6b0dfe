package testutil

import (
	"fmt"
	"time"

	"wabroadcast/internal/models"
)

// NewTestContact creates a subscribed contact with both names set
func NewTestContact(id int, firstName, lastName string) *models.Contact {
	c := &models.Contact{
		ID:         id,
		Phone:      fmt.Sprintf("+2547000%05d", id),
		Subscribed: true,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if firstName != "" {
		c.FirstName = StringPtr(firstName)
	}
	if lastName != "" {
		c.LastName = StringPtr(lastName)
	}
	return c
}

// NewTestTemplate creates a template
func NewTestTemplate(id int, body string) *models.Template {
	return &models.Template{
		ID:        id,
		Name:      fmt.Sprintf("template-%d", id),
		Category:  "marketing",
		Body:      body,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// NewTestCampaign creates a campaign in the given status
func NewTestCampaign(id, templateID int, status models.CampaignStatus) *models.Campaign {
	return &models.Campaign{
		ID:         id,
		Name:       fmt.Sprintf("Campaign %d", id),
		TemplateID: templateID,
		Status:     status,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
