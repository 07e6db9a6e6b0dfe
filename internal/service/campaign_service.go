package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"wabroadcast/internal/models"
	"wabroadcast/internal/repository"
)

// JobPublisher hands a started campaign to the dispatch worker
type JobPublisher interface {
	PublishCampaign(ctx context.Context, campaignID int) error
}

// TestSender performs a single send outside any campaign
type TestSender interface {
	SendTest(ctx context.Context, contact *models.Contact, templateBody string) (*models.TestSendResult, error)
}

// CampaignService handles campaign business logic
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	contactRepo  repository.ContactRepository
	templateRepo repository.TemplateRepository
	messageRepo  repository.MessageRepository
	templateSvc  *TemplateService
	publisher    JobPublisher
	sender       TestSender
	log          zerolog.Logger
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	contactRepo repository.ContactRepository,
	templateRepo repository.TemplateRepository,
	messageRepo repository.MessageRepository,
	templateSvc *TemplateService,
	publisher JobPublisher,
	sender TestSender,
	log zerolog.Logger,
) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		contactRepo:  contactRepo,
		templateRepo: templateRepo,
		messageRepo:  messageRepo,
		templateSvc:  templateSvc,
		publisher:    publisher,
		sender:       sender,
		log:          log.With().Str("component", "campaign_service").Logger(),
	}
}

// CreateCampaign creates a new draft campaign
func (s *CampaignService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if _, err := s.templateRepo.GetByID(ctx, req.TemplateID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ValidationError{Message: fmt.Sprintf("template %d does not exist", req.TemplateID)}
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	campaign := &models.Campaign{
		Name:       req.Name,
		TemplateID: req.TemplateID,
		Status:     models.CampaignStatusDraft,
		DryRun:     req.DryRun,
	}
	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	if len(req.ContactIDs) > 0 {
		if _, err := s.AddContacts(ctx, campaign.ID, req.ContactIDs); err != nil {
			return nil, err
		}
	}

	return campaign, nil
}

// GetCampaign retrieves a campaign by ID
func (s *CampaignService) GetCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "campaign", id)
	}
	return campaign, nil
}

// GetCampaignStats returns a campaign with its per-status message counts
func (s *CampaignService) GetCampaignStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	campaign, err := s.campaignRepo.GetWithStats(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "campaign", id)
	}
	return campaign, nil
}

// ListCampaigns lists campaigns with filters
func (s *CampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *PaginationInfo, error) {
	campaigns, total, err := s.campaignRepo.List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, newPagination(filters.Page, filters.PageSize, total), nil
}

// AddContacts attaches contacts to a draft campaign in the given order.
// Contacts already attached keep their original position.
func (s *CampaignService) AddContacts(ctx context.Context, campaignID int, contactIDs []int) (*AddContactsResult, error) {
	if len(contactIDs) == 0 {
		return nil, &ValidationError{Message: "at least one contact ID required"}
	}

	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fromRepo(err, "campaign", campaignID)
	}
	if campaign.Status != models.CampaignStatusDraft {
		return nil, &BusinessLogicError{
			Message: fmt.Sprintf("contacts can only be added to a draft campaign: status is %s", campaign.Status),
		}
	}

	ids := dedupe(contactIDs)
	found, err := s.contactRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}
	if missing := missingIDs(ids, found); len(missing) > 0 {
		return nil, &ValidationError{Message: fmt.Sprintf("unknown contact IDs: %v", missing)}
	}

	added, err := s.campaignRepo.AddContacts(ctx, campaignID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to add contacts: %w", err)
	}

	return &AddContactsResult{CampaignID: campaignID, Added: added}, nil
}

// StartCampaign queues one message per subscribed contact and moves the
// campaign from draft to running. Every phone is checked before anything
// is written.
func (s *CampaignService) StartCampaign(ctx context.Context, id int) (*StartCampaignResult, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "campaign", id)
	}

	if !campaign.CanStart() {
		return nil, &BusinessLogicError{
			Message: fmt.Sprintf("campaign cannot be started: status is %s", campaign.Status),
		}
	}

	if _, err := s.templateRepo.GetByID(ctx, campaign.TemplateID); err != nil {
		return nil, fromRepo(err, "template", campaign.TemplateID)
	}

	contacts, err := s.campaignRepo.ListContacts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign contacts: %w", err)
	}
	if len(contacts) == 0 {
		return nil, &ValidationError{Message: "campaign has no contacts"}
	}

	var invalid []string
	for _, c := range contacts {
		if err := models.ValidatePhone(c.Phone); err != nil {
			invalid = append(invalid, fmt.Sprintf("contact %d (%s)", c.ID, c.Phone))
		}
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Message: "invalid phone numbers: " + strings.Join(invalid, ", ")}
	}

	messages := make([]*models.OutboundMessage, 0, len(contacts))
	for i, c := range contacts {
		if !c.Subscribed {
			continue
		}
		messages = append(messages, &models.OutboundMessage{
			CampaignID: id,
			ContactID:  &c.ID,
			Position:   i + 1,
			Phone:      c.Phone,
			Status:     models.MessageStatusQueued,
		})
	}
	if len(messages) == 0 {
		return nil, &ValidationError{Message: "campaign has no subscribed contacts"}
	}

	queued, err := s.messageRepo.CreateQueued(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to queue messages: %w", err)
	}

	started, err := s.campaignRepo.CompareAndSetStatus(ctx, id, models.CampaignStatusDraft, models.CampaignStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to update campaign status: %w", err)
	}
	if !started {
		return nil, &ConflictError{Resource: "campaign", Message: "campaign was started or changed concurrently"}
	}

	// The worker's sweep picks up running campaigns, so a lost job only delays dispatch.
	if err := s.publisher.PublishCampaign(ctx, id); err != nil {
		s.log.Warn().Err(err).Int("campaign_id", id).Msg("failed to publish campaign job")
	}

	s.log.Info().
		Int("campaign_id", id).
		Int("queued", queued).
		Int("unsubscribed", len(contacts)-len(messages)).
		Bool("dry_run", campaign.DryRun).
		Msg("campaign started")

	return &StartCampaignResult{
		CampaignID:     id,
		MessagesQueued: len(messages),
		Skipped:        len(contacts) - len(messages),
		Status:         models.CampaignStatusRunning,
	}, nil
}

// CancelCampaign stops a running campaign. Messages already sent keep
// receiving status callbacks; queued ones are never dispatched.
func (s *CampaignService) CancelCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "campaign", id)
	}
	if !campaign.CanCancel() {
		return nil, &BusinessLogicError{
			Message: fmt.Sprintf("campaign cannot be cancelled: status is %s", campaign.Status),
		}
	}

	cancelled, err := s.campaignRepo.CompareAndSetStatus(ctx, id, models.CampaignStatusRunning, models.CampaignStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to update campaign status: %w", err)
	}
	if !cancelled {
		// Usually the dispatcher completed it first.
		current, err := s.campaignRepo.GetByID(ctx, id)
		if err != nil {
			return nil, fromRepo(err, "campaign", id)
		}
		return nil, &BusinessLogicError{
			Message: fmt.Sprintf("campaign cannot be cancelled: status is %s", current.Status),
		}
	}

	s.log.Info().Int("campaign_id", id).Msg("campaign cancelled")
	return s.GetCampaign(ctx, id)
}

// ListMessages lists a campaign's messages, optionally filtered by status
func (s *CampaignService) ListMessages(ctx context.Context, campaignID int, status string, page, pageSize int) ([]*models.OutboundMessage, error) {
	if _, err := s.campaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, fromRepo(err, "campaign", campaignID)
	}

	var filter *models.MessageStatus
	if status != "" {
		st, ok := models.ParseMessageStatus(status)
		if !ok {
			return nil, &ValidationError{Message: fmt.Sprintf("invalid message status: %s", status)}
		}
		filter = &st
	}

	p := newPagination(page, pageSize, 0)
	messages, err := s.messageRepo.ListByCampaign(ctx, campaignID, filter, p.PageSize, (p.Page-1)*p.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// GetMessage returns a message with its status history
func (s *CampaignService) GetMessage(ctx context.Context, id int) (*models.OutboundMessage, error) {
	msg, err := s.messageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "message", id)
	}
	history, err := s.messageRepo.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message history: %w", err)
	}
	msg.History = history
	return msg, nil
}

// PreviewMessage previews how a message will render for a contact
func (s *CampaignService) PreviewMessage(ctx context.Context, req *PreviewMessageRequest) (*PreviewMessageResult, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, req.CampaignID)
	if err != nil {
		return nil, fromRepo(err, "campaign", req.CampaignID)
	}

	contact, err := s.contactRepo.GetByID(ctx, req.ContactID)
	if err != nil {
		return nil, fromRepo(err, "contact", req.ContactID)
	}

	// Use override template if provided, otherwise use campaign template
	var body string
	if req.OverrideTemplate != nil && *req.OverrideTemplate != "" {
		body = *req.OverrideTemplate
	} else {
		template, err := s.templateRepo.GetByID(ctx, campaign.TemplateID)
		if err != nil {
			return nil, fromRepo(err, "template", campaign.TemplateID)
		}
		body = template.Body
	}

	rendered, err := s.templateSvc.Preview(body, contact)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	result := &PreviewMessageResult{
		RenderedMessage:     rendered,
		UsedTemplate:        body,
		UnknownPlaceholders: s.templateSvc.UnknownPlaceholders(body),
	}
	result.Contact.ID = contact.ID
	result.Contact.Name = contact.DisplayName()
	return result, nil
}

// SendTest renders a template for one recipient and sends it immediately,
// without creating any message record.
func (s *CampaignService) SendTest(ctx context.Context, req *SendTestRequest) (*models.TestSendResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	contact := &models.Contact{Phone: req.Phone, FirstName: req.FirstName, LastName: req.LastName}
	if req.ContactID != nil {
		c, err := s.contactRepo.GetByID(ctx, *req.ContactID)
		if err != nil {
			return nil, fromRepo(err, "contact", *req.ContactID)
		}
		contact = c
	}

	body := req.Template
	if req.TemplateID != nil {
		t, err := s.templateRepo.GetByID(ctx, *req.TemplateID)
		if err != nil {
			return nil, fromRepo(err, "template", *req.TemplateID)
		}
		body = t.Body
	}

	result, err := s.sender.SendTest(ctx, contact, body)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("to", result.Phone).
		Str("provider_message_id", result.ProviderMessageID).
		Bool("dry_run", result.DryRun).
		Msg("test message sent")
	return result, nil
}

func dedupe(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func missingIDs(want []int, found []*models.Contact) []int {
	have := make(map[int]bool, len(found))
	for _, c := range found {
		have[c.ID] = true
	}
	var missing []int
	for _, id := range want {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// Request/Response types

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	Name       string `json:"name"`
	TemplateID int    `json:"template_id"`
	DryRun     bool   `json:"dry_run"`
	ContactIDs []int  `json:"contact_ids,omitempty"`
}

// Validate validates the create campaign request
func (r *CreateCampaignRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if r.TemplateID <= 0 {
		return fmt.Errorf("template_id is required")
	}
	return nil
}

// AddContactsRequest represents a request to attach contacts to a campaign
type AddContactsRequest struct {
	ContactIDs []int `json:"contact_ids"`
}

// AddContactsResult reports how many contacts were newly attached
type AddContactsResult struct {
	CampaignID int `json:"campaign_id"`
	Added      int `json:"added"`
}

// StartCampaignResult represents the result of starting a campaign
type StartCampaignResult struct {
	CampaignID     int                   `json:"campaign_id"`
	MessagesQueued int                   `json:"messages_queued"`
	Skipped        int                   `json:"skipped_unsubscribed"`
	Status         models.CampaignStatus `json:"status"`
}

// PreviewMessageRequest represents a request to preview a message
type PreviewMessageRequest struct {
	CampaignID       int     `json:"campaign_id"`
	ContactID        int     `json:"contact_id"`
	OverrideTemplate *string `json:"override_template,omitempty"`
}

// PreviewMessageResult represents the result of previewing a message
type PreviewMessageResult struct {
	RenderedMessage     string   `json:"rendered_message"`
	UsedTemplate        string   `json:"used_template"`
	UnknownPlaceholders []string `json:"unknown_placeholders,omitempty"`
	Contact             struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"contact"`
}

// SendTestRequest names a recipient and a template, either stored or inline
type SendTestRequest struct {
	ContactID  *int    `json:"contact_id,omitempty"`
	Phone      string  `json:"phone,omitempty"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	TemplateID *int    `json:"template_id,omitempty"`
	Template   string  `json:"template,omitempty"`
}

// Validate validates the send test request
func (r *SendTestRequest) Validate() error {
	if r.ContactID == nil && r.Phone == "" {
		return fmt.Errorf("contact_id or phone is required")
	}
	if r.TemplateID == nil && strings.TrimSpace(r.Template) == "" {
		return fmt.Errorf("template_id or template is required")
	}
	return nil
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

func newPagination(page, pageSize, total int) *PaginationInfo {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return &PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}
