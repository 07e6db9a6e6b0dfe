package handler

import (
	"net/http"

	"wabroadcast/internal/models"
	"wabroadcast/internal/repository"
	"wabroadcast/internal/service"
)

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaignService *service.CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
	}
}

// Create handles POST /campaigns - creates a new draft campaign
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteCreated(w, campaign)
}

// List handles GET /campaigns - lists campaigns with filters
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := repository.CampaignFilters{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "per_page", 20),
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status, ok := models.ParseCampaignStatus(statusStr)
		if !ok {
			WriteValidationError(w, "invalid status: must be one of draft, running, completed, cancelled")
			return
		}
		filters.Status = &status
	}

	campaigns, pagination, err := h.campaignService.ListCampaigns(r.Context(), filters)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, ListCampaignsResponse{
		Campaigns:  campaigns,
		Pagination: pagination,
	})
}

// GetByID handles GET /campaigns/{id} - gets a campaign with its stats
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	campaign, err := h.campaignService.GetCampaignStats(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, campaign)
}

// AddContacts handles POST /campaigns/{id}/contacts
func (h *CampaignHandler) AddContacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	var req service.AddContactsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.ContactIDs) == 0 {
		WriteValidationError(w, "contact_ids cannot be empty")
		return
	}

	result, err := h.campaignService.AddContacts(r.Context(), id, req.ContactIDs)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, result)
}

// Start handles POST /campaigns/{id}/start - queues messages and hands the campaign to the worker
func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	result, err := h.campaignService.StartCampaign(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, result)
}

// Cancel handles POST /campaigns/{id}/cancel
func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	campaign, err := h.campaignService.CancelCampaign(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, campaign)
}

// Stats handles GET /campaigns/{id}/stats - per-status message counts
func (h *CampaignHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	campaign, err := h.campaignService.GetCampaignStats(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, CampaignStatsResponse{
		CampaignID: campaign.ID,
		Status:     campaign.Status,
		Stats:      campaign.Stats,
	})
}

// Messages handles GET /campaigns/{id}/messages
func (h *CampaignHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	messages, err := h.campaignService.ListMessages(
		r.Context(),
		id,
		r.URL.Query().Get("status"),
		queryInt(r, "page", 1),
		queryInt(r, "per_page", 50),
	)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, ListMessagesResponse{Messages: messages})
}

// GetMessage handles GET /messages/{id} - a message with its status history
func (h *CampaignHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "message")
	if !ok {
		return
	}

	msg, err := h.campaignService.GetMessage(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, msg)
}

// Request/Response types

// ListCampaignsResponse represents the response for listing campaigns
type ListCampaignsResponse struct {
	Campaigns  []*models.Campaign      `json:"campaigns"`
	Pagination *service.PaginationInfo `json:"pagination"`
}

// CampaignStatsResponse represents get_campaign_stats output
type CampaignStatsResponse struct {
	CampaignID int                   `json:"campaign_id"`
	Status     models.CampaignStatus `json:"status"`
	Stats      models.CampaignStats  `json:"stats"`
}

// ListMessagesResponse represents a page of campaign messages
type ListMessagesResponse struct {
	Messages []*models.OutboundMessage `json:"messages"`
}
