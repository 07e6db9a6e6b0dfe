package handler

import (
	"net/http"

	"wabroadcast/internal/service"
)

// PreviewHandler handles message preview and test send requests
type PreviewHandler struct {
	campaignService *service.CampaignService
}

// NewPreviewHandler creates a new PreviewHandler instance
func NewPreviewHandler(campaignService *service.CampaignService) *PreviewHandler {
	return &PreviewHandler{
		campaignService: campaignService,
	}
}

// PreviewRequest represents the request body for message preview
type PreviewRequest struct {
	ContactID        int     `json:"contact_id"`
	OverrideTemplate *string `json:"override_template,omitempty"`
}

// Preview handles POST /campaigns/{id}/preview
// It previews how a message will render for a specific contact
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(w, r, "campaign")
	if !ok {
		return
	}

	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ContactID <= 0 {
		WriteValidationError(w, "contact_id is required and must be positive")
		return
	}

	result, err := h.campaignService.PreviewMessage(r.Context(), &service.PreviewMessageRequest{
		CampaignID:       campaignID,
		ContactID:        req.ContactID,
		OverrideTemplate: req.OverrideTemplate,
	})
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, result)
}

// SendTest handles POST /send-test - one immediate send, no campaign records
func (h *PreviewHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req service.SendTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.campaignService.SendTest(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, result)
}
