package handler

import (
	"net/http"

	"wabroadcast/internal/models"
	"wabroadcast/internal/service"
)

// ContactHandler handles HTTP requests for contacts
type ContactHandler struct {
	contactService *service.ContactService
}

// NewContactHandler creates a new contact handler
func NewContactHandler(contactService *service.ContactService) *ContactHandler {
	return &ContactHandler{contactService: contactService}
}

// Create handles POST /contacts
func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateContactRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	contact, err := h.contactService.CreateContact(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteCreated(w, contact)
}

// List handles GET /contacts
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	contacts, pagination, err := h.contactService.ListContacts(r.Context(), queryInt(r, "page", 1), queryInt(r, "per_page", 20))
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, ListContactsResponse{Contacts: contacts, Pagination: pagination})
}

// GetByID handles GET /contacts/{id}
func (h *ContactHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "contact")
	if !ok {
		return
	}

	contact, err := h.contactService.GetContact(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, contact)
}

// SetSubscription handles PATCH /contacts/{id}/subscription
func (h *ContactHandler) SetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "contact")
	if !ok {
		return
	}

	var req service.SubscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	contact, err := h.contactService.SetSubscription(r.Context(), id, req.Subscribed)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, contact)
}

// ListContactsResponse represents a page of contacts
type ListContactsResponse struct {
	Contacts   []*models.Contact       `json:"contacts"`
	Pagination *service.PaginationInfo `json:"pagination"`
}
