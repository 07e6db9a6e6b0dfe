package handler

import (
	"net/http"

	"wabroadcast/internal/service"
)

// TemplateHandler handles HTTP requests for message templates
type TemplateHandler struct {
	catalog *service.TemplateCatalog
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(catalog *service.TemplateCatalog) *TemplateHandler {
	return &TemplateHandler{catalog: catalog}
}

// Create handles POST /templates
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	template, err := h.catalog.CreateTemplate(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteCreated(w, template)
}

// List handles GET /templates
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.catalog.ListTemplates(r.Context())
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, map[string]interface{}{"templates": templates})
}

// GetByID handles GET /templates/{id}
func (h *TemplateHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "template")
	if !ok {
		return
	}

	template, err := h.catalog.GetTemplate(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteOK(w, template)
}
