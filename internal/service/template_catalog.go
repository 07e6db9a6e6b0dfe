package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wabroadcast/internal/models"
	"wabroadcast/internal/repository"
)

// TemplateCatalog stores named message templates
type TemplateCatalog struct {
	templateRepo repository.TemplateRepository
	templateSvc  *TemplateService
}

// NewTemplateCatalog creates a new template catalog
func NewTemplateCatalog(templateRepo repository.TemplateRepository, templateSvc *TemplateService) *TemplateCatalog {
	return &TemplateCatalog{templateRepo: templateRepo, templateSvc: templateSvc}
}

// CreateTemplate validates and stores a template
func (c *TemplateCatalog) CreateTemplate(ctx context.Context, req *CreateTemplateRequest) (*models.Template, error) {
	template := &models.Template{
		Name:     strings.TrimSpace(req.Name),
		Category: strings.TrimSpace(req.Category),
		Body:     req.Body,
	}
	if template.Category == "" {
		template.Category = "marketing"
	}
	if err := template.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if err := c.templateSvc.ValidateTemplate(template.Body); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid template: %v", err)}
	}

	if err := c.templateRepo.Create(ctx, template); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, &ConflictError{Resource: "template", Message: fmt.Sprintf("name %q already exists", template.Name)}
		}
		return nil, err
	}
	return template, nil
}

// GetTemplate retrieves a template by ID
func (c *TemplateCatalog) GetTemplate(ctx context.Context, id int) (*models.Template, error) {
	template, err := c.templateRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "template", id)
	}
	return template, nil
}

// ListTemplates returns every template ordered by name
func (c *TemplateCatalog) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	templates, err := c.templateRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// CreateTemplateRequest represents a request to create a template
type CreateTemplateRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Body     string `json:"body"`
}
