package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wabroadcast/internal/models"
	"wabroadcast/internal/repository"
)

// ContactService is the import boundary for recipients. Phones must
// already be in E.164 form; nothing here normalises them.
type ContactService struct {
	contactRepo repository.ContactRepository
}

// NewContactService creates a new contact service
func NewContactService(contactRepo repository.ContactRepository) *ContactService {
	return &ContactService{contactRepo: contactRepo}
}

// CreateContact validates and stores a contact
func (s *ContactService) CreateContact(ctx context.Context, req *CreateContactRequest) (*models.Contact, error) {
	contact := &models.Contact{
		Phone:      strings.TrimSpace(req.Phone),
		FirstName:  nonEmpty(req.FirstName),
		LastName:   nonEmpty(req.LastName),
		Email:      nonEmpty(req.Email),
		Subscribed: req.Subscribed == nil || *req.Subscribed,
	}
	if err := contact.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := s.contactRepo.Create(ctx, contact); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, &ConflictError{Resource: "contact", Message: fmt.Sprintf("phone %s already exists", contact.Phone)}
		}
		return nil, err
	}
	return contact, nil
}

// GetContact retrieves a contact by ID
func (s *ContactService) GetContact(ctx context.Context, id int) (*models.Contact, error) {
	contact, err := s.contactRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "contact", id)
	}
	return contact, nil
}

// ListContacts returns a page of contacts, newest first
func (s *ContactService) ListContacts(ctx context.Context, page, pageSize int) ([]*models.Contact, *PaginationInfo, error) {
	p := newPagination(page, pageSize, 0)
	contacts, total, err := s.contactRepo.List(ctx, p.PageSize, (p.Page-1)*p.PageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, newPagination(p.Page, p.PageSize, total), nil
}

// SetSubscription opts a contact in or out of future campaigns
func (s *ContactService) SetSubscription(ctx context.Context, id int, subscribed bool) (*models.Contact, error) {
	if err := s.contactRepo.SetSubscribed(ctx, id, subscribed); err != nil {
		return nil, fromRepo(err, "contact", id)
	}
	return s.GetContact(ctx, id)
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// CreateContactRequest represents a request to create a contact
type CreateContactRequest struct {
	Phone      string  `json:"phone"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Subscribed *bool   `json:"subscribed,omitempty"`
}

// SubscriptionRequest represents a subscription change
type SubscriptionRequest struct {
	Subscribed bool `json:"subscribed"`
}
