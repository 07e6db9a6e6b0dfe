package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wabroadcast/internal/models"
	"wabroadcast/internal/repository"
)

// Store is a thread-safe in-memory backing for every repository.
// Values are copied on the way in and out so callers never share state.
type Store struct {
	mu        sync.Mutex
	nextID    int
	contacts  map[int]*models.Contact
	templates map[int]*models.Template
	campaigns map[int]*models.Campaign
	members   map[int][]int
	messages  map[int]*models.OutboundMessage
	history   map[int][]models.StatusChange

	// BeforeTransition, when set, runs before each message transition is
	// checked. Tests use it to interleave a competing writer.
	BeforeTransition func(t models.Transition)
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		contacts:  make(map[int]*models.Contact),
		templates: make(map[int]*models.Template),
		campaigns: make(map[int]*models.Campaign),
		members:   make(map[int][]int),
		messages:  make(map[int]*models.OutboundMessage),
		history:   make(map[int][]models.StatusChange),
	}
}

func (s *Store) id() int {
	s.nextID++
	return s.nextID
}

// Contacts returns the contact repository view
func (s *Store) Contacts() repository.ContactRepository { return &contactRepo{s} }

// Templates returns the template repository view
func (s *Store) Templates() repository.TemplateRepository { return &templateRepo{s} }

// Campaigns returns the campaign repository view
func (s *Store) Campaigns() repository.CampaignRepository { return &campaignRepo{s} }

// Messages returns the message repository view
func (s *Store) Messages() repository.MessageRepository { return &messageRepo{s} }

// PutContact stores c as is, keeping its ID
func (s *Store) PutContact(c *models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.contacts[c.ID] = &cp
	if c.ID > s.nextID {
		s.nextID = c.ID
	}
}

// PutTemplate stores t as is, keeping its ID
func (s *Store) PutTemplate(t *models.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[t.ID] = &cp
	if t.ID > s.nextID {
		s.nextID = t.ID
	}
}

// PutCampaign stores c with the given members in order
func (s *Store) PutCampaign(c *models.Campaign, contactIDs ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.campaigns[c.ID] = &cp
	s.members[c.ID] = append([]int(nil), contactIDs...)
	if c.ID > s.nextID {
		s.nextID = c.ID
	}
}

// SetCampaignStatus forces a campaign status
func (s *Store) SetCampaignStatus(id int, status models.CampaignStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		c.Status = status
	}
}

// Campaign returns a snapshot of a campaign
func (s *Store) Campaign(id int) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Message returns a snapshot of a message including its history
func (s *Store) Message(id int) *models.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(id, true)
}

// CampaignMessages returns snapshots of a campaign's messages in position order
func (s *Store) CampaignMessages(campaignID int) []*models.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.OutboundMessage
	for id, m := range s.messages {
		if m.CampaignID == campaignID {
			out = append(out, s.snapshot(id, true))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// PutMessage stores a message as is, keeping its ID and status
func (s *Store) PutMessage(m *models.OutboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.History = nil
	s.messages[m.ID] = &cp
	if m.ID > s.nextID {
		s.nextID = m.ID
	}
}

func (s *Store) snapshot(id int, withHistory bool) *models.OutboundMessage {
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	cp := *m
	if withHistory {
		cp.History = append([]models.StatusChange(nil), s.history[id]...)
	}
	return &cp
}

type contactRepo struct{ s *Store }

func (r *contactRepo) Create(_ context.Context, contact *models.Contact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contacts {
		if c.Phone == contact.Phone {
			return fmt.Errorf("failed to create contact %s: %w", contact.Phone, repository.ErrDuplicate)
		}
	}
	contact.ID = r.s.id()
	contact.CreatedAt = time.Now()
	cp := *contact
	r.s.contacts[contact.ID] = &cp
	return nil
}

func (r *contactRepo) GetByID(_ context.Context, id int) (*models.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *contactRepo) GetByIDs(_ context.Context, ids []int) ([]*models.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Contact{}
	for _, id := range ids {
		if c, ok := r.s.contacts[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *contactRepo) List(_ context.Context, limit, offset int) ([]*models.Contact, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := make([]*models.Contact, 0, len(r.s.contacts))
	for _, c := range r.s.contacts {
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *contactRepo) SetSubscribed(_ context.Context, id int, subscribed bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return fmt.Errorf("contact %d: %w", id, repository.ErrNotFound)
	}
	c.Subscribed = subscribed
	return nil
}

func (r *contactRepo) UnsubscribeByPhone(_ context.Context, phone string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contacts {
		if c.Phone == phone && c.Subscribed {
			c.Subscribed = false
			return true, nil
		}
	}
	return false, nil
}

type templateRepo struct{ s *Store }

func (r *templateRepo) Create(_ context.Context, template *models.Template) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.templates {
		if t.Name == template.Name {
			return fmt.Errorf("failed to create template %s: %w", template.Name, repository.ErrDuplicate)
		}
	}
	template.ID = r.s.id()
	template.CreatedAt = time.Now()
	cp := *template
	r.s.templates[template.ID] = &cp
	return nil
}

func (r *templateRepo) GetByID(_ context.Context, id int) (*models.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %d: %w", id, repository.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (r *templateRepo) GetByName(_ context.Context, name string) (*models.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.templates {
		if t.Name == name {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("template %s: %w", name, repository.ErrNotFound)
}

func (r *templateRepo) List(_ context.Context) ([]*models.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Template{}
	for _, t := range r.s.templates {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type campaignRepo struct{ s *Store }

func (r *campaignRepo) Create(_ context.Context, campaign *models.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	campaign.ID = r.s.id()
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = campaign.CreatedAt
	cp := *campaign
	r.s.campaigns[campaign.ID] = &cp
	return nil
}

func (r *campaignRepo) GetByID(_ context.Context, id int) (*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *campaignRepo) GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	campaign, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := r.s.Messages().CountByStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.CampaignWithStats{Campaign: *campaign, Stats: stats}, nil
}

func (r *campaignRepo) List(_ context.Context, filters repository.CampaignFilters) ([]*models.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := []*models.Campaign{}
	for _, c := range r.s.campaigns {
		if filters.Status != nil && c.Status != *filters.Status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (filters.Page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + pageSize
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *campaignRepo) ListByStatus(_ context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Campaign{}
	for _, c := range r.s.campaigns {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *campaignRepo) AddContacts(_ context.Context, campaignID int, contactIDs []int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := make(map[int]bool)
	for _, id := range r.s.members[campaignID] {
		existing[id] = true
	}
	added := 0
	for _, id := range contactIDs {
		if existing[id] {
			continue
		}
		existing[id] = true
		r.s.members[campaignID] = append(r.s.members[campaignID], id)
		added++
	}
	return added, nil
}

func (r *campaignRepo) ListContacts(_ context.Context, campaignID int) ([]*models.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Contact{}
	for _, id := range r.s.members[campaignID] {
		if c, ok := r.s.contacts[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *campaignRepo) CompareAndSetStatus(_ context.Context, id int, from, to models.CampaignStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	now := time.Now()
	c.Status = to
	c.UpdatedAt = now
	switch to {
	case models.CampaignStatusRunning:
		c.StartedAt = &now
	case models.CampaignStatusCompleted, models.CampaignStatusCancelled:
		c.CompletedAt = &now
	}
	return true, nil
}

type messageRepo struct{ s *Store }

func (r *messageRepo) CreateQueued(_ context.Context, messages []*models.OutboundMessage) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	created := 0
	for _, m := range messages {
		if m.ContactID != nil && r.exists(m.CampaignID, *m.ContactID) {
			continue
		}
		m.ID = r.s.id()
		m.Status = models.MessageStatusQueued
		m.CreatedAt = time.Now()
		m.UpdatedAt = m.CreatedAt
		cp := *m
		r.s.messages[m.ID] = &cp
		created++
	}
	return created, nil
}

func (r *messageRepo) exists(campaignID, contactID int) bool {
	for _, m := range r.s.messages {
		if m.CampaignID == campaignID && m.ContactID != nil && *m.ContactID == contactID {
			return true
		}
	}
	return false
}

func (r *messageRepo) GetByID(_ context.Context, id int) (*models.OutboundMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.s.snapshot(id, false)
	if m == nil {
		return nil, fmt.Errorf("message %d: %w", id, repository.ErrNotFound)
	}
	return m, nil
}

func (r *messageRepo) GetByProviderMessageID(_ context.Context, providerMessageID string) (*models.OutboundMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, m := range r.s.messages {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID {
			return r.s.snapshot(id, false), nil
		}
	}
	return nil, fmt.Errorf("provider message %q: %w", providerMessageID, repository.ErrNotFound)
}

func (r *messageRepo) ListQueued(_ context.Context, campaignID, afterPosition, limit int) ([]*models.OutboundMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.OutboundMessage{}
	for id, m := range r.s.messages {
		if m.CampaignID == campaignID && m.Status == models.MessageStatusQueued && m.Position > afterPosition {
			out = append(out, r.s.snapshot(id, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *messageRepo) ListByCampaign(_ context.Context, campaignID int, status *models.MessageStatus, limit, offset int) ([]*models.OutboundMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.OutboundMessage{}
	for id, m := range r.s.messages {
		if m.CampaignID != campaignID || (status != nil && m.Status != *status) {
			continue
		}
		out = append(out, r.s.snapshot(id, false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (r *messageRepo) CountByStatus(_ context.Context, campaignID int) (models.CampaignStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var stats models.CampaignStats
	for _, m := range r.s.messages {
		if m.CampaignID == campaignID {
			stats.Add(m.Status, 1)
		}
	}
	return stats, nil
}

func (r *messageRepo) Transition(_ context.Context, t models.Transition) (bool, error) {
	if hook := r.s.BeforeTransition; hook != nil {
		hook(t)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[t.MessageID]
	if !ok || m.Status != t.From {
		return false, nil
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	m.Status = t.To
	if m.ProviderMessageID == nil && t.ProviderMessageID != nil {
		id := *t.ProviderMessageID
		m.ProviderMessageID = &id
	}
	if t.RenderedBody != nil {
		body := *t.RenderedBody
		m.RenderedBody = &body
	}
	if t.LastError != nil {
		e := *t.LastError
		m.LastError = &e
	}
	if t.CountsAttempt {
		m.Attempts++
	}
	if t.To == models.MessageStatusSent && m.SentAt == nil {
		m.SentAt = &at
	}
	m.UpdatedAt = at
	r.s.history[m.ID] = append(r.s.history[m.ID], models.StatusChange{
		ID:        r.s.id(),
		MessageID: m.ID,
		Status:    t.To,
		Source:    t.Source,
		Note:      t.Note,
		At:        at,
	})
	return true, nil
}

func (r *messageRepo) RecordAttempt(_ context.Context, messageID int, note string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[messageID]
	if !ok || m.Status != models.MessageStatusQueued {
		return false, nil
	}
	now := time.Now()
	m.Attempts++
	m.LastError = &note
	m.UpdatedAt = now
	r.s.history[messageID] = append(r.s.history[messageID], models.StatusChange{
		ID:        r.s.id(),
		MessageID: messageID,
		Status:    models.MessageStatusQueued,
		Source:    models.SourceDispatch,
		Note:      note,
		At:        now,
	})
	return true, nil
}

func (r *messageRepo) History(_ context.Context, messageID int) ([]models.StatusChange, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]models.StatusChange{}, r.s.history[messageID]...), nil
}
