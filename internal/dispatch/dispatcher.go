// Package dispatch turns running campaigns into rate-limited provider sends.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"wabroadcast/internal/config"
	"wabroadcast/internal/delivery"
	"wabroadcast/internal/models"
	"wabroadcast/internal/provider"
	"wabroadcast/internal/repository"
	"wabroadcast/internal/service"
)

// Limiter gates outbound calls
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Renderer produces a message body for a contact
type Renderer interface {
	Render(template string, contact *models.Contact) (string, error)
}

// Config controls retries, timeouts and paging
type Config struct {
	MaxAttempts int
	Backoff     Backoff
	SendTimeout time.Duration
	BatchSize   int
	DryRun      bool
}

// NewConfig derives dispatcher settings from application config
func NewConfig(d config.DispatchConfig, sendTimeout time.Duration) Config {
	return Config{
		MaxAttempts: d.MaxAttempts,
		Backoff: Backoff{
			Initial:    d.BackoffInitial,
			Max:        d.BackoffMax,
			Multiplier: d.BackoffMultiplier,
		},
		SendTimeout: sendTimeout,
		BatchSize:   d.BatchSize,
		DryRun:      d.DryRun,
	}
}

// Repositories groups the stores the dispatcher reads and writes
type Repositories struct {
	Campaigns repository.CampaignRepository
	Templates repository.TemplateRepository
	Contacts  repository.ContactRepository
	Messages  repository.MessageRepository
}

// Dispatcher sends a campaign's queued messages in position order
type Dispatcher struct {
	repos    Repositories
	machine  *delivery.Machine
	provider provider.Provider
	limiter  Limiter
	renderer Renderer
	clock    Clock
	cfg      Config
	log      zerolog.Logger
}

// Option customises a Dispatcher
type Option func(*Dispatcher)

// WithClock replaces the wall clock used for backoff
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// NewDispatcher creates a dispatcher. The limiter is shared with every other
// dispatcher in the process.
func NewDispatcher(
	repos Repositories,
	machine *delivery.Machine,
	p provider.Provider,
	limiter Limiter,
	renderer Renderer,
	cfg Config,
	log zerolog.Logger,
	opts ...Option,
) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}

	d := &Dispatcher{
		repos:    repos,
		machine:  machine,
		provider: p,
		limiter:  limiter,
		renderer: renderer,
		clock:    SystemClock(),
		cfg:      cfg,
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches every queued message of a running campaign. It stops early
// when the campaign leaves the running state, and completes the campaign
// once nothing is left queued. Storage errors abort the run; the records
// stay queued and a later run resumes them.
func (d *Dispatcher) Run(ctx context.Context, campaignID int) error {
	campaign, err := d.repos.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if !campaign.IsRunning() {
		d.log.Info().Int("campaign_id", campaignID).Str("status", string(campaign.Status)).Msg("campaign not running, nothing to dispatch")
		return nil
	}

	template, err := d.repos.Templates.GetByID(ctx, campaign.TemplateID)
	if err != nil {
		return fmt.Errorf("failed to load template for campaign %d: %w", campaignID, err)
	}

	dryRun := d.cfg.DryRun || campaign.DryRun
	log := d.log.With().Int("campaign_id", campaignID).Bool("dry_run", dryRun).Logger()
	log.Info().Msg("dispatch started")

	cursor := 0
	dispatched := 0
	for {
		page, err := d.repos.Messages.ListQueued(ctx, campaignID, cursor, d.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		contacts, err := d.contactsFor(ctx, page)
		if err != nil {
			return err
		}

		for _, msg := range page {
			cursor = msg.Position

			if err := ctx.Err(); err != nil {
				return err
			}
			current, err := d.repos.Campaigns.GetByID(ctx, campaignID)
			if err != nil {
				return fmt.Errorf("failed to check campaign status: %w", err)
			}
			if !current.IsRunning() {
				log.Info().Str("status", string(current.Status)).Int("dispatched", dispatched).Msg("campaign no longer running, dispatch stopped")
				return nil
			}

			contact := contacts[derefInt(msg.ContactID)]
			if contact == nil {
				contact = &models.Contact{Phone: msg.Phone}
			}
			if err := d.dispatchOne(ctx, msg, contact, template.Body, dryRun); err != nil {
				return err
			}
			dispatched++
		}
	}

	return d.complete(ctx, campaignID, dispatched, log)
}

func (d *Dispatcher) contactsFor(ctx context.Context, page []*models.OutboundMessage) (map[int]*models.Contact, error) {
	ids := make([]int, 0, len(page))
	for _, msg := range page {
		if msg.ContactID != nil {
			ids = append(ids, *msg.ContactID)
		}
	}
	list, err := d.repos.Contacts.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]*models.Contact, len(list))
	for _, c := range list {
		byID[c.ID] = c
	}
	return byID, nil
}

func (d *Dispatcher) complete(ctx context.Context, campaignID, dispatched int, log zerolog.Logger) error {
	stats, err := d.repos.Messages.CountByStatus(ctx, campaignID)
	if err != nil {
		return err
	}
	if stats.Queued > 0 {
		log.Warn().Int("queued", stats.Queued).Msg("dispatch finished with queued messages left")
		return nil
	}

	completed, err := d.repos.Campaigns.CompareAndSetStatus(ctx, campaignID, models.CampaignStatusRunning, models.CampaignStatusCompleted)
	if err != nil {
		return err
	}
	if completed {
		log.Info().
			Int("dispatched", dispatched).
			Int("sent", stats.Sent+stats.Delivered+stats.Read).
			Int("failed", stats.Failed).
			Msg("campaign completed")
	}
	return nil
}

// dispatchOne drives a single record from queued to sent or failed.
// Only context cancellation and storage errors are returned.
func (d *Dispatcher) dispatchOne(ctx context.Context, msg *models.OutboundMessage, contact *models.Contact, templateBody string, dryRun bool) error {
	log := d.log.With().Int("campaign_id", msg.CampaignID).Int("message_id", msg.ID).Logger()

	if err := models.ValidatePhone(msg.Phone); err != nil {
		return d.fail(ctx, msg, delivery.EventRejected, nil, err, false, log)
	}

	body, err := d.renderer.Render(templateBody, contact)
	if err != nil {
		return d.fail(ctx, msg, delivery.EventRejected, nil, err, false, log)
	}

	if dryRun {
		log.Info().Str("to", msg.Phone).Str("body", body).Msg("dry run, message not sent")
		_, err := d.machine.Apply(ctx, msg, delivery.Update{
			Event:        delivery.EventDispatched,
			Note:         "dry run",
			RenderedBody: &body,
			At:           d.clock.Now().UTC(),
		})
		return err
	}

	state := sendAttempt{nextEligible: d.clock.Now()}
	for {
		if wait := state.nextEligible.Sub(d.clock.Now()); wait > 0 {
			if err := d.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
		if err := d.limiter.Acquire(ctx); err != nil {
			return err
		}

		state.attempt++
		res, sendErr := d.send(ctx, msg.Phone, body)
		if sendErr == nil {
			_, err := d.machine.Apply(ctx, msg, delivery.Update{
				Event:             delivery.EventDispatched,
				ProviderMessageID: &res.ProviderMessageID,
				RenderedBody:      &body,
				CountsAttempt:     true,
				At:                res.AcceptedAt,
			})
			if err == nil {
				log.Debug().Str("provider_message_id", res.ProviderMessageID).Int("attempt", state.attempt).Msg("message sent")
			}
			return err
		}

		if ctx.Err() != nil {
			// Shutting down mid-send; the record stays queued for the next run.
			return ctx.Err()
		}

		if !provider.IsRetryable(sendErr) {
			return d.fail(ctx, msg, delivery.EventRejected, &body, sendErr, true, log)
		}

		if state.attempt >= d.cfg.MaxAttempts {
			wrapped := fmt.Errorf("attempt %d of %d: %w", state.attempt, d.cfg.MaxAttempts, sendErr)
			return d.fail(ctx, msg, delivery.EventRetriesExhausted, &body, wrapped, true, log)
		}

		note := fmt.Sprintf("attempt %d of %d: %v", state.attempt, d.cfg.MaxAttempts, sendErr)
		recorded, err := d.repos.Messages.RecordAttempt(ctx, msg.ID, note)
		if err != nil {
			return err
		}
		if !recorded {
			log.Warn().Msg("message left queued state during retries, giving up on it")
			return nil
		}

		delay := d.cfg.Backoff.Delay(state.attempt)
		state.nextEligible = d.clock.Now().Add(delay)
		log.Warn().Err(sendErr).Int("attempt", state.attempt).Dur("backoff", delay).Msg("provider unavailable, will retry")
	}
}

func (d *Dispatcher) send(ctx context.Context, to, body string) (*provider.SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	res, err := d.provider.Send(sendCtx, to, body)
	if err != nil {
		return nil, err
	}
	if res.AcceptedAt.IsZero() {
		res.AcceptedAt = d.clock.Now().UTC()
	}
	return res, nil
}

func (d *Dispatcher) fail(ctx context.Context, msg *models.OutboundMessage, event delivery.Event, body *string, cause error, attempted bool, log zerolog.Logger) error {
	reason := cause.Error()
	_, err := d.machine.Apply(ctx, msg, delivery.Update{
		Event:         event,
		Note:          reason,
		RenderedBody:  body,
		LastError:     &reason,
		CountsAttempt: attempted,
		At:            d.clock.Now().UTC(),
	})
	if err == nil {
		log.Warn().Err(cause).Str("event", string(event)).Msg("message failed")
	}
	return err
}

// SendTest renders templateBody for contact and sends it once, without
// creating a message record or retrying.
func (d *Dispatcher) SendTest(ctx context.Context, contact *models.Contact, templateBody string) (*models.TestSendResult, error) {
	if err := models.ValidatePhone(contact.Phone); err != nil {
		return nil, &service.ValidationError{Message: err.Error()}
	}

	body, err := d.renderer.Render(templateBody, contact)
	if err != nil {
		return nil, &service.ValidationError{Message: err.Error()}
	}

	result := &models.TestSendResult{Phone: contact.Phone, Body: body, DryRun: d.cfg.DryRun}
	if d.cfg.DryRun {
		d.log.Info().Str("to", contact.Phone).Str("body", body).Msg("dry run test send")
		return result, nil
	}

	if err := d.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	res, err := d.send(ctx, contact.Phone, body)
	if err != nil {
		return nil, err
	}

	result.ProviderMessageID = res.ProviderMessageID
	result.AcceptedAt = &res.AcceptedAt
	return result, nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
