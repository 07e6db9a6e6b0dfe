package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"wabroadcast/internal/models"
	"wabroadcast/internal/repository"
)

// CampaignRunner runs a single campaign to completion
type CampaignRunner interface {
	Run(ctx context.Context, campaignID int) error
}

// Runner keeps one dispatch goroutine per running campaign
type Runner struct {
	ctx       context.Context
	cancel    context.CancelFunc
	runner    CampaignRunner
	campaigns repository.CampaignRepository
	log       zerolog.Logger

	mu     sync.Mutex
	active map[int]struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a runner whose workers live until ctx ends or Stop is called
func NewRunner(ctx context.Context, runner CampaignRunner, campaigns repository.CampaignRepository, log zerolog.Logger) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		ctx:       ctx,
		cancel:    cancel,
		runner:    runner,
		campaigns: campaigns,
		log:       log.With().Str("component", "runner").Logger(),
		active:    make(map[int]struct{}),
	}
}

// Start launches a worker for campaignID unless one is already active.
// It reports whether a new worker was started.
func (r *Runner) Start(campaignID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return false
	}
	if _, ok := r.active[campaignID]; ok {
		return false
	}
	r.active[campaignID] = struct{}{}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, campaignID)
			r.mu.Unlock()
		}()

		if err := r.runner.Run(r.ctx, campaignID); err != nil && r.ctx.Err() == nil {
			r.log.Error().Err(err).Int("campaign_id", campaignID).Msg("dispatch run failed")
		}
	}()
	return true
}

// ResumeRunning starts workers for every campaign stored as running.
// Called at startup and by the periodic sweep.
func (r *Runner) ResumeRunning(ctx context.Context) (int, error) {
	running, err := r.campaigns.ListByStatus(ctx, models.CampaignStatusRunning)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, c := range running {
		if r.Start(c.ID) {
			started++
		}
	}
	if started > 0 {
		r.log.Info().Int("started", started).Msg("resumed running campaigns")
	}
	return started, nil
}

// Active returns the ids of campaigns with a live worker
func (r *Runner) Active() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Wait blocks until all workers have returned
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop cancels every worker and waits for them. In-flight sends are
// abandoned and their records stay queued.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}
