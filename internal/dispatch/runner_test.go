package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"wabroadcast/internal/models"
	"wabroadcast/internal/testutil"
)

type blockingRunner struct {
	mu      sync.Mutex
	runs    map[int]int
	release chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, campaignID int) error {
	b.mu.Lock()
	b.runs[campaignID]++
	b.mu.Unlock()
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func (b *blockingRunner) count(id int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs[id]
}

func TestRunner_StartDeduplicates(t *testing.T) {
	store := testutil.NewStore()
	br := &blockingRunner{runs: map[int]int{}, release: make(chan struct{})}
	r := NewRunner(context.Background(), br, store.Campaigns(), zerolog.Nop())

	testutil.AssertEqual(t, r.Start(1), true)
	testutil.AssertEqual(t, r.Start(1), false)
	testutil.AssertEqual(t, r.Start(2), true)
	testutil.AssertEqual(t, len(r.Active()), 2)

	close(br.release)
	r.Wait()

	testutil.AssertEqual(t, br.count(1), 1)
	testutil.AssertEqual(t, len(r.Active()), 0)

	// a finished campaign can be started again
	testutil.AssertEqual(t, r.Start(1), true)
	r.Wait()
	testutil.AssertEqual(t, br.count(1), 2)
}

func TestRunner_StopCancelsWorkers(t *testing.T) {
	store := testutil.NewStore()
	br := &blockingRunner{runs: map[int]int{}, release: make(chan struct{})}
	r := NewRunner(context.Background(), br, store.Campaigns(), zerolog.Nop())

	r.Start(1)
	r.Stop()

	testutil.AssertEqual(t, len(r.Active()), 0)
	testutil.AssertEqual(t, r.Start(2), false)
}

func TestRunner_ResumeRunningCompletesCampaigns(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.seed(t, "Hi {first_name}", false, abc()...)
	f.store.PutCampaign(testutil.NewTestCampaign(200, testTemplateID, models.CampaignStatusDraft))

	r := NewRunner(context.Background(), f.d, f.store.Campaigns(), zerolog.Nop())
	started, err := r.ResumeRunning(context.Background())
	r.Wait()

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, started, 1)
	testutil.AssertEqual(t, f.store.Campaign(testCampaignID).Status, models.CampaignStatusCompleted)
	testutil.AssertEqual(t, f.store.Campaign(200).Status, models.CampaignStatusDraft)
	testutil.AssertEqual(t, f.prov.CallCount(), 3)
}
