package delivery

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"wabroadcast/internal/models"
	"wabroadcast/internal/testutil"
)

var allEvents = []Event{
	EventDispatched,
	EventRejected,
	EventRetriesExhausted,
	EventCallbackSent,
	EventCallbackDelivered,
	EventCallbackRead,
	EventCallbackFailed,
}

func TestNext_Table(t *testing.T) {
	legal := map[models.MessageStatus]map[Event]models.MessageStatus{
		models.MessageStatusQueued: {
			EventDispatched:       models.MessageStatusSent,
			EventRejected:         models.MessageStatusFailed,
			EventRetriesExhausted: models.MessageStatusFailed,
		},
		models.MessageStatusSent: {
			EventCallbackDelivered: models.MessageStatusDelivered,
			EventCallbackFailed:    models.MessageStatusFailed,
			EventCallbackRead:      models.MessageStatusRead,
		},
		models.MessageStatusDelivered: {
			EventCallbackRead: models.MessageStatusRead,
		},
	}

	for _, status := range models.MessageStatuses {
		for _, event := range allEvents {
			want, wantOK := legal[status][event]
			got, ok := Next(status, event)
			if ok != wantOK || got != want {
				t.Errorf("Next(%s, %s) = %q, %v; want %q, %v", status, event, got, ok, want, wantOK)
			}
		}
	}
}

func TestNext_TerminalAbsorbsEverything(t *testing.T) {
	for _, status := range []models.MessageStatus{models.MessageStatusRead, models.MessageStatusFailed} {
		for _, event := range allEvents {
			if _, ok := Next(status, event); ok {
				t.Errorf("terminal %s accepted %s", status, event)
			}
		}
	}
}

func newMachine(store *testutil.Store) *Machine {
	return NewMachine(store.Messages(), zerolog.Nop())
}

func putMessage(store *testutil.Store, id int, status models.MessageStatus) *models.OutboundMessage {
	msg := &models.OutboundMessage{
		ID:         id,
		CampaignID: 1,
		Position:   id,
		Phone:      "+254700000001",
		Status:     status,
	}
	if status != models.MessageStatusQueued {
		msg.ProviderMessageID = testutil.StringPtr("wamid.x")
	}
	store.PutMessage(msg)
	return msg
}

func TestApply_DispatchSuccessRecordsProviderID(t *testing.T) {
	store := testutil.NewStore()
	m := newMachine(store)
	msg := putMessage(store, 1, models.MessageStatusQueued)

	res, err := m.Apply(context.Background(), msg, Update{
		Event:             EventDispatched,
		ProviderMessageID: testutil.StringPtr("wamid.1"),
		RenderedBody:      testutil.StringPtr("Hi Alice"),
		CountsAttempt:     true,
	})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Applied, true)
	testutil.AssertEqual(t, res.To, models.MessageStatusSent)

	stored := store.Message(1)
	testutil.AssertEqual(t, stored.Status, models.MessageStatusSent)
	testutil.AssertEqual(t, *stored.ProviderMessageID, "wamid.1")
	testutil.AssertEqual(t, *stored.RenderedBody, "Hi Alice")
	testutil.AssertEqual(t, stored.Attempts, 1)
	testutil.AssertTrue(t, stored.SentAt != nil, "sent_at should be set")
	testutil.AssertEqual(t, len(stored.History), 1)
	testutil.AssertEqual(t, stored.History[0].Source, models.SourceDispatch)
}

func TestApply_DuplicateCallbackIsIdempotent(t *testing.T) {
	store := testutil.NewStore()
	m := newMachine(store)
	msg := putMessage(store, 1, models.MessageStatusSent)

	first, err := m.Apply(context.Background(), msg, Update{Event: EventCallbackDelivered})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, first.Applied, true)

	// The caller still holds the stale "sent" snapshot.
	second, err := m.Apply(context.Background(), msg, Update{Event: EventCallbackDelivered})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, second.Applied, false)
	testutil.AssertEqual(t, second.Duplicate, true)
	testutil.AssertEqual(t, second.Conflict, false)

	testutil.AssertEqual(t, len(store.Message(1).History), 1)
}

func TestApply_ReadOvertakingDeliveredIsApplied(t *testing.T) {
	store := testutil.NewStore()
	m := newMachine(store)
	msg := putMessage(store, 1, models.MessageStatusSent)

	read, err := m.Apply(context.Background(), msg, Update{Event: EventCallbackRead})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, read.Applied, true)
	testutil.AssertEqual(t, read.To, models.MessageStatusRead)

	// the delayed delivered callback finds a terminal record
	late, err := m.Apply(context.Background(), store.Message(1), Update{Event: EventCallbackDelivered})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, late.Applied, false)
	testutil.AssertEqual(t, late.Conflict, true)

	stored := store.Message(1)
	testutil.AssertEqual(t, stored.Status, models.MessageStatusRead)
	testutil.AssertEqual(t, len(stored.History), 1)
}

func TestApply_IllegalEventIsConflictNoop(t *testing.T) {
	store := testutil.NewStore()
	m := newMachine(store)
	msg := putMessage(store, 1, models.MessageStatusDelivered)

	res, err := m.Apply(context.Background(), msg, Update{Event: EventCallbackFailed})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Conflict, true)
	testutil.AssertErrorIs(t, res.Err(), ErrStateConflict)
	testutil.AssertEqual(t, store.Message(1).Status, models.MessageStatusDelivered)
	testutil.AssertEqual(t, len(store.Message(1).History), 0)
}

func TestApply_LostRaceReevaluatesAgainstFreshStatus(t *testing.T) {
	store := testutil.NewStore()
	m := newMachine(store)
	msg := putMessage(store, 1, models.MessageStatusSent)

	fired := false
	store.BeforeTransition = func(models.Transition) {
		if fired {
			return
		}
		fired = true
		// A failure callback lands between our read and our write.
		_, _ = store.Messages().Transition(context.Background(), models.Transition{
			MessageID: 1,
			From:      models.MessageStatusSent,
			To:        models.MessageStatusFailed,
			Source:    models.SourceCallback,
		})
	}

	res, err := m.Apply(context.Background(), msg, Update{Event: EventCallbackDelivered})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Applied, false)
	testutil.AssertEqual(t, res.From, models.MessageStatusFailed)
	testutil.AssertEqual(t, store.Message(1).Status, models.MessageStatusFailed)
	testutil.AssertEqual(t, len(store.Message(1).History), 1)
}

func TestApply_ConcurrentCallbacksSingleTerminal(t *testing.T) {
	store := testutil.NewStore()
	m := newMachine(store)
	msg := putMessage(store, 1, models.MessageStatusSent)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		event := EventCallbackDelivered
		if i%2 == 1 {
			event = EventCallbackFailed
		}
		go func(e Event) {
			defer wg.Done()
			snapshot := *msg
			if _, err := m.Apply(context.Background(), &snapshot, Update{Event: e}); err != nil {
				t.Error(err)
			}
		}(event)
	}
	wg.Wait()

	stored := store.Message(1)
	testutil.AssertEqual(t, len(stored.History), 1)
	testutil.AssertTrue(t,
		stored.Status == models.MessageStatusDelivered || stored.Status == models.MessageStatusFailed,
		"unexpected final status "+string(stored.Status))
}

// Random event sequences never regress status and never reach two
// different terminal states.
func TestApply_HistoryIsMonotone(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		store := testutil.NewStore()
		m := newMachine(store)
		putMessage(store, 1, models.MessageStatusQueued)

		for step := 0; step < 8; step++ {
			event := allEvents[rng.Intn(len(allEvents))]
			fresh := store.Message(1)
			if _, err := m.Apply(context.Background(), fresh, Update{Event: event}); err != nil && !errors.Is(err, ErrStateConflict) {
				t.Fatal(err)
			}
		}

		history := store.Message(1).History
		terminals := 0
		for i, change := range history {
			if i > 0 && change.Status.Rank() <= history[i-1].Status.Rank() {
				t.Fatalf("run %d: history regressed: %v", run, history)
			}
			if change.Status.IsTerminal() {
				terminals++
			}
		}
		if terminals > 1 {
			t.Fatalf("run %d: %d terminal entries: %v", run, terminals, history)
		}
	}
}
