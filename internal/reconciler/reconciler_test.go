package reconciler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wabroadcast/internal/config"
	"wabroadcast/internal/delivery"
	"wabroadcast/internal/models"
	"wabroadcast/internal/provider"
	"wabroadcast/internal/testutil"
)

var callbackAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newReconciler(store *testutil.Store, p provider.Provider) *Reconciler {
	machine := delivery.NewMachine(store.Messages(), zerolog.Nop())
	return New(p, store.Messages(), store.Contacts(), machine, zerolog.Nop())
}

func putSent(store *testutil.Store, id int, providerID string) {
	store.PutMessage(&models.OutboundMessage{
		ID:                id,
		CampaignID:        1,
		ContactID:         testutil.IntPtr(id),
		Position:          id,
		Phone:             "+254700000001",
		ProviderMessageID: testutil.StringPtr(providerID),
		Status:            models.MessageStatusSent,
		Attempts:          1,
	})
}

func events(evs ...provider.StatusEvent) func([]byte, http.Header) ([]provider.StatusEvent, error) {
	return func([]byte, http.Header) ([]provider.StatusEvent, error) {
		return evs, nil
	}
}

func TestHandleCallback_AppliesDelivered(t *testing.T) {
	store := testutil.NewStore()
	putSent(store, 1, "wamid.1")
	fake := &testutil.FakeProvider{VerifyFunc: events(provider.StatusEvent{
		ProviderMessageID: "wamid.1", Status: models.MessageStatusDelivered, At: callbackAt,
	})}

	res, err := newReconciler(store, fake).HandleCallback(context.Background(), []byte("{}"), http.Header{})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Outcome, OutcomeAck)
	testutil.AssertEqual(t, res.Applied, 1)

	msg := store.Message(1)
	testutil.AssertEqual(t, msg.Status, models.MessageStatusDelivered)
	testutil.AssertEqual(t, len(msg.History), 1)
	testutil.AssertEqual(t, msg.History[0].Source, models.SourceCallback)
	testutil.AssertTrue(t, msg.History[0].At.After(callbackAt), "history should be stamped with the receive time")
	testutil.AssertEqual(t, msg.History[0].Note, "provider time 2024-05-01T10:00:00Z")
}

func TestHandleCallback_HistoryStaysOrderedAgainstCoarseProviderClock(t *testing.T) {
	// Setup: dispatch lands at 10:00:00.7, then the provider reports
	// delivered with a whole-second timestamp from the same second.
	const secret = "app-secret"
	store := testutil.NewStore()
	store.PutMessage(&models.OutboundMessage{
		ID: 1, CampaignID: 1, Position: 1, Phone: "+254700000001", Status: models.MessageStatusQueued,
	})
	machine := delivery.NewMachine(store.Messages(), zerolog.Nop())
	sentAt := time.Date(2024, 5, 1, 10, 0, 0, 700_000_000, time.UTC)
	_, err := machine.Apply(context.Background(), store.Message(1), delivery.Update{
		Event:             delivery.EventDispatched,
		ProviderMessageID: testutil.StringPtr("wamid.HBg"),
		At:                sentAt,
	})
	testutil.AssertNoError(t, err)

	payload := []byte(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.HBg","status":"delivered","timestamp":"1714557600","recipient_id":"254700000001"}]}}]}]}`)
	meta := provider.NewMeta(config.MetaConfig{AppSecret: secret}, http.DefaultClient)
	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", provider.SignMeta(secret, payload))

	// Execute
	res, err := New(meta, store.Messages(), store.Contacts(), machine, zerolog.Nop()).
		HandleCallback(context.Background(), payload, headers)

	// Verify
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Applied, 1)
	history := store.Message(1).History
	testutil.AssertEqual(t, len(history), 2)
	testutil.AssertEqual(t, history[0].Status, models.MessageStatusSent)
	testutil.AssertEqual(t, history[1].Status, models.MessageStatusDelivered)
	testutil.AssertTrue(t, !history[1].At.Before(history[0].At), "delivered row must not be stamped before the sent row")
}

func TestHandleCallback_DuplicateIsIdempotent(t *testing.T) {
	store := testutil.NewStore()
	putSent(store, 1, "wamid.1")
	fake := &testutil.FakeProvider{VerifyFunc: events(provider.StatusEvent{
		ProviderMessageID: "wamid.1", Status: models.MessageStatusDelivered,
	})}
	r := newReconciler(store, fake)

	_, err := r.HandleCallback(context.Background(), nil, http.Header{})
	testutil.AssertNoError(t, err)
	res, err := r.HandleCallback(context.Background(), nil, http.Header{})
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, res.Outcome, OutcomeAck)
	testutil.AssertEqual(t, res.Applied, 0)
	testutil.AssertEqual(t, res.Duplicates, 1)
	testutil.AssertEqual(t, len(store.Message(1).History), 1)
}

func TestHandleCallback_OutOfOrderEvents(t *testing.T) {
	store := testutil.NewStore()
	putSent(store, 1, "wamid.1")
	// read arrives before delivered
	fake := &testutil.FakeProvider{VerifyFunc: events(
		provider.StatusEvent{ProviderMessageID: "wamid.1", Status: models.MessageStatusRead},
		provider.StatusEvent{ProviderMessageID: "wamid.1", Status: models.MessageStatusDelivered},
	)}

	res, err := newReconciler(store, fake).HandleCallback(context.Background(), nil, http.Header{})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Outcome, OutcomeAck)
	testutil.AssertEqual(t, res.Applied, 1)
	testutil.AssertEqual(t, res.Conflicts, 1)
	testutil.AssertEqual(t, store.Message(1).Status, models.MessageStatusRead)
}

func TestHandleCallback_FailedRecordsProviderError(t *testing.T) {
	store := testutil.NewStore()
	putSent(store, 1, "wamid.1")
	fake := &testutil.FakeProvider{VerifyFunc: events(provider.StatusEvent{
		ProviderMessageID: "wamid.1",
		Status:            models.MessageStatusFailed,
		ErrorCode:         "131026",
		ErrorMessage:      "Message undeliverable",
	})}

	_, err := newReconciler(store, fake).HandleCallback(context.Background(), nil, http.Header{})

	testutil.AssertNoError(t, err)
	msg := store.Message(1)
	testutil.AssertEqual(t, msg.Status, models.MessageStatusFailed)
	testutil.AssertEqual(t, *msg.LastError, "131026: Message undeliverable")
}

func TestHandleCallback_InvalidSignature(t *testing.T) {
	store := testutil.NewStore()
	putSent(store, 1, "wamid.1")
	fake := &testutil.FakeProvider{} // no VerifyFunc rejects every signature

	res, err := newReconciler(store, fake).HandleCallback(context.Background(), []byte("{}"), http.Header{})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Outcome, OutcomeReject)
	testutil.AssertEqual(t, res.Retryable, false)
	testutil.AssertEqual(t, res.Unauthenticated, true)
	testutil.AssertEqual(t, store.Message(1).Status, models.MessageStatusSent)
}

func TestHandleCallback_MalformedPayload(t *testing.T) {
	store := testutil.NewStore()
	fake := &testutil.FakeProvider{VerifyFunc: func([]byte, http.Header) ([]provider.StatusEvent, error) {
		return nil, errors.New("failed to decode callback")
	}}

	res, err := newReconciler(store, fake).HandleCallback(context.Background(), []byte("not json"), http.Header{})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Outcome, OutcomeReject)
	testutil.AssertEqual(t, res.Retryable, false)
	testutil.AssertEqual(t, res.Unauthenticated, false)
}

func TestHandleCallback_UnknownIDIsRetryableAndMutatesNothing(t *testing.T) {
	store := testutil.NewStore()
	putSent(store, 1, "wamid.1")
	fake := &testutil.FakeProvider{VerifyFunc: events(
		provider.StatusEvent{ProviderMessageID: "wamid.unknown", Status: models.MessageStatusDelivered},
	)}

	res, err := newReconciler(store, fake).HandleCallback(context.Background(), nil, http.Header{})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Outcome, OutcomeReject)
	testutil.AssertEqual(t, res.Retryable, true)
	testutil.AssertEqual(t, len(res.Unmatched), 1)
	testutil.AssertEqual(t, res.Unmatched[0], "wamid.unknown")

	msg := store.Message(1)
	testutil.AssertEqual(t, msg.Status, models.MessageStatusSent)
	testutil.AssertEqual(t, len(msg.History), 0)
}

func TestHandleCallback_CallbackAfterCompletionStillApplies(t *testing.T) {
	store := testutil.NewStore()
	store.PutCampaign(testutil.NewTestCampaign(1, 1, models.CampaignStatusCompleted))
	putSent(store, 1, "wamid.1")
	fake := &testutil.FakeProvider{VerifyFunc: events(
		provider.StatusEvent{ProviderMessageID: "wamid.1", Status: models.MessageStatusDelivered},
		provider.StatusEvent{ProviderMessageID: "wamid.1", Status: models.MessageStatusRead},
	)}

	res, err := newReconciler(store, fake).HandleCallback(context.Background(), nil, http.Header{})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Applied, 2)
	testutil.AssertEqual(t, store.Message(1).Status, models.MessageStatusRead)
}

func TestHandleCallback_MetaSignedPayload(t *testing.T) {
	const secret = "app-secret"
	payload := []byte(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.HBg","status":"delivered","timestamp":"1714557600","recipient_id":"254700000001"}]}}]}]}`)

	store := testutil.NewStore()
	putSent(store, 1, "wamid.HBg")
	meta := provider.NewMeta(config.MetaConfig{AppSecret: secret}, http.DefaultClient)
	r := newReconciler(store, meta)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", provider.SignMeta(secret, payload))
	res, err := r.HandleCallback(context.Background(), payload, headers)

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Outcome, OutcomeAck)
	testutil.AssertEqual(t, store.Message(1).Status, models.MessageStatusDelivered)

	// tampered body fails authentication
	headers.Set("X-Hub-Signature-256", provider.SignMeta("wrong", payload))
	res, err = r.HandleCallback(context.Background(), payload, headers)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Unauthenticated, true)
}

func TestHandleCallback_StopReplyUnsubscribesContact(t *testing.T) {
	// Setup
	store := testutil.NewStore()
	store.PutContact(&models.Contact{ID: 7, Phone: "+254700000007", Subscribed: true})
	optOut := provider.StatusEvent{Kind: provider.KindOptOut, From: "+254700000007", At: callbackAt}
	fake := &testutil.FakeProvider{VerifyFunc: events(optOut)}
	r := newReconciler(store, fake)

	// Execute
	res, err := r.HandleCallback(context.Background(), nil, http.Header{})

	// Verify
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Outcome, OutcomeAck)
	testutil.AssertEqual(t, res.OptedOut, 1)
	testutil.AssertEqual(t, res.Ignored, 0)
	contact, err := store.Contacts().GetByID(context.Background(), 7)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, contact.Subscribed, false)

	// a repeated STOP is a no-op
	res, err = r.HandleCallback(context.Background(), nil, http.Header{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.OptedOut, 0)
}

func TestHandleCallback_StopFromUnknownNumberIsAcked(t *testing.T) {
	store := testutil.NewStore()
	fake := &testutil.FakeProvider{VerifyFunc: events(
		provider.StatusEvent{Kind: provider.KindOptOut, From: "+254799999999"},
	)}

	res, err := newReconciler(store, fake).HandleCallback(context.Background(), nil, http.Header{})

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.Outcome, OutcomeAck)
	testutil.AssertEqual(t, res.OptedOut, 0)
	testutil.AssertEqual(t, len(res.Unmatched), 0)
}

func TestHandleCallback_TwilioStopReply(t *testing.T) {
	const callbackURL = "https://example.com/webhooks/provider"
	store := testutil.NewStore()
	store.PutContact(&models.Contact{ID: 3, Phone: "+254700000003", Subscribed: true})
	tw := provider.NewTwilio(config.TwilioConfig{AuthToken: "tok", StatusCallbackURL: callbackURL}, http.DefaultClient)

	form := url.Values{
		"MessageSid": {"SM0042"},
		"From":       {"whatsapp:+254700000003"},
		"Body":       {"Stop"},
	}
	headers := http.Header{}
	headers.Set("X-Twilio-Signature", provider.SignTwilio("tok", callbackURL, form))

	res, err := newReconciler(store, tw).HandleCallback(context.Background(), []byte(form.Encode()), headers)

	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, res.OptedOut, 1)
	contact, err := store.Contacts().GetByID(context.Background(), 3)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, contact.Subscribed, false)
}
