package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"wabroadcast/internal/models"
	"wabroadcast/internal/provider"
	"wabroadcast/internal/reconciler"
	"wabroadcast/internal/service"
	"wabroadcast/internal/testutil"
)

type mockPublisher struct{ published []int }

func (m *mockPublisher) PublishCampaign(_ context.Context, id int) error {
	m.published = append(m.published, id)
	return nil
}

type mockSender struct{ err error }

func (m *mockSender) SendTest(_ context.Context, contact *models.Contact, body string) (*models.TestSendResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.TestSendResult{Phone: contact.Phone, Body: body, ProviderMessageID: "wamid.test"}, nil
}

type mockReconciler struct {
	result reconciler.Result
	err    error
	calls  int
}

func (m *mockReconciler) HandleCallback(context.Context, []byte, http.Header) (reconciler.Result, error) {
	m.calls++
	return m.result, m.err
}

type apiFixture struct {
	store      *testutil.Store
	publisher  *mockPublisher
	sender     *mockSender
	reconciler *mockReconciler
	router     *mux.Router
}

func setupAPI(t *testing.T, verifier provider.SubscriptionVerifier) *apiFixture {
	t.Helper()
	store := testutil.NewStore()
	f := &apiFixture{
		store:      store,
		publisher:  &mockPublisher{},
		sender:     &mockSender{},
		reconciler: &mockReconciler{},
	}

	templates := service.NewTemplateService()
	campaigns := service.NewCampaignService(
		store.Campaigns(), store.Contacts(), store.Templates(), store.Messages(),
		templates, f.publisher, f.sender, zerolog.Nop(),
	)

	f.router = NewRouter(Handlers{
		Campaigns: NewCampaignHandler(campaigns),
		Contacts:  NewContactHandler(service.NewContactService(store.Contacts())),
		Templates: NewTemplateHandler(service.NewTemplateCatalog(store.Templates(), templates)),
		Preview:   NewPreviewHandler(campaigns),
		Webhook:   NewWebhookHandler(f.reconciler, verifier, 3),
	}, zerolog.Nop())
	return f
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateContact(t *testing.T) {
	f := setupAPI(t, nil)

	resp := f.do(testutil.NewJSONRequest(t, http.MethodPost, "/contacts", map[string]interface{}{
		"phone":      "+254700000001",
		"first_name": "Alice",
	}))

	testutil.AssertStatusCode(t, resp, http.StatusCreated)
	testutil.AssertJSONContentType(t, resp)
	var contact models.Contact
	testutil.ParseJSONResponse(t, resp, &contact)
	testutil.AssertEqual(t, contact.Phone, "+254700000001")
	testutil.AssertEqual(t, contact.Subscribed, true)
}

func TestCreateContact_InvalidPhone(t *testing.T) {
	f := setupAPI(t, nil)

	resp := f.do(testutil.NewJSONRequest(t, http.MethodPost, "/contacts", map[string]string{"phone": "0700000001"}))

	testutil.AssertStatusCode(t, resp, http.StatusBadRequest)
	var body ErrorResponse
	testutil.ParseJSONResponse(t, resp, &body)
	testutil.AssertEqual(t, body.Error.Code, "VALIDATION_ERROR")
}

func TestInvalidJSON(t *testing.T) {
	f := setupAPI(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/campaigns", nil)
	resp := f.do(req)

	testutil.AssertStatusCode(t, resp, http.StatusBadRequest)
	var body ErrorResponse
	testutil.ParseJSONResponse(t, resp, &body)
	testutil.AssertEqual(t, body.Error.Code, "INVALID_JSON")
}

func TestGetCampaign_BadAndMissingID(t *testing.T) {
	f := setupAPI(t, nil)

	testutil.AssertStatusCode(t, f.do(httptest.NewRequest(http.MethodGet, "/campaigns/abc", nil)), http.StatusBadRequest)
	testutil.AssertStatusCode(t, f.do(httptest.NewRequest(http.MethodGet, "/campaigns/0", nil)), http.StatusBadRequest)
	testutil.AssertStatusCode(t, f.do(httptest.NewRequest(http.MethodGet, "/campaigns/999", nil)), http.StatusNotFound)
}

func TestListCampaigns_InvalidStatus(t *testing.T) {
	f := setupAPI(t, nil)

	resp := f.do(httptest.NewRequest(http.MethodGet, "/campaigns?status=sending", nil))

	testutil.AssertStatusCode(t, resp, http.StatusBadRequest)
}

func TestCampaignLifecycle(t *testing.T) {
	f := setupAPI(t, nil)

	// Setup: template and two contacts
	resp := f.do(testutil.NewJSONRequest(t, http.MethodPost, "/templates", map[string]string{"name": "promo", "body": "Hi {first_name}"}))
	testutil.AssertStatusCode(t, resp, http.StatusCreated)
	var template models.Template
	testutil.ParseJSONResponse(t, resp, &template)

	var ids []int
	for _, phone := range []string{"+254700000001", "+254700000002"} {
		resp := f.do(testutil.NewJSONRequest(t, http.MethodPost, "/contacts", map[string]string{"phone": phone}))
		testutil.AssertStatusCode(t, resp, http.StatusCreated)
		var c models.Contact
		testutil.ParseJSONResponse(t, resp, &c)
		ids = append(ids, c.ID)
	}

	resp = f.do(testutil.NewJSONRequest(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"name":        "Spring promo",
		"template_id": template.ID,
		"contact_ids": ids,
	}))
	testutil.AssertStatusCode(t, resp, http.StatusCreated)
	var campaign models.Campaign
	testutil.ParseJSONResponse(t, resp, &campaign)
	base := "/campaigns/" + strconv.Itoa(campaign.ID)

	// Execute: start
	resp = f.do(httptest.NewRequest(http.MethodPost, base+"/start", nil))
	testutil.AssertStatusCode(t, resp, http.StatusAccepted)
	var started service.StartCampaignResult
	testutil.ParseJSONResponse(t, resp, &started)
	testutil.AssertEqual(t, started.MessagesQueued, 2)
	testutil.AssertEqual(t, f.publisher.published, []int{campaign.ID})

	// Verify: stats and messages
	resp = f.do(httptest.NewRequest(http.MethodGet, base+"/stats", nil))
	testutil.AssertStatusCode(t, resp, http.StatusOK)
	var stats CampaignStatsResponse
	testutil.ParseJSONResponse(t, resp, &stats)
	testutil.AssertEqual(t, stats.Status, models.CampaignStatusRunning)
	testutil.AssertEqual(t, stats.Stats.Queued, 2)

	resp = f.do(httptest.NewRequest(http.MethodGet, base+"/messages?status=queued", nil))
	testutil.AssertStatusCode(t, resp, http.StatusOK)
	var messages ListMessagesResponse
	testutil.ParseJSONResponse(t, resp, &messages)
	testutil.AssertEqual(t, len(messages.Messages), 2)

	// Starting twice is a business rule violation
	resp = f.do(httptest.NewRequest(http.MethodPost, base+"/start", nil))
	testutil.AssertStatusCode(t, resp, http.StatusBadRequest)

	// Cancel, then cancel again
	resp = f.do(httptest.NewRequest(http.MethodPost, base+"/cancel", nil))
	testutil.AssertStatusCode(t, resp, http.StatusOK)
	var cancelled models.Campaign
	testutil.ParseJSONResponse(t, resp, &cancelled)
	testutil.AssertEqual(t, cancelled.Status, models.CampaignStatusCancelled)

	resp = f.do(httptest.NewRequest(http.MethodPost, base+"/cancel", nil))
	testutil.AssertStatusCode(t, resp, http.StatusBadRequest)
}

func TestPreview(t *testing.T) {
	f := setupAPI(t, nil)
	f.store.PutTemplate(testutil.NewTestTemplate(1, "Hello {name}"))
	f.store.PutContact(testutil.NewTestContact(2, "Alice", "Smith"))
	f.store.PutCampaign(testutil.NewTestCampaign(3, 1, models.CampaignStatusDraft), 2)

	resp := f.do(testutil.NewJSONRequest(t, http.MethodPost, "/campaigns/3/preview", map[string]int{"contact_id": 2}))

	testutil.AssertStatusCode(t, resp, http.StatusOK)
	var result service.PreviewMessageResult
	testutil.ParseJSONResponse(t, resp, &result)
	testutil.AssertEqual(t, result.RenderedMessage, "Hello Alice Smith")

	resp = f.do(testutil.NewJSONRequest(t, http.MethodPost, "/campaigns/3/preview", map[string]int{}))
	testutil.AssertStatusCode(t, resp, http.StatusBadRequest)
}

func TestSendTest(t *testing.T) {
	f := setupAPI(t, nil)
	body := map[string]string{"phone": "+254700000009", "template": "Hi"}

	resp := f.do(testutil.NewJSONRequest(t, http.MethodPost, "/send-test", body))
	testutil.AssertStatusCode(t, resp, http.StatusOK)
	var result models.TestSendResult
	testutil.ParseJSONResponse(t, resp, &result)
	testutil.AssertEqual(t, result.ProviderMessageID, "wamid.test")

	f.sender.err = &provider.RejectedError{Provider: "meta", StatusCode: 400, Code: "131030", Message: "not in allowed list"}
	resp = f.do(testutil.NewJSONRequest(t, http.MethodPost, "/send-test", body))
	testutil.AssertStatusCode(t, resp, http.StatusUnprocessableEntity)

	f.sender.err = &provider.UnavailableError{Provider: "meta", StatusCode: 503}
	resp = f.do(testutil.NewJSONRequest(t, http.MethodPost, "/send-test", body))
	testutil.AssertStatusCode(t, resp, http.StatusServiceUnavailable)
}

func TestSubscriptionSwitch(t *testing.T) {
	f := setupAPI(t, nil)
	f.store.PutContact(testutil.NewTestContact(4, "Alice", ""))

	resp := f.do(testutil.NewJSONRequest(t, http.MethodPatch, "/contacts/4/subscription", map[string]bool{"subscribed": false}))

	testutil.AssertStatusCode(t, resp, http.StatusOK)
	var contact models.Contact
	testutil.ParseJSONResponse(t, resp, &contact)
	testutil.AssertEqual(t, contact.Subscribed, false)
}
