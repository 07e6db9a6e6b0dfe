package handler

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wabroadcast/internal/config"
	"wabroadcast/internal/provider"
	"wabroadcast/internal/reconciler"
	"wabroadcast/internal/testutil"
)

func postCallback(f *apiFixture) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"entry":[]}`)))
}

func TestWebhook_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		result reconciler.Result
		err    error
		want   int
	}{
		{"ack", reconciler.Result{Outcome: reconciler.OutcomeAck, Applied: 1}, nil, http.StatusOK},
		{"bad signature", reconciler.Result{Outcome: reconciler.OutcomeReject, Unauthenticated: true}, nil, http.StatusUnauthorized},
		{"unknown id", reconciler.Result{Outcome: reconciler.OutcomeReject, Retryable: true, Unmatched: []string{"x"}}, nil, http.StatusServiceUnavailable},
		{"malformed", reconciler.Result{Outcome: reconciler.OutcomeReject, Reason: "bad json"}, nil, http.StatusBadRequest},
		{"storage error", reconciler.Result{}, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPI(t, nil)
			f.reconciler.result = tt.result
			f.reconciler.err = tt.err

			testutil.AssertStatusCode(t, postCallback(f), tt.want)
		})
	}
}

func TestWebhook_BodySizeLimit(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		want  int
		calls int
	}{
		{"at limit", maxCallbackBody, http.StatusOK, 1},
		{"over limit", maxCallbackBody + 1, http.StatusRequestEntityTooLarge, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPI(t, nil)
			f.reconciler.result = reconciler.Result{Outcome: reconciler.OutcomeAck}

			body := strings.Repeat("x", tt.size)
			resp := f.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

			testutil.AssertStatusCode(t, resp, tt.want)
			testutil.AssertEqual(t, f.reconciler.calls, tt.calls)
		})
	}
}

func TestWebhook_UnmatchedDroppedAfterRetryLimit(t *testing.T) {
	f := setupAPI(t, nil)
	f.reconciler.result = reconciler.Result{Outcome: reconciler.OutcomeReject, Retryable: true, Unmatched: []string{"wamid.ghost"}}

	testutil.AssertStatusCode(t, postCallback(f), http.StatusServiceUnavailable)
	testutil.AssertStatusCode(t, postCallback(f), http.StatusServiceUnavailable)
	// third rejection reaches the limit of 3 and is acknowledged
	testutil.AssertStatusCode(t, postCallback(f), http.StatusOK)
	// the counter starts over afterwards
	testutil.AssertStatusCode(t, postCallback(f), http.StatusServiceUnavailable)
}

func TestWebhook_VerifySubscription(t *testing.T) {
	meta := provider.NewMeta(config.MetaConfig{VerifyToken: "let-me-in"}, http.DefaultClient)
	f := setupAPI(t, meta)

	resp := f.do(httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=let-me-in&hub.challenge=12345", nil))
	testutil.AssertStatusCode(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	testutil.AssertEqual(t, string(body), "12345")

	resp = f.do(httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", nil))
	testutil.AssertStatusCode(t, resp, http.StatusForbidden)
}

func TestWebhook_VerifyUnsupported(t *testing.T) {
	f := setupAPI(t, nil)

	resp := f.do(httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe", nil))

	testutil.AssertStatusCode(t, resp, http.StatusNotFound)
}
