package handler

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"wabroadcast/internal/provider"
	"wabroadcast/internal/reconciler"
)

const maxCallbackBody = 1 << 20

// CallbackReconciler applies a raw provider callback
type CallbackReconciler interface {
	HandleCallback(ctx context.Context, raw []byte, headers http.Header) (reconciler.Result, error)
}

// WebhookHandler receives provider status callbacks
type WebhookHandler struct {
	reconciler CallbackReconciler
	verifier   provider.SubscriptionVerifier
	unmatched  *unmatchedTracker
}

// NewWebhookHandler creates a webhook handler. verifier may be nil when the
// provider has no subscription handshake. After maxUnmatched retryable
// rejections for the same provider message id, the callback is acknowledged
// and dropped.
func NewWebhookHandler(rec CallbackReconciler, verifier provider.SubscriptionVerifier, maxUnmatched int) *WebhookHandler {
	return &WebhookHandler{
		reconciler: rec,
		verifier:   verifier,
		unmatched:  newUnmatchedTracker(maxUnmatched, 10000),
	}
}

// Verify handles GET /webhook - the subscription challenge
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		WriteError(w, http.StatusNotFound, "NOT_SUPPORTED", "provider does not use subscription verification")
		return
	}

	q := r.URL.Query()
	challenge, ok := h.verifier.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if !ok {
		WriteError(w, http.StatusForbidden, "FORBIDDEN", "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Receive handles POST /webhook - status callbacks
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())

	// one byte past the limit tells an oversized body from a full one
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body")
		return
	}
	if len(raw) > maxCallbackBody {
		log.Warn().Int("limit", maxCallbackBody).Msg("callback body too large")
		WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "callback body exceeds 1 MiB")
		return
	}

	result, err := h.reconciler.HandleCallback(r.Context(), raw, r.Header)
	if err != nil {
		log.Error().Err(err).Msg("callback processing failed")
		WriteInternalError(w)
		return
	}

	switch {
	case result.Outcome == reconciler.OutcomeAck:
		WriteOK(w, result)
	case result.Unauthenticated:
		WriteError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", result.Reason)
	case result.Retryable:
		if h.unmatched.exhausted(result.Unmatched) {
			log.Warn().Strs("provider_message_ids", result.Unmatched).Msg("dropping callback for unknown messages after repeated retries")
			WriteOK(w, result)
			return
		}
		WriteError(w, http.StatusServiceUnavailable, "UNKNOWN_MESSAGE", result.Reason)
	default:
		WriteError(w, http.StatusBadRequest, "INVALID_PAYLOAD", result.Reason)
	}
}

// unmatchedTracker counts retryable rejections per provider message id
type unmatchedTracker struct {
	mu       sync.Mutex
	max      int
	capacity int
	seen     map[string]int
}

func newUnmatchedTracker(limit, capacity int) *unmatchedTracker {
	return &unmatchedTracker{max: limit, capacity: capacity, seen: make(map[string]int)}
}

// exhausted records one more rejection for ids and reports whether every
// id has now reached the retry limit. Exhausted ids are forgotten.
func (t *unmatchedTracker) exhausted(ids []string) bool {
	if t.max <= 0 || len(ids) == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.seen) >= t.capacity {
		t.seen = make(map[string]int)
	}

	all := true
	for _, id := range ids {
		t.seen[id]++
		if t.seen[id] < t.max {
			all = false
		}
	}
	if all {
		for _, id := range ids {
			delete(t.seen, id)
		}
	}
	return all
}
