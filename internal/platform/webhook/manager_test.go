package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/grahmeen/health/internal/platform/apperr"
)

type mockRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *mockRecorder) RecordAlert(channel, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, channel+":"+status)
}

func newTestManager(opts ...ManagerOption) *Manager {
	return NewManager(NewMemoryStore(), zerolog.Nop(), opts...)
}

func mustRegister(t *testing.T, m *Manager, url string, events ...string) *Endpoint {
	t.Helper()
	ep, err := m.RegisterEndpoint(context.Background(), EndpointInput{URL: url, Secret: "test-secret-key", Events: events})
	if err != nil {
		t.Fatalf("failed to register endpoint: %v", err)
	}
	return ep
}

// receiver records every request body and verifies the signature.
type receiver struct {
	mu     sync.Mutex
	bodies [][]byte
	status int32
	hits   atomic.Int32
	badSig atomic.Int32
}

func (rc *receiver) handler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rc.hits.Add(1)
		if !VerifySignature(body, secret, r.Header.Get("X-Webhook-Signature")) {
			rc.badSig.Add(1)
		}
		rc.mu.Lock()
		rc.bodies = append(rc.bodies, body)
		rc.mu.Unlock()
		status := int(atomic.LoadInt32(&rc.status))
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}

func TestRegisterEndpoint(t *testing.T) {
	m := newTestManager()
	ep, err := m.RegisterEndpoint(context.Background(), EndpointInput{URL: "https://example.com/hook", CreatedBy: "admin-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.ID == "" || ep.Status != StatusActive || ep.CreatedBy != "admin-1" {
		t.Errorf("unexpected endpoint: %+v", ep)
	}
	if len(ep.Secret) != 64 {
		t.Errorf("expected a generated 32 byte hex secret, got %q", ep.Secret)
	}
	if len(ep.Events) != 1 || ep.Events[0] != "*" {
		t.Errorf("expected wildcard subscription by default, got %v", ep.Events)
	}
}

func TestRegisterEndpoint_InvalidURL(t *testing.T) {
	m := newTestManager()
	for _, u := range []string{"", "ftp://example.com/hook", "not a url", "https://"} {
		_, err := m.RegisterEndpoint(context.Background(), EndpointInput{URL: u})
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%q: expected validation error, got %v", u, err)
		}
	}
}

func TestEventMatches(t *testing.T) {
	tests := []struct {
		pattern, event string
		want           bool
	}{
		{"assessment.completed", "assessment.completed", true},
		{"assessment.*", "assessment.deleted", true},
		{"*.completed", "assessment.completed", true},
		{"*", "webhook.test", true},
		{"assessment.completed", "assessment.deleted", false},
		{"user.*", "assessment.completed", false},
	}
	for _, tt := range tests {
		if got := eventMatches(tt.pattern, tt.event); got != tt.want {
			t.Errorf("eventMatches(%q, %q) = %v, want %v", tt.pattern, tt.event, got, tt.want)
		}
	}
}

func TestSignature(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := SignPayload(payload, "s3cret")
	if !VerifySignature(payload, "s3cret", sig) {
		t.Error("expected signature to verify")
	}
	if !VerifySignature(payload, "s3cret", "sha256="+sig) {
		t.Error("expected prefixed signature to verify")
	}
	if VerifySignature(payload, "other", sig) {
		t.Error("expected wrong secret to fail")
	}
	if VerifySignature([]byte(`{"a":2}`), "s3cret", sig) {
		t.Error("expected tampered payload to fail")
	}
}

func TestDeliver_OnlySubscribedActiveEndpoints(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler("test-secret-key"))
	defer srv.Close()

	rec := &mockRecorder{}
	m := newTestManager(WithRecorder(rec))
	want := mustRegister(t, m, srv.URL, "assessment.*")
	mustRegister(t, m, srv.URL, "user.created")
	paused := mustRegister(t, m, srv.URL, "*")
	if _, err := m.PauseEndpoint(context.Background(), paused.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	results := m.Deliver(context.Background(), Event{ID: "ev-1", Type: "assessment.completed", Payload: json.RawMessage(`{"risk":"high"}`)})
	if len(results) != 1 {
		t.Fatalf("expected 1 delivery, got %+v", results)
	}
	if results[0].EndpointID != want.ID || !results[0].Success || results[0].StatusCode != http.StatusOK {
		t.Errorf("unexpected result: %+v", results[0])
	}
	if rc.badSig.Load() != 0 {
		t.Error("receiver saw an invalid signature")
	}

	var got Event
	if err := json.Unmarshal(rc.bodies[0], &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ID != "ev-1" || string(got.Payload) != `{"risk":"high"}` {
		t.Errorf("unexpected event body: %+v", got)
	}

	logs, total, err := m.DeliveryLogs(context.Background(), want.ID, 10, 0)
	if err != nil || total != 1 || logs[0].Status != DeliverySuccess {
		t.Errorf("expected one successful log, got %d %+v %v", total, logs, err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "webhook:success" {
		t.Errorf("unexpected recorder calls: %v", rec.calls)
	}
}

func TestDeliverToEndpoint_Non2xx(t *testing.T) {
	rc := &receiver{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rc.handler("test-secret-key"))
	defer srv.Close()

	m := newTestManager()
	ep := mustRegister(t, m, srv.URL)
	attempt := m.DeliverToEndpoint(context.Background(), ep, Event{ID: "ev", Type: "assessment.completed"}, 1)
	if attempt.Status != DeliveryFailed || attempt.StatusCode != http.StatusInternalServerError {
		t.Errorf("unexpected attempt: %+v", attempt)
	}
	if attempt.Error == "" {
		t.Error("expected an error message")
	}
}

func TestDispatch_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := newTestManager(WithRetryDelays(time.Millisecond, time.Millisecond, time.Millisecond))
	defer m.Close()
	ep := mustRegister(t, m, srv.URL, "assessment.completed")

	m.Dispatch(context.Background(), "assessment.completed", "rec-1", json.RawMessage(`{}`))
	m.Wait()

	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	logs, total, _ := m.DeliveryLogs(context.Background(), ep.ID, 10, 0)
	if total != 3 {
		t.Fatalf("expected 3 logged attempts, got %d", total)
	}
	if logs[0].Status != DeliverySuccess || logs[0].Attempt != 3 {
		t.Errorf("expected newest log to be the successful third attempt, got %+v", logs[0])
	}
}

func TestDispatch_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := newTestManager(WithRetryDelays(time.Millisecond))
	defer m.Close()
	mustRegister(t, m, srv.URL)

	m.Dispatch(context.Background(), "assessment.completed", "rec-1", nil)
	m.Wait()
	if calls.Load() != 2 {
		t.Errorf("expected first attempt plus one retry, got %d", calls.Load())
	}
}

func TestDispatch_CloseCancelsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := newTestManager(WithRetryDelays(time.Hour))
	mustRegister(t, m, srv.URL)
	m.Dispatch(context.Background(), "assessment.completed", "rec-1", nil)

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the pending retry")
	}
}

func TestRetryDelivery(t *testing.T) {
	rc := &receiver{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rc.handler("test-secret-key"))
	defer srv.Close()

	m := newTestManager()
	ep := mustRegister(t, m, srv.URL)
	first := m.DeliverToEndpoint(context.Background(), ep, Event{ID: "ev-9", Type: "assessment.completed"}, 1)

	atomic.StoreInt32(&rc.status, http.StatusOK)
	retried, err := m.RetryDelivery(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("RetryDelivery: %v", err)
	}
	if retried.Attempt != 2 || retried.Status != DeliverySuccess || retried.EventID != "ev-9" {
		t.Errorf("unexpected retry: %+v", retried)
	}

	if _, err := m.RetryDelivery(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTestEndpoint_IgnoresSubscriptions(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler("test-secret-key"))
	defer srv.Close()

	m := newTestManager()
	ep := mustRegister(t, m, srv.URL, "assessment.completed")
	attempt, err := m.TestEndpoint(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("TestEndpoint: %v", err)
	}
	if attempt.EventType != EventTest || attempt.Status != DeliverySuccess {
		t.Errorf("unexpected attempt: %+v", attempt)
	}
}

func TestUpdateEndpoint(t *testing.T) {
	m := newTestManager()
	ep := mustRegister(t, m, "https://example.com/a")

	got, err := m.UpdateEndpoint(context.Background(), ep.ID, UpdateInput{URL: "https://example.com/b", Events: []string{"assessment.deleted"}})
	if err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}
	if got.URL != "https://example.com/b" || got.Events[0] != "assessment.deleted" || got.Status != StatusActive {
		t.Errorf("unexpected endpoint: %+v", got)
	}

	_, err = m.UpdateEndpoint(context.Background(), ep.ID, UpdateInput{Status: "deleted"})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected validation error for bad status, got %v", err)
	}
	if _, err := m.UpdateEndpoint(context.Background(), "missing", UpdateInput{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteDropsLogs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ep := &Endpoint{ID: "ep-1", CreatedAt: time.Now()}
	if err := s.CreateEndpoint(ctx, ep); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEndpoint(ctx, ep); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate id, got %v", err)
	}
	_ = s.RecordDelivery(ctx, &DeliveryAttempt{ID: "d-1", WebhookID: "ep-1"})

	if err := s.DeleteEndpoint(ctx, "ep-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDelivery(ctx, "d-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected delivery log to be dropped, got %v", err)
	}
	if err := s.DeleteEndpoint(ctx, "ep-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_LogCap(t *testing.T) {
	s := NewMemoryStore()
	s.maxLogs = 3
	ctx := context.Background()
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		_ = s.RecordDelivery(ctx, &DeliveryAttempt{ID: id, WebhookID: "ep"})
	}
	logs, total, _ := s.ListDeliveries(ctx, "ep", 0, 0)
	if total != 3 {
		t.Fatalf("expected 3 logs, got %d", total)
	}
	if logs[0].ID != "d5" || logs[2].ID != "d3" {
		t.Errorf("expected newest first d5..d3, got %s..%s", logs[0].ID, logs[2].ID)
	}
	if _, err := s.GetDelivery(ctx, "d1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected d1 evicted, got %v", err)
	}
}
