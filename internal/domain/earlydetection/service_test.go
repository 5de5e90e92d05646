package earlydetection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/grahmeen/health/internal/platform/apperr"
	"github.com/grahmeen/health/internal/platform/notification"
	"github.com/grahmeen/health/internal/platform/websocket"
	"github.com/grahmeen/health/internal/triage"
)

type mockRepo struct {
	mu          sync.Mutex
	records     map[uuid.UUID]*AssessmentRecord
	completeErr error
	created     int
	now         time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		records: make(map[uuid.UUID]*AssessmentRecord),
		now:     time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (m *mockRepo) Create(_ context.Context, rec *AssessmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = uuid.New()
	m.created++
	rec.CreatedAt = m.now.Add(time.Duration(m.created) * time.Minute)
	rec.UpdatedAt = rec.CreatedAt
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, userID string, id uuid.UUID) (*AssessmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.UserID != userID {
		return nil, fmt.Errorf("assessment %w", apperr.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRepo) Complete(_ context.Context, rec *AssessmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	stored, ok := m.records[rec.ID]
	if !ok || stored.Status != StatusPending {
		return fmt.Errorf("pending assessment %w", apperr.ErrNotFound)
	}
	rec.Status = StatusCompleted
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, userID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.UserID != userID {
		return fmt.Errorf("assessment %w", apperr.ErrNotFound)
	}
	delete(m.records, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, userID string, q ListQuery) ([]*AssessmentRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*AssessmentRecord
	for _, rec := range m.records {
		if rec.UserID != userID {
			continue
		}
		if q.RiskLevel != "" && string(rec.RiskLevel) != q.RiskLevel {
			continue
		}
		if q.Severity != "" && rec.Severity != q.Severity {
			continue
		}
		if q.From != nil && rec.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && rec.CreatedAt.After(*q.To) {
			continue
		}
		if q.Search != "" && !matchesSearch(rec, q.Search) {
			continue
		}
		cp := *rec
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool {
		if q.SortDesc {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	total := len(items)
	if q.Offset >= len(items) {
		return []*AssessmentRecord{}, total, nil
	}
	items = items[q.Offset:]
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, total, nil
}

func matchesSearch(rec *AssessmentRecord, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(rec.Severity, term) || strings.Contains(string(rec.RiskLevel), term) {
		return true
	}
	for _, s := range rec.Symptoms {
		if strings.Contains(strings.ToLower(s.Name), term) {
			return true
		}
	}
	return false
}

type mockPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, ev websocket.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

type mockAlerter struct {
	alerts    []notification.Alert
	summaries []notification.Alert
	err       error
}

func (m *mockAlerter) Notify(_ context.Context, a notification.Alert) ([]*notification.Notification, error) {
	m.alerts = append(m.alerts, a)
	return nil, m.err
}

func (m *mockAlerter) Summary(_ context.Context, a notification.Alert) (*notification.Notification, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.summaries = append(m.summaries, a)
	return &notification.Notification{ID: "n-" + a.AssessmentID, TemplateID: notification.TemplateAssessmentSummary}, nil
}

type assessmentCall struct {
	strategy, risk string
	score          float64
}

type mockRecorder struct {
	calls []assessmentCall
}

func (m *mockRecorder) RecordAssessment(strategy, risk string, score float64) {
	m.calls = append(m.calls, assessmentCall{strategy, risk, score})
}

type webhookCall struct {
	eventType  string
	resourceID string
	payload    json.RawMessage
}

type mockWebhooks struct {
	calls []webhookCall
}

func (m *mockWebhooks) Dispatch(_ context.Context, eventType, resourceID string, payload json.RawMessage) {
	m.calls = append(m.calls, webhookCall{eventType, resourceID, payload})
}

func newTestService(t *testing.T) (*Service, *mockRepo) {
	t.Helper()
	reg, err := triage.NewDefaultRegistry(triage.StrategyDetailed, nil, triage.FixedRandom(0))
	if err != nil {
		t.Fatalf("NewDefaultRegistry: %v", err)
	}
	repo := newMockRepo()
	return NewService(repo, reg, zerolog.Nop()), repo
}

func severeRequest() SubmitRequest {
	return SubmitRequest{
		Symptoms: []triage.Symptom{
			{Name: "fever", Severity: "severe", Duration: "2 months"},
			{Name: "cough", Severity: "moderate", Duration: "1 week"},
		},
		Age:    "34",
		Gender: "male",
	}
}

func TestService_SubmitDetailed(t *testing.T) {
	svc, repo := newTestService(t)
	pub := &mockPublisher{}
	alerter := &mockAlerter{}
	rec := &mockRecorder{}
	svc.SetPublisher(pub)
	svc.SetAlerter(alerter)
	svc.SetRecorder(rec)

	got, err := svc.Submit(context.Background(), "u1", severeRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// 3*2 + 2*1.5 = 9
	if got.Status != StatusCompleted || got.RiskLevel != triage.RiskHigh {
		t.Errorf("unexpected record: status=%s risk=%s", got.Status, got.RiskLevel)
	}
	if got.Strategy != triage.StrategyDetailed || got.Insight == nil || got.Insight.SeverityScore != 9 {
		t.Errorf("unexpected scoring: %+v", got.Insight)
	}
	if got.Severity != "severe" {
		t.Errorf("severity = %q, want the most severe symptom", got.Severity)
	}
	if len(got.PotentialConditions) == 0 || got.PotentialConditions[0] != "Flu" {
		t.Errorf("conditions = %v", got.PotentialConditions)
	}
	if len(got.Recommendations) == 0 || got.Recommendations[0] != "Seek immediate medical attention" {
		t.Errorf("recommendations = %v", got.Recommendations)
	}

	stored, err := repo.GetByID(context.Background(), "u1", got.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusCompleted || stored.Age != "34" {
		t.Errorf("stored record not completed: %+v", stored)
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if pub.events[0].Topic != "assessments:high" || pub.events[1].Topic != "user:u1" {
		t.Errorf("topics = %s, %s", pub.events[0].Topic, pub.events[1].Topic)
	}
	if pub.events[0].AssessmentID != got.ID.String() || pub.events[0].Type != EventAssessmentCompleted {
		t.Errorf("unexpected event: %+v", pub.events[0])
	}

	if len(alerter.alerts) != 1 || alerter.alerts[0].RiskLevel != "high" || alerter.alerts[0].UserID != "u1" {
		t.Errorf("alerts = %+v", alerter.alerts)
	}
	if len(rec.calls) != 1 || rec.calls[0] != (assessmentCall{"detailed", "high", 9}) {
		t.Errorf("recorder calls = %+v", rec.calls)
	}
}

func TestService_SubmitSimpleSkipsScoreMetric(t *testing.T) {
	svc, _ := newTestService(t)
	rec := &mockRecorder{}
	alerter := &mockAlerter{}
	svc.SetRecorder(rec)
	svc.SetAlerter(alerter)

	rating := 9.0
	got, err := svc.Submit(context.Background(), "u1", SubmitRequest{
		Symptoms:        []triage.Symptom{{Name: "headache"}},
		EmergencyRating: &rating,
		Strategy:        triage.StrategySimple,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Strategy != triage.StrategySimple || got.Insight != nil {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.RiskLevel != triage.RiskHigh || got.Recommendations[0] != "Seek immediate medical attention" {
		t.Errorf("unexpected assessment: %s %v", got.RiskLevel, got.Recommendations)
	}
	if len(rec.calls) != 1 || rec.calls[0].score != -1 {
		t.Errorf("recorder calls = %+v", rec.calls)
	}
	if len(alerter.alerts) != 1 {
		t.Errorf("expected alert for high risk, got %d", len(alerter.alerts))
	}
}

func TestService_AlertThreshold(t *testing.T) {
	svc, _ := newTestService(t)
	tests := []struct {
		threshold triage.RiskLevel
		level     triage.RiskLevel
		want      bool
	}{
		{triage.RiskHigh, triage.RiskHigh, true},
		{triage.RiskHigh, triage.RiskMedium, false},
		{triage.RiskMedium, triage.RiskHigh, true},
		{triage.RiskMedium, triage.RiskMedium, true},
		{triage.RiskLow, triage.RiskLow, true},
		{"", triage.RiskHigh, false},
		{"off", triage.RiskHigh, false},
	}
	for _, tt := range tests {
		svc.SetAlertThreshold(tt.threshold)
		if got := svc.ShouldAlert(tt.level); got != tt.want {
			t.Errorf("threshold %q level %q: got %v, want %v", tt.threshold, tt.level, got, tt.want)
		}
	}
}

func TestService_SubmitLowRiskNoAlert(t *testing.T) {
	svc, _ := newTestService(t)
	alerter := &mockAlerter{}
	svc.SetAlerter(alerter)

	got, err := svc.Submit(context.Background(), "u1", SubmitRequest{Symptoms: []triage.Symptom{{Name: "fatigue", Severity: "mild", Duration: "2 days"}}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.RiskLevel != triage.RiskLow {
		t.Errorf("risk = %s, want low", got.RiskLevel)
	}
	if len(alerter.alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerter.alerts))
	}
}

func TestService_SubmitSideEffectFailuresAreNotReturned(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SetPublisher(&mockPublisher{err: errors.New("hub closed")})
	svc.SetAlerter(&mockAlerter{err: errors.New("gateway down")})

	if _, err := svc.Submit(context.Background(), "u1", severeRequest()); err != nil {
		t.Fatalf("expected submission to succeed, got %v", err)
	}
}

func TestService_SubmitErrors(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "", severeRequest()); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}

	var ve *apperr.ValidationError
	if _, err := svc.Submit(ctx, "u1", SubmitRequest{Symptoms: []triage.Symptom{{Name: "  "}}}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for blank symptoms, got %v", err)
	}

	req := severeRequest()
	req.Strategy = "psychic"
	if _, err := svc.Submit(ctx, "u1", req); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for unknown strategy, got %v", err)
	} else if !strings.Contains(ve.Fields[0], "detailed, simple") {
		t.Errorf("unexpected message: %v", ve.Fields)
	}
	if repo.created != 0 {
		t.Errorf("nothing should be stored for invalid input, got %d", repo.created)
	}

	repo.completeErr = errors.New("connection reset")
	if _, err := svc.Submit(ctx, "u1", severeRequest()); err == nil {
		t.Error("expected completion failure to be returned")
	}
}

func TestService_Evaluate(t *testing.T) {
	svc, repo := newTestService(t)

	res, err := svc.Evaluate(severeRequest(), triage.StrategyDetailed)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Insight == nil || res.Insight.EstimatedConsultationTime != 40 {
		t.Errorf("unexpected insight: %+v", res.Insight)
	}
	if repo.created != 0 {
		t.Error("Evaluate must not store anything")
	}

	req := severeRequest()
	req.Strategy = triage.StrategySimple
	res, err = svc.Evaluate(req, "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Strategy != triage.StrategySimple {
		t.Errorf("strategy = %s, want simple from request", res.Strategy)
	}
}

func TestService_GetListDelete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Submit(ctx, "u1", severeRequest())
	b, _ := svc.Submit(ctx, "u1", SubmitRequest{Symptoms: []triage.Symptom{{Name: "headache", Severity: "mild"}}})
	_, _ = svc.Submit(ctx, "u2", severeRequest())

	if _, err := svc.Get(ctx, "u2", a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected other users' records to be hidden, got %v", err)
	}
	got, err := svc.Get(ctx, "u1", a.ID)
	if err != nil || got.ID != a.ID {
		t.Fatalf("Get: %v", err)
	}

	items, total, err := svc.List(ctx, "u1", ListQuery{Limit: 10, SortDesc: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || items[0].ID != b.ID {
		t.Errorf("expected newest first, got total=%d first=%s", total, items[0].ID)
	}

	items, _, _ = svc.List(ctx, "u1", ListQuery{Limit: 10, RiskLevel: "high"})
	if len(items) != 1 || items[0].ID != a.ID {
		t.Errorf("risk filter returned %d items", len(items))
	}

	items, _, _ = svc.List(ctx, "u1", ListQuery{Limit: 10, Search: "HEAD"})
	if len(items) != 1 || items[0].ID != b.ID {
		t.Errorf("search returned %d items", len(items))
	}

	if err := svc.Delete(ctx, "u2", a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting another user's record, got %v", err)
	}
	if err := svc.Delete(ctx, "u1", a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, "u1", a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected deleted record gone, got %v", err)
	}
}

func TestService_ListValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	var ve *apperr.ValidationError
	for name, q := range map[string]ListQuery{
		"risk":     {RiskLevel: "extreme"},
		"severity": {Severity: "awful"},
		"range":    {From: &from, To: &to},
	} {
		if _, _, err := svc.List(ctx, "u1", q); !errors.As(err, &ve) {
			t.Errorf("%s: expected ValidationError, got %v", name, err)
		}
	}
	if _, _, err := svc.List(ctx, "", ListQuery{}); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestService_WebhooksOnSubmitAndDelete(t *testing.T) {
	svc, _ := newTestService(t)
	hooks := &mockWebhooks{}
	svc.SetWebhooks(hooks)

	got, err := svc.Submit(context.Background(), "u1", severeRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(hooks.calls) != 1 {
		t.Fatalf("expected one webhook dispatch without a publisher, got %d", len(hooks.calls))
	}
	call := hooks.calls[0]
	if call.eventType != EventAssessmentCompleted || call.resourceID != got.ID.String() {
		t.Errorf("unexpected dispatch: %+v", call)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(call.payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body["riskLevel"] != "high" || body["userId"] != "u1" {
		t.Errorf("unexpected payload: %v", body)
	}

	if err := svc.Delete(context.Background(), "u1", got.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(hooks.calls) != 2 || hooks.calls[1].eventType != EventAssessmentDeleted {
		t.Errorf("expected a deleted event, got %+v", hooks.calls)
	}

	if err := svc.Delete(context.Background(), "u1", got.ID); err == nil {
		t.Error("expected second delete to fail")
	}
	if len(hooks.calls) != 2 {
		t.Errorf("failed delete must not dispatch, got %d calls", len(hooks.calls))
	}
}

func TestService_SendSummary(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	got, err := svc.Submit(ctx, "u1", severeRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := svc.SendSummary(ctx, "u1", got.ID); err == nil {
		t.Error("expected an error without an alerter")
	}

	alerter := &mockAlerter{}
	svc.SetAlerter(alerter)
	n, err := svc.SendSummary(ctx, "u1", got.ID)
	if err != nil {
		t.Fatalf("SendSummary: %v", err)
	}
	if n.TemplateID != notification.TemplateAssessmentSummary || len(alerter.summaries) != 1 {
		t.Errorf("unexpected summary: %+v", n)
	}
	if alerter.summaries[0].RiskLevel != string(triage.RiskHigh) {
		t.Errorf("risk level = %q", alerter.summaries[0].RiskLevel)
	}

	if _, err := svc.SendSummary(ctx, "u2", got.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for another user, got %v", err)
	}

	pending := &AssessmentRecord{ID: uuid.New(), UserID: "u1", Status: StatusPending}
	repo.records[pending.ID] = pending
	if _, err := svc.SendSummary(ctx, "u1", pending.ID); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("expected invalid input for a pending record, got %v", err)
	}

	svc.SetAlerter(&mockAlerter{err: notification.ErrNoContact})
	var ve *apperr.ValidationError
	if _, err := svc.SendSummary(ctx, "u1", got.ID); !errors.As(err, &ve) {
		t.Errorf("expected validation error without contact, got %v", err)
	}
}
