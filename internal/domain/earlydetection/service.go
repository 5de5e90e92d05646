package earlydetection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/grahmeen/health/internal/platform/apperr"
	"github.com/grahmeen/health/internal/platform/notification"
	"github.com/grahmeen/health/internal/platform/websocket"
	"github.com/grahmeen/health/internal/triage"
)

const (
	// EventAssessmentCompleted is published once scoring finishes.
	EventAssessmentCompleted = "assessment.completed"
	EventAssessmentDeleted   = "assessment.deleted"
)

type Publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

type Alerter interface {
	Notify(ctx context.Context, alert notification.Alert) ([]*notification.Notification, error)
	Summary(ctx context.Context, alert notification.Alert) (*notification.Notification, error)
}

// Webhooks forwards events to external subscribers without blocking.
type Webhooks interface {
	Dispatch(ctx context.Context, eventType, resourceID string, payload json.RawMessage)
}

type Recorder interface {
	RecordAssessment(strategy, riskLevel string, score float64)
}

type Service struct {
	repo       Repository
	strategies *triage.Registry
	logger     zerolog.Logger

	publisher Publisher
	alerter   Alerter
	recorder  Recorder
	webhooks  Webhooks
	alertMin  triage.RiskLevel
}

func NewService(repo Repository, strategies *triage.Registry, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		strategies: strategies,
		logger:     logger.With().Str("component", "earlydetection").Logger(),
		alertMin:   triage.RiskHigh,
	}
}

func (s *Service) SetPublisher(p Publisher) { s.publisher = p }
func (s *Service) SetAlerter(a Alerter)     { s.alerter = a }
func (s *Service) SetRecorder(r Recorder)   { s.recorder = r }
func (s *Service) SetWebhooks(w Webhooks)   { s.webhooks = w }

// SetAlertThreshold sets the lowest risk level that triggers an alert. An
// empty or unknown level disables alerts.
func (s *Service) SetAlertThreshold(level triage.RiskLevel) { s.alertMin = level }

// Strategies lists the registered strategy names and the default.
func (s *Service) Strategies() (names []string, def string) {
	return s.strategies.Names(), s.strategies.Default()
}

func (s *Service) strategy(name string) (triage.Strategy, error) {
	st, ok := s.strategies.Get(name)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("strategy must be one of %s", strings.Join(s.strategies.Names(), ", ")))
	}
	return st, nil
}

// Evaluate scores a request without storing it. A non-empty strategy
// overrides the one named in the request.
func (s *Service) Evaluate(req SubmitRequest, strategy string) (triage.Assessment, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return triage.Assessment{}, err
	}
	if strategy == "" {
		strategy = req.Strategy
	}
	st, err := s.strategy(strategy)
	if err != nil {
		return triage.Assessment{}, err
	}
	return st.Assess(req.TriageRequest()), nil
}

// Submit stores a pending assessment, scores it and completes it. Realtime
// and alert delivery failures are logged and do not fail the submission.
func (s *Service) Submit(ctx context.Context, userID string, req SubmitRequest) (*AssessmentRecord, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	st, err := s.strategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	treq := req.TriageRequest()

	rec := &AssessmentRecord{
		UserID:         userID,
		Symptoms:       req.Symptoms,
		Severity:       string(treq.OverallSeverity()),
		Age:            req.Age,
		Gender:         req.Gender,
		MedicalHistory: req.MedicalHistory,
		FamilyHistory:  req.FamilyHistory,
		Lifestyle:      req.Lifestyle,
		Strategy:       st.Name(),
		Status:         StatusPending,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create assessment: %w", err)
	}

	result := st.Assess(treq)
	rec.RiskLevel = result.RiskLevel
	rec.PotentialConditions = result.PotentialConditions
	rec.Recommendations = result.Recommendations
	rec.Insight = result.Insight
	if err := s.repo.Complete(ctx, rec); err != nil {
		return nil, fmt.Errorf("complete assessment %s: %w", rec.ID, err)
	}

	s.logger.Info().
		Str("assessment_id", rec.ID.String()).
		Str("user_id", userID).
		Str("strategy", rec.Strategy).
		Str("risk_level", string(rec.RiskLevel)).
		Int("symptoms", len(rec.Symptoms)).
		Msg("assessment completed")

	s.record(rec)
	s.publish(ctx, rec)
	s.alert(ctx, rec)
	return rec, nil
}

func (s *Service) record(rec *AssessmentRecord) {
	if s.recorder == nil {
		return
	}
	score := -1.0
	if rec.Insight != nil {
		score = rec.Insight.SeverityScore
	}
	s.recorder.RecordAssessment(rec.Strategy, string(rec.RiskLevel), score)
}

type completedEvent struct {
	UserID              string           `json:"userId"`
	RiskLevel           triage.RiskLevel `json:"riskLevel"`
	PotentialConditions []string         `json:"potentialConditions"`
	Strategy            string           `json:"strategy"`
}

func (s *Service) publish(ctx context.Context, rec *AssessmentRecord) {
	if s.publisher == nil && s.webhooks == nil {
		return
	}
	data, err := json.Marshal(completedEvent{
		UserID:              rec.UserID,
		RiskLevel:           rec.RiskLevel,
		PotentialConditions: rec.PotentialConditions,
		Strategy:            rec.Strategy,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode assessment event")
		return
	}
	if s.webhooks != nil {
		s.webhooks.Dispatch(ctx, EventAssessmentCompleted, rec.ID.String(), data)
	}
	if s.publisher == nil {
		return
	}
	for _, topic := range []string{websocket.RiskTopic(string(rec.RiskLevel)), websocket.UserTopic(rec.UserID)} {
		ev := websocket.Event{
			Type:         EventAssessmentCompleted,
			Topic:        topic,
			AssessmentID: rec.ID.String(),
			Timestamp:    rec.UpdatedAt,
			Data:         data,
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Str("assessment_id", rec.ID.String()).Msg("failed to publish assessment event")
		}
	}
}

// ShouldAlert reports whether level meets the configured threshold.
func (s *Service) ShouldAlert(level triage.RiskLevel) bool {
	return s.alertMin.IsValid() && level.Rank() >= s.alertMin.Rank()
}

func (s *Service) alert(ctx context.Context, rec *AssessmentRecord) {
	if s.alerter == nil || !s.ShouldAlert(rec.RiskLevel) {
		return
	}
	sent, err := s.alerter.Notify(ctx, alertFor(rec))
	if err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", rec.ID.String()).Str("user_id", rec.UserID).Msg("risk alert not fully delivered")
		return
	}
	s.logger.Info().Str("assessment_id", rec.ID.String()).Int("notifications", len(sent)).Msg("risk alert sent")
}

func alertFor(rec *AssessmentRecord) notification.Alert {
	return notification.Alert{
		AssessmentID:    rec.ID.String(),
		UserID:          rec.UserID,
		RiskLevel:       string(rec.RiskLevel),
		Conditions:      rec.PotentialConditions,
		Recommendations: rec.Recommendations,
		CreatedAt:       rec.CreatedAt,
	}
}

// SendSummary emails the record's owner a summary of a completed assessment.
func (s *Service) SendSummary(ctx context.Context, userID string, id uuid.UUID) (*notification.Notification, error) {
	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusCompleted {
		return nil, fmt.Errorf("assessment is still pending: %w", apperr.ErrInvalidInput)
	}
	if s.alerter == nil {
		return nil, errors.New("summary delivery is not configured")
	}
	n, err := s.alerter.Summary(ctx, alertFor(rec))
	if errors.Is(err, notification.ErrNoContact) {
		return nil, apperr.Validation("no email address on file for this user")
	}
	if err != nil {
		return nil, fmt.Errorf("send summary: %w", err)
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, userID string, id uuid.UUID) (*AssessmentRecord, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	return s.repo.GetByID(ctx, userID, id)
}

func (s *Service) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if userID == "" {
		return apperr.ErrUnauthenticated
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	if s.webhooks != nil {
		data, _ := json.Marshal(map[string]string{"userId": userID})
		s.webhooks.Dispatch(ctx, EventAssessmentDeleted, id.String(), data)
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID string, q ListQuery) ([]*AssessmentRecord, int, error) {
	if userID == "" {
		return nil, 0, apperr.ErrUnauthenticated
	}
	if q.RiskLevel != "" && !triage.RiskLevel(q.RiskLevel).IsValid() {
		return nil, 0, apperr.Validation("risk_level must be low, medium or high")
	}
	if q.Severity != "" && string(triage.ParseSeverity(q.Severity)) != q.Severity {
		return nil, 0, apperr.Validation("severity must be mild, moderate or severe")
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, 0, apperr.Validation("to must not be before from")
	}
	return s.repo.List(ctx, userID, q)
}
