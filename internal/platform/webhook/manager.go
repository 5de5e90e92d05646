package webhook

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/grahmeen/health/internal/platform/apperr"
)

// EventTest is sent by TestEndpoint.
const EventTest = "webhook.test"

// DeliveryRecorder observes every delivery attempt.
type DeliveryRecorder interface {
	RecordAlert(channel, status string)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// WithRetryDelays sets the wait before each retry of an asynchronous
// delivery. The number of delays is the number of retries.
func WithRetryDelays(delays ...time.Duration) ManagerOption {
	return func(m *Manager) { m.retryDelays = delays }
}

// WithRecorder attaches a delivery observer.
func WithRecorder(r DeliveryRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// Manager registers endpoints and delivers events to them.
type Manager struct {
	store       Store
	httpClient  *http.Client
	retryDelays []time.Duration
	recorder    DeliveryRecorder
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(store Store, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:       store,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 30 * time.Second, 5 * time.Minute},
		logger:      logger.With().Str("component", "webhook").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// EndpointInput registers an endpoint. An empty secret is generated; empty
// events subscribe to everything.
type EndpointInput struct {
	URL       string   `json:"url"`
	Secret    string   `json:"secret"`
	Events    []string `json:"events"`
	CreatedBy string   `json:"-"`
}

// UpdateInput changes an endpoint. Zero fields are left alone.
type UpdateInput struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Status string   `json:"status"`
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return apperr.Validation("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return apperr.Validation("url is invalid")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return apperr.Validation(fmt.Sprintf("url scheme must be http or https, got %q", u.Scheme))
	}
	return nil
}

func (m *Manager) RegisterEndpoint(ctx context.Context, in EndpointInput) (*Endpoint, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	secret := in.Secret
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}
	events := in.Events
	if len(events) == 0 {
		events = []string{"*"}
	}

	ep := &Endpoint{
		ID:        uuid.New().String(),
		URL:       in.URL,
		Secret:    secret,
		Events:    events,
		Status:    StatusActive,
		CreatedBy: in.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	m.logger.Info().Str("webhook_id", ep.ID).Str("url", ep.URL).Strs("events", ep.Events).Msg("webhook registered")
	return ep, nil
}

func (m *Manager) UpdateEndpoint(ctx context.Context, id string, in UpdateInput) (*Endpoint, error) {
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.URL != "" {
		if err := validateURL(in.URL); err != nil {
			return nil, err
		}
		ep.URL = in.URL
	}
	if len(in.Events) > 0 {
		ep.Events = in.Events
	}
	switch in.Status {
	case "":
	case StatusActive, StatusPaused:
		ep.Status = in.Status
	default:
		return nil, apperr.Validation("status must be active or paused")
	}
	if err := m.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (m *Manager) PauseEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	return m.UpdateEndpoint(ctx, id, UpdateInput{Status: StatusPaused})
}

func (m *Manager) ResumeEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	return m.UpdateEndpoint(ctx, id, UpdateInput{Status: StatusActive})
}

func (m *Manager) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	return m.store.GetEndpoint(ctx, id)
}

func (m *Manager) ListEndpoints(ctx context.Context, limit, offset int) ([]*Endpoint, int, error) {
	return m.store.ListEndpoints(ctx, limit, offset)
}

func (m *Manager) DeleteEndpoint(ctx context.Context, id string) error {
	return m.store.DeleteEndpoint(ctx, id)
}

func (m *Manager) DeliveryLogs(ctx context.Context, webhookID string, limit, offset int) ([]*DeliveryAttempt, int, error) {
	if _, err := m.store.GetEndpoint(ctx, webhookID); err != nil {
		return nil, 0, err
	}
	return m.store.ListDeliveries(ctx, webhookID, limit, offset)
}

// subscribers returns the active endpoints subscribed to eventType.
func (m *Manager) subscribers(ctx context.Context, eventType string) ([]*Endpoint, error) {
	endpoints, _, err := m.store.ListEndpoints(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	out := endpoints[:0]
	for _, ep := range endpoints {
		if ep.Status == StatusActive && ep.subscribes(eventType) {
			out = append(out, ep)
		}
	}
	return out, nil
}

// Deliver sends event once to every subscribed endpoint and waits for the
// results.
func (m *Manager) Deliver(ctx context.Context, event Event) []DeliveryResult {
	endpoints, err := m.subscribers(ctx, event.Type)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list webhook endpoints")
		return nil
	}

	results := make([]DeliveryResult, 0, len(endpoints))
	for _, ep := range endpoints {
		attempt := m.DeliverToEndpoint(ctx, ep, event, 1)
		results = append(results, DeliveryResult{
			EndpointID: ep.ID,
			Success:    attempt.Status == DeliverySuccess,
			StatusCode: attempt.StatusCode,
			Error:      attempt.Error,
		})
	}
	return results
}

// Dispatch queues an event for every subscribed endpoint and returns
// immediately. Failed deliveries are retried after each configured delay
// until Close is called.
func (m *Manager) Dispatch(_ context.Context, eventType, resourceID string, payload json.RawMessage) {
	event := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		ResourceID: resourceID,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}

	endpoints, err := m.subscribers(m.ctx, eventType)
	if err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to list webhook endpoints")
		return
	}
	for _, ep := range endpoints {
		m.wg.Add(1)
		go func(ep *Endpoint) {
			defer m.wg.Done()
			m.deliverWithRetry(ep, event)
		}(ep)
	}
}

func (m *Manager) deliverWithRetry(ep *Endpoint, event Event) {
	for n := 1; ; n++ {
		attempt := m.DeliverToEndpoint(m.ctx, ep, event, n)
		if attempt.Status == DeliverySuccess || n > len(m.retryDelays) {
			if attempt.Status != DeliverySuccess {
				m.logger.Warn().Str("webhook_id", ep.ID).Str("event_id", event.ID).Int("attempts", n).
					Str("error", attempt.Error).Msg("webhook delivery gave up")
			}
			return
		}
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.retryDelays[n-1]):
		}
	}
}

// DeliverToEndpoint signs the event and POSTs it, recording the attempt.
func (m *Manager) DeliverToEndpoint(ctx context.Context, ep *Endpoint, event Event, attemptNo int) *DeliveryAttempt {
	payload, _ := json.Marshal(event)
	sig := SignPayload(payload, ep.Secret)
	now := time.Now().UTC()

	attempt := &DeliveryAttempt{
		ID:        uuid.New().String(),
		WebhookID: ep.ID,
		EventType: event.Type,
		EventID:   event.ID,
		Payload:   payload,
		Signature: sig,
		Attempt:   attemptNo,
		CreatedAt: now,
	}
	defer m.record(ctx, attempt)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Status = DeliveryFailed
		attempt.Error = err.Error()
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	req.Header.Set("X-Webhook-ID", ep.ID)
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-Timestamp", now.Format(time.RFC3339))

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Status = DeliveryFailed
		attempt.Error = err.Error()
		return attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode
	// at most 1KB of the response is kept
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt.ResponseBody = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = DeliverySuccess
	} else {
		attempt.Status = DeliveryFailed
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return attempt
}

func (m *Manager) record(ctx context.Context, attempt *DeliveryAttempt) {
	if err := m.store.RecordDelivery(context.WithoutCancel(ctx), attempt); err != nil {
		m.logger.Error().Err(err).Str("delivery_id", attempt.ID).Msg("failed to record webhook delivery")
	}
	if m.recorder != nil {
		m.recorder.RecordAlert("webhook", attempt.Status)
	}
}

// RetryDelivery re-sends the event of a previous attempt.
func (m *Manager) RetryDelivery(ctx context.Context, deliveryID string) (*DeliveryAttempt, error) {
	original, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	ep, err := m.store.GetEndpoint(ctx, original.WebhookID)
	if err != nil {
		return nil, err
	}

	var event Event
	if err := json.Unmarshal(original.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode original payload: %w", err)
	}
	return m.DeliverToEndpoint(ctx, ep, event, original.Attempt+1), nil
}

// TestEndpoint sends a synthetic event regardless of the endpoint's
// subscriptions or status.
func (m *Manager) TestEndpoint(ctx context.Context, id string) (*DeliveryAttempt, error) {
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	event := Event{
		ID:         uuid.New().String(),
		Type:       EventTest,
		ResourceID: ep.ID,
		Payload:    json.RawMessage(`{"test":true}`),
		Timestamp:  time.Now().UTC(),
	}
	return m.DeliverToEndpoint(ctx, ep, event, 1), nil
}

// Wait blocks until every dispatched delivery has finished, retries included.
func (m *Manager) Wait() { m.wg.Wait() }

// Close cancels pending retries and waits for in-flight deliveries.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
