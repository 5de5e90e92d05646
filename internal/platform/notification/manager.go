package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grahmeen/health/internal/platform/apperr"
)

// DeliveryRecorder observes every delivery attempt.
type DeliveryRecorder interface {
	RecordAlert(channel, status string)
}

// Manager sends notifications and keeps them in memory.
type Manager struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	recorder  DeliveryRecorder

	mu            sync.RWMutex
	notifications map[string]*Notification
	now           func() time.Time
}

func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{
		email:         email,
		sms:           sms,
		templates:     tpl,
		notifications: make(map[string]*Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithRecorder attaches a delivery observer and returns m.
func (m *Manager) WithRecorder(r DeliveryRecorder) *Manager {
	m.recorder = r
	return m
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	switch n.Channel {
	case ChannelEmail:
		if m.email == nil {
			return fmt.Errorf("no email sender configured")
		}
		return m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelSMS:
		if m.sms == nil {
			return fmt.Errorf("no sms sender configured")
		}
		return m.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		return fmt.Errorf("unsupported channel: %s", n.Channel)
	}
}

// attempt delivers n and updates its state under the lock.
func (m *Manager) attempt(ctx context.Context, n *Notification) error {
	err := m.deliver(ctx, n)

	m.mu.Lock()
	n.Attempts++
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	} else {
		n.Status = StatusSent
		n.Error = ""
		sentAt := m.now()
		n.SentAt = &sentAt
	}
	status := n.Status
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordAlert(string(n.Channel), status)
	}
	return err
}

// Send assigns an ID, stores n and dispatches it. The notification is stored
// even when delivery fails so it can be retried.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return apperr.Validation("recipient is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = "normal"
	}
	n.CreatedAt = m.now()
	n.Status = StatusPending

	m.mu.Lock()
	m.notifications[n.ID] = n
	m.mu.Unlock()

	return m.attempt(ctx, n)
}

// SendFromTemplate renders a template and sends the result on the template's channel.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	return m.sendTemplate(ctx, templateID, data, recipient, "")
}

func (m *Manager) sendTemplate(ctx context.Context, templateID string, data map[string]string, recipient, userID string) (*Notification, error) {
	tpl, ok := m.templates.Lookup(templateID)
	if !ok {
		return nil, fmt.Errorf("template %q: %w", templateID, apperr.ErrNotFound)
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		Channel:      tpl.Channel,
		Recipient:    recipient,
		UserID:       userID,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	return n, m.Send(ctx, n)
}

// Get returns a copy of a stored notification.
func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %w", apperr.ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

// ListByRecipient returns up to limit notifications for a recipient, newest first.
func (m *Manager) ListByRecipient(_ context.Context, recipient string, limit int) []*Notification {
	m.mu.RLock()
	var out []*Notification
	for _, n := range m.notifications {
		if n.Recipient == recipient || n.UserID == recipient {
			cp := *n
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	n, ok := m.notifications[id]
	var status string
	if ok {
		status = n.Status
	}
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notification %w", apperr.ErrNotFound)
	}
	if status != StatusFailed {
		return nil, fmt.Errorf("notification is %s, only failed notifications can be retried: %w", status, apperr.ErrConflict)
	}

	err := m.attempt(ctx, n)
	got, _ := m.Get(ctx, id)
	return got, err
}

// Stats returns counts grouped by status.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]int{StatusSent: 0, StatusFailed: 0}
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}
