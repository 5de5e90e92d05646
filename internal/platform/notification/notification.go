// Package notification delivers risk alerts and assessment summaries by SMS
// and email, keeping an in-memory record of every attempt so clinicians can
// inspect and retry failed deliveries.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Channel is the medium used to deliver a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Delivery states.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Notification is a single outbound message.
type Notification struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	UserID       string            `json:"user_id,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Priority     string            `json:"priority"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

const (
	TemplateHighRiskSMS       = "high-risk-sms"
	TemplateHighRiskEmail     = "high-risk-email"
	TemplateAssessmentSummary = "assessment-summary-email"
)

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range builtInTemplates {
		e.templates[t.ID] = t
	}
	return e
}

var builtInTemplates = []Template{
	{
		ID:      TemplateHighRiskSMS,
		Name:    "High Risk Alert (SMS)",
		Body:    "GrahmeenHealth: {{name}}, your symptom check was rated {{risk_level}} risk. {{first_recommendation}}. Ref {{assessment_id}}",
		Channel: ChannelSMS,
	},
	{
		ID:      TemplateHighRiskEmail,
		Name:    "High Risk Alert (Email)",
		Subject: "Urgent: your symptom assessment needs attention",
		Body: "Dear {{name}},\n\nYour symptom assessment on {{date}} was rated {{risk_level}} risk.\n" +
			"Possible conditions: {{conditions}}.\n\nWhat to do now:\n{{recommendations}}\n\n" +
			"This is not a diagnosis. Reference: {{assessment_id}}",
		Channel: ChannelEmail,
	},
	{
		ID:      TemplateAssessmentSummary,
		Name:    "Assessment Summary",
		Subject: "Your symptom assessment summary",
		Body: "Dear {{name}},\n\nRisk level: {{risk_level}}\nPossible conditions: {{conditions}}\n\n" +
			"Recommendations:\n{{recommendations}}\n\nReference: {{assessment_id}}",
		Channel: ChannelEmail,
	},
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Lookup returns a template by ID.
func (e *TemplateEngine) Lookup(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// Render performs {{key}} replacement. Placeholders without data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	t, ok := e.Lookup(templateID)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
