package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Contact is how a patient can be reached.
type Contact struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

// ContactLookup resolves a user's contact details.
type ContactLookup interface {
	Contact(ctx context.Context, userID string) (Contact, error)
}

// Alert describes a completed assessment that should reach the patient.
type Alert struct {
	AssessmentID    string
	UserID          string
	RiskLevel       string
	Conditions      []string
	Recommendations []string
	CreatedAt       time.Time
}

func (a Alert) templateData(name string) map[string]string {
	first := ""
	if len(a.Recommendations) > 0 {
		first = a.Recommendations[0]
	}
	conditions := "none identified"
	if len(a.Conditions) > 0 {
		conditions = strings.Join(a.Conditions, ", ")
	}
	var recs strings.Builder
	for _, r := range a.Recommendations {
		recs.WriteString("- ")
		recs.WriteString(r)
		recs.WriteString("\n")
	}
	if name == "" {
		name = "patient"
	}
	return map[string]string{
		"name":                 name,
		"assessment_id":        a.AssessmentID,
		"risk_level":           a.RiskLevel,
		"conditions":           conditions,
		"recommendations":      strings.TrimRight(recs.String(), "\n"),
		"first_recommendation": first,
		"date":                 a.CreatedAt.UTC().Format("2006-01-02 15:04 MST"),
	}
}

// Alerter turns assessment alerts into notifications on every channel the
// patient has on file.
type Alerter struct {
	contacts ContactLookup
	manager  *Manager
}

func NewAlerter(contacts ContactLookup, manager *Manager) *Alerter {
	return &Alerter{contacts: contacts, manager: manager}
}

// ErrNoContact is returned when the user has neither a phone nor an email.
var ErrNoContact = errors.New("no contact details on file")

// Notify sends the high-risk SMS when a phone number is known and the
// high-risk email when an email address is known. Delivery failures on one
// channel do not stop the other.
func (a *Alerter) Notify(ctx context.Context, alert Alert) ([]*Notification, error) {
	c, err := a.contacts.Contact(ctx, alert.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup contact: %w", err)
	}
	if c.Phone == "" && c.Email == "" {
		return nil, ErrNoContact
	}

	data := alert.templateData(c.Name)
	var (
		sent []*Notification
		errs []error
	)
	send := func(templateID, recipient string) {
		n, err := a.manager.sendTemplate(ctx, templateID, data, recipient, alert.UserID)
		if n != nil {
			sent = append(sent, n)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", templateID, err))
		}
	}
	if c.Phone != "" {
		send(TemplateHighRiskSMS, c.Phone)
	}
	if c.Email != "" {
		send(TemplateHighRiskEmail, c.Email)
	}
	return sent, errors.Join(errs...)
}

// Summary emails the full assessment summary.
func (a *Alerter) Summary(ctx context.Context, alert Alert) (*Notification, error) {
	c, err := a.contacts.Contact(ctx, alert.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup contact: %w", err)
	}
	if c.Email == "" {
		return nil, ErrNoContact
	}
	return a.manager.sendTemplate(ctx, TemplateAssessmentSummary, alert.templateData(c.Name), c.Email, alert.UserID)
}
