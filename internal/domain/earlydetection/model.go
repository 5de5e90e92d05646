// Package earlydetection stores symptom assessments and runs them through the
// triage engine.
package earlydetection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grahmeen/health/internal/platform/apperr"
	"github.com/grahmeen/health/internal/triage"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

type AssessmentRecord struct {
	ID                  uuid.UUID        `json:"id"`
	UserID              string           `json:"user_id"`
	Symptoms            []triage.Symptom `json:"symptoms"`
	Severity            string           `json:"severity"`
	Age                 string           `json:"age,omitempty"`
	Gender              string           `json:"gender,omitempty"`
	MedicalHistory      string           `json:"medical_history,omitempty"`
	FamilyHistory       string           `json:"family_history,omitempty"`
	Lifestyle           string           `json:"lifestyle,omitempty"`
	Strategy            string           `json:"strategy"`
	Status              string           `json:"status"`
	RiskLevel           triage.RiskLevel `json:"risk_level,omitempty"`
	PotentialConditions []string         `json:"potential_conditions"`
	Recommendations     []string         `json:"recommendations"`
	Insight             *triage.Insight  `json:"insight,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// SubmitRequest is a symptom check as sent by a client. Symptoms may be
// objects or bare names; bare names and objects without a severity or
// duration inherit the top-level values.
type SubmitRequest struct {
	Symptoms        []triage.Symptom
	Severity        string
	Duration        string
	Age             string
	Gender          string
	MedicalHistory  string
	FamilyHistory   string
	Lifestyle       string
	EmergencyRating *float64
	Strategy        string
}

type submitWire struct {
	Symptoms        json.RawMessage `json:"symptoms"`
	Severity        string          `json:"severity"`
	Duration        string          `json:"duration"`
	Age             json.RawMessage `json:"age"`
	Gender          string          `json:"gender"`
	MedicalHistory  string          `json:"medical_history"`
	MedicalHistoryC string          `json:"medicalHistory"`
	FamilyHistory   string          `json:"family_history"`
	FamilyHistoryC  string          `json:"familyHistory"`
	Lifestyle       string          `json:"lifestyle"`
	EmergencyRating *float64        `json:"emergency_rating"`
	EmergencyC      *float64        `json:"emergencyRating"`
	Strategy        string          `json:"strategy"`
}

func (r *SubmitRequest) UnmarshalJSON(data []byte) error {
	var w submitWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	age, err := flexibleString(w.Age)
	if err != nil {
		return fmt.Errorf("age: %w", err)
	}
	*r = SubmitRequest{
		Severity:        strings.TrimSpace(w.Severity),
		Duration:        strings.TrimSpace(w.Duration),
		Age:             age,
		Gender:          strings.TrimSpace(w.Gender),
		MedicalHistory:  firstNonEmpty(w.MedicalHistory, w.MedicalHistoryC),
		FamilyHistory:   firstNonEmpty(w.FamilyHistory, w.FamilyHistoryC),
		Lifestyle:       w.Lifestyle,
		EmergencyRating: w.EmergencyRating,
		Strategy:        strings.ToLower(strings.TrimSpace(w.Strategy)),
	}
	if r.EmergencyRating == nil {
		r.EmergencyRating = w.EmergencyC
	}

	r.Symptoms, err = decodeSymptoms(w.Symptoms)
	if err != nil {
		return fmt.Errorf("symptoms: %w", err)
	}
	return nil
}

// decodeSymptoms accepts an array of objects, an array of strings, a mix of
// both, or a single comma separated string.
func decodeSymptoms(raw json.RawMessage) ([]triage.Symptom, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		var out []triage.Symptom
		for _, name := range strings.Split(s, ",") {
			out = append(out, triage.Symptom{Name: name})
		}
		return out, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]triage.Symptom, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var name string
			if err := json.Unmarshal(item, &name); err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, triage.Symptom{Name: name})
			continue
		}
		var s triage.Symptom
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func flexibleString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return strings.TrimSpace(s), err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Normalize trims every symptom, drops unnamed ones and fills in the
// inherited severity and duration.
func (r *SubmitRequest) Normalize() {
	out := r.Symptoms[:0]
	for _, s := range r.Symptoms {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			continue
		}
		s.Severity = strings.TrimSpace(s.Severity)
		s.Duration = strings.TrimSpace(s.Duration)
		if s.Severity == "" {
			s.Severity = r.Severity
		}
		if s.Duration == "" {
			s.Duration = r.Duration
		}
		out = append(out, s)
	}
	r.Symptoms = out
}

// Validate reports every problem with the request.
func (r *SubmitRequest) Validate() error {
	ve := &apperr.ValidationError{}
	if len(r.Symptoms) == 0 {
		ve.Add("at least one symptom is required")
	}
	if r.EmergencyRating != nil && (*r.EmergencyRating < 0 || *r.EmergencyRating > 10) {
		ve.Add("emergency_rating must be between 0 and 10")
	}
	return ve.OrNil()
}

// TriageRequest converts the submission into the engine's input.
func (r *SubmitRequest) TriageRequest() triage.Request {
	return triage.Request{
		Symptoms:        r.Symptoms,
		Severity:        r.Severity,
		EmergencyRating: r.EmergencyRating,
	}
}

// Sortable columns.
const (
	SortCreatedAt = "created_at"
	SortRiskLevel = "risk_level"
	SortSeverity  = "severity"
)

var SortFields = []string{SortCreatedAt, SortRiskLevel, SortSeverity}

// ListQuery filters and pages a user's assessments.
type ListQuery struct {
	Limit     int
	Offset    int
	SortBy    string
	SortDesc  bool
	Search    string
	RiskLevel string
	Severity  string
	From      *time.Time
	To        *time.Time
}
