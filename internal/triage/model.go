// Package triage implements the symptom-based clinical triage heuristics used
// by the early detection feature. The scoring is an explicit rule table, not a
// medical inference: results are a priority proxy for clinicians.
package triage

import "strings"

// Severity is the intensity a patient reports for a symptom.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// ParseSeverity normalises free text into a Severity. Unrecognised values
// degrade to mild.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeveritySevere:
		return SeveritySevere
	case SeverityModerate:
		return SeverityModerate
	default:
		return SeverityMild
	}
}

// ADRSeverity grades a possible adverse drug reaction.
type ADRSeverity string

const (
	ADRLow      ADRSeverity = "low"
	ADRModerate ADRSeverity = "moderate"
	ADRHigh     ADRSeverity = "high"
)

// RiskLevel is the coarse outcome stored on an assessment.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders risk levels so thresholds can be compared.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	}
	return 0
}

// IsValid reports whether r is one of the known levels.
func (r RiskLevel) IsValid() bool {
	return r.Rank() > 0
}

// Symptom is a single reported symptom.
type Symptom struct {
	Name     string `json:"name" yaml:"name"`
	Severity string `json:"severity" yaml:"severity"`
	Duration string `json:"duration" yaml:"duration"`
}

// key is the lookup key into the rule tables.
func (s Symptom) key() string {
	return normalizeKey(s.Name)
}

// ConditionCandidate is a possible condition with a heuristic probability.
type ConditionCandidate struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
}

// AdverseReactionFlag marks a drug reaction that may explain a symptom.
type AdverseReactionFlag struct {
	Drug     string      `json:"drug"`
	Reaction string      `json:"reaction"`
	Severity ADRSeverity `json:"severity"`
}

// ImpactFactors are secondary scores derived from an assessment.
type ImpactFactors struct {
	Urgency        float64 `json:"urgency"`
	Complexity     float64 `json:"complexity"`
	ChronicityRisk float64 `json:"chronicityRisk"`
}

// Insight is the output of the detailed scorer.
type Insight struct {
	PredictedDiseases         []ConditionCandidate  `json:"predictedDiseases"`
	PossibleADRs              []AdverseReactionFlag `json:"possibleADRs"`
	EstimatedConsultationTime int                   `json:"estimatedConsultationTime"`
	SeverityScore             float64               `json:"severityScore"`
	ImpactFactors             ImpactFactors         `json:"impactFactors"`
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
