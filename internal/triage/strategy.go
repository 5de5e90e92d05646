package triage

import (
	"fmt"
	"sort"
)

const (
	StrategyDetailed = "detailed"
	StrategySimple   = "simple"
)

const (
	highRiskScore   = 7.0
	mediumRiskScore = 4.0
)

// Request is the normalised input shared by every strategy.
type Request struct {
	Symptoms []Symptom
	// Severity is the overall severity the patient reported, if any.
	Severity string
	// EmergencyRating is an optional 0-10 rating from the caller.
	EmergencyRating *float64
}

// OverallSeverity returns the explicit overall severity, or the most severe
// symptom when none was given.
func (r Request) OverallSeverity() Severity {
	if r.Severity != "" {
		return ParseSeverity(r.Severity)
	}
	worst := SeverityMild
	for _, s := range r.Symptoms {
		if SeverityMultiplier(s.Severity) > SeverityMultiplier(string(worst)) {
			worst = ParseSeverity(s.Severity)
		}
	}
	return worst
}

// Assessment is the common result of a Strategy.
type Assessment struct {
	Strategy            string    `json:"strategy"`
	RiskLevel           RiskLevel `json:"riskLevel"`
	PotentialConditions []string  `json:"potentialConditions"`
	Recommendations     []string  `json:"recommendations"`
	Insight             *Insight  `json:"insight,omitempty"`
}

// Strategy is a named triage policy.
type Strategy interface {
	Name() string
	Assess(req Request) Assessment
}

// DetailedStrategy wraps the multi-factor Scorer.
type DetailedStrategy struct {
	scorer *Scorer
}

func NewDetailedStrategy(scorer *Scorer) *DetailedStrategy {
	return &DetailedStrategy{scorer: scorer}
}

func (d *DetailedStrategy) Name() string { return StrategyDetailed }

// Assess derives the risk level from the severity score and reuses the
// rating-based advice with the score standing in for the rating.
func (d *DetailedStrategy) Assess(req Request) Assessment {
	insight := d.scorer.Score(req.Symptoms)

	conditions := make([]string, 0, len(insight.PredictedDiseases))
	for _, c := range insight.PredictedDiseases {
		conditions = append(conditions, c.Name)
	}

	return Assessment{
		Strategy:            StrategyDetailed,
		RiskLevel:           RiskFromScore(insight.SeverityScore),
		PotentialConditions: conditions,
		Recommendations:     Recommendations(insight.SeverityScore, conditions),
		Insight:             &insight,
	}
}

// RiskFromScore buckets a severity score into a risk level.
func RiskFromScore(score float64) RiskLevel {
	switch {
	case score >= highRiskScore:
		return RiskHigh
	case score >= mediumRiskScore:
		return RiskMedium
	default:
		return RiskLow
	}
}

// SimpleStrategy wraps the RatingMapper.
type SimpleStrategy struct {
	mapper *RatingMapper
}

func NewSimpleStrategy(mapper *RatingMapper) *SimpleStrategy {
	return &SimpleStrategy{mapper: mapper}
}

func (s *SimpleStrategy) Name() string { return StrategySimple }

// Assess uses the caller's emergency rating, falling back to a rating
// derived from the overall severity.
func (s *SimpleStrategy) Assess(req Request) Assessment {
	rating := RatingFromSeverity(string(req.OverallSeverity()))
	if req.EmergencyRating != nil {
		rating = *req.EmergencyRating
	}

	names := make([]string, 0, len(req.Symptoms))
	for _, sym := range req.Symptoms {
		names = append(names, sym.Name)
	}

	res := s.mapper.Map(names, rating)
	return Assessment{
		Strategy:            StrategySimple,
		RiskLevel:           res.RiskLevel,
		PotentialConditions: res.PotentialConditions,
		Recommendations:     res.Recommendations,
	}
}

// Registry resolves strategies by name.
type Registry struct {
	strategies map[string]Strategy
	def        string
}

// NewRegistry registers strategies and selects the default by name.
func NewRegistry(defaultName string, strategies ...Strategy) (*Registry, error) {
	r := &Registry{strategies: make(map[string]Strategy, len(strategies)), def: defaultName}
	for _, s := range strategies {
		r.strategies[s.Name()] = s
	}
	if _, ok := r.strategies[defaultName]; !ok {
		return nil, fmt.Errorf("unknown default triage strategy %q", defaultName)
	}
	return r, nil
}

// NewDefaultRegistry wires both built-in strategies over the same rules.
func NewDefaultRegistry(defaultName string, rules *Rules, src RandomSource) (*Registry, error) {
	return NewRegistry(defaultName,
		NewDetailedStrategy(NewScorer(rules, src)),
		NewSimpleStrategy(NewRatingMapper(rules)),
	)
}

// Get returns the named strategy; an empty name selects the default.
func (r *Registry) Get(name string) (Strategy, bool) {
	if name == "" {
		name = r.def
	}
	s, ok := r.strategies[name]
	return s, ok
}

// Default returns the name of the default strategy.
func (r *Registry) Default() string { return r.def }

// Names lists registered strategy names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
