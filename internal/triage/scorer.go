package triage

import (
	"math"
	"sort"
	"strings"
)

const (
	maxScore = 10.0

	baseConsultationMinutes = 15.0
	maxComplexityFactor     = 2.0

	diseaseSeed       = 0.5
	diseaseJitter     = 0.3
	diseaseRepeatStep = 0.2
	maxPredictions    = 3

	// Two chained draws: P(high)=0.3, P(moderate)=0.7*(3/7)=0.3, P(low)=0.4.
	adrHighThreshold     = 0.7
	adrModerateThreshold = 4.0 / 7.0
)

// Scorer is the detailed multi-factor triage scorer. It holds no mutable
// state and may be shared between goroutines as long as its RandomSource is
// concurrent-safe.
type Scorer struct {
	rules *Rules
	rand  RandomSource
}

// NewScorer builds a Scorer. Nil arguments select the defaults.
func NewScorer(rules *Rules, src RandomSource) *Scorer {
	if rules == nil {
		rules = DefaultRules()
	}
	if src == nil {
		src = DefaultRandom()
	}
	return &Scorer{rules: rules, rand: src}
}

// Score computes the Insight for a list of symptoms.
func (s *Scorer) Score(symptoms []Symptom) Insight {
	score := SeverityScore(symptoms)
	n := len(symptoms)

	return Insight{
		PredictedDiseases:         s.predictDiseases(symptoms),
		PossibleADRs:              s.flagReactions(symptoms),
		EstimatedConsultationTime: ConsultationMinutes(n, score),
		SeverityScore:             score,
		ImpactFactors: ImpactFactors{
			Urgency:        clamp(score * 1.2),
			Complexity:     clamp(2*float64(n) + 0.5*score),
			ChronicityRisk: clamp(chronicitySum(symptoms)),
		},
	}
}

// SeverityMultiplier weights a reported severity: severe 3, moderate 2,
// anything else 1.
func SeverityMultiplier(severity string) float64 {
	switch ParseSeverity(severity) {
	case SeveritySevere:
		return 3
	case SeverityModerate:
		return 2
	default:
		return 1
	}
}

// DurationMultiplier weights a free-text duration: months 2, weeks 1.5,
// anything else 1.
func DurationMultiplier(duration string) float64 {
	d := strings.ToLower(duration)
	switch {
	case strings.Contains(d, "month"):
		return 2
	case strings.Contains(d, "week"):
		return 1.5
	default:
		return 1
	}
}

// SeverityScore sums severity×duration over all symptoms, capped at 10.
func SeverityScore(symptoms []Symptom) float64 {
	var sum float64
	for _, sym := range symptoms {
		sum += SeverityMultiplier(sym.Severity) * DurationMultiplier(sym.Duration)
	}
	return clamp(sum)
}

// ConsultationMinutes estimates the consultation length for n symptoms and
// a severity score.
func ConsultationMinutes(n int, severityScore float64) int {
	complexity := math.Min(maxComplexityFactor, 1+0.2*float64(n))
	severity := 1 + 0.1*severityScore
	return int(math.Round(baseConsultationMinutes * complexity * severity))
}

func chronicitySum(symptoms []Symptom) float64 {
	var sum float64
	for _, sym := range symptoms {
		d := strings.ToLower(sym.Duration)
		switch {
		case strings.Contains(d, "month"):
			sum += 3
		case strings.Contains(d, "week"):
			sum += 2
		default:
			sum++
		}
	}
	return sum
}

type diseaseTally struct {
	name  string
	order int
	hits  int
	prob  float64
}

// predictDiseases ranks by the number of matching symptoms, then by first
// appearance. Probabilities are made non-increasing along that order so the
// list is sorted by probability while the ranking itself stays deterministic.
func (s *Scorer) predictDiseases(symptoms []Symptom) []ConditionCandidate {
	index := make(map[string]*diseaseTally)
	var tallies []*diseaseTally

	for _, sym := range symptoms {
		for _, name := range s.rules.Diseases(sym.key()) {
			if t, ok := index[name]; ok {
				t.hits++
				t.prob += diseaseRepeatStep
				continue
			}
			t := &diseaseTally{
				name:  name,
				order: len(tallies),
				hits:  1,
				prob:  diseaseSeed + diseaseJitter*s.rand.Float64(),
			}
			index[name] = t
			tallies = append(tallies, t)
		}
	}

	sort.SliceStable(tallies, func(i, j int) bool {
		if tallies[i].hits != tallies[j].hits {
			return tallies[i].hits > tallies[j].hits
		}
		return tallies[i].order < tallies[j].order
	})

	if len(tallies) > maxPredictions {
		tallies = tallies[:maxPredictions]
	}

	out := make([]ConditionCandidate, 0, len(tallies))
	prev := 1.0
	for _, t := range tallies {
		p := math.Min(math.Min(t.prob, 1), prev)
		prev = p
		out = append(out, ConditionCandidate{Name: t.name, Probability: p})
	}
	return out
}

func (s *Scorer) flagReactions(symptoms []Symptom) []AdverseReactionFlag {
	out := []AdverseReactionFlag{}
	for _, sym := range symptoms {
		for _, dr := range s.rules.Reactions(sym.key()) {
			out = append(out, AdverseReactionFlag{
				Drug:     dr.Drug,
				Reaction: dr.Reaction,
				Severity: s.drawADRSeverity(),
			})
		}
	}
	return out
}

func (s *Scorer) drawADRSeverity() ADRSeverity {
	if s.rand.Float64() > adrHighThreshold {
		return ADRHigh
	}
	if s.rand.Float64() > adrModerateThreshold {
		return ADRModerate
	}
	return ADRLow
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > maxScore {
		return maxScore
	}
	return v
}
