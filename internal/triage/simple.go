package triage

const (
	immediateCareRating = 8.0
	sameDayRating       = 5.0
)

// SimpleAssessment is the output of the rating-based policy.
type SimpleAssessment struct {
	RiskLevel           RiskLevel `json:"riskLevel"`
	PotentialConditions []string  `json:"potentialConditions"`
	Recommendations     []string  `json:"recommendations"`
}

// RatingMapper maps symptom names and an externally supplied emergency
// rating (0-10) to conditions and advice.
type RatingMapper struct {
	rules *Rules
}

// NewRatingMapper builds a RatingMapper. A nil rules selects the defaults.
func NewRatingMapper(rules *Rules) *RatingMapper {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RatingMapper{rules: rules}
}

// Map returns the simple assessment. Unknown symptoms contribute nothing.
func (m *RatingMapper) Map(symptoms []string, emergencyRating float64) SimpleAssessment {
	seen := make(map[string]struct{})
	conditions := []string{}
	for _, sym := range symptoms {
		for _, c := range m.rules.Conditions(sym) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			conditions = append(conditions, c)
		}
	}
	return SimpleAssessment{
		RiskLevel:           RiskFromRating(emergencyRating),
		PotentialConditions: conditions,
		Recommendations:     Recommendations(emergencyRating, conditions),
	}
}

// RiskFromRating buckets an emergency rating into a risk level.
func RiskFromRating(rating float64) RiskLevel {
	switch {
	case rating >= immediateCareRating:
		return RiskHigh
	case rating >= sameDayRating:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RatingFromSeverity supplies an emergency rating when the caller gave none.
func RatingFromSeverity(severity string) float64 {
	switch ParseSeverity(severity) {
	case SeveritySevere:
		return immediateCareRating
	case SeverityModerate:
		return sameDayRating
	default:
		return 2
	}
}

var conditionAdvice = []struct {
	condition string
	advice    string
}{
	{"COVID-19", "Get tested for COVID-19 and self-isolate until you receive the result"},
	{"Flu", "Rest, drink plenty of fluids and ask about antiviral treatment if symptoms began in the last 48 hours"},
	{"Heart Attack", "Call emergency services immediately if chest pain comes with sweating, nausea or pain spreading to the arm or jaw"},
}

// Recommendations produces advice for a rating and candidate conditions. The
// rating-driven advice always comes first.
func Recommendations(rating float64, conditions []string) []string {
	var recs []string
	switch {
	case rating >= immediateCareRating:
		recs = append(recs,
			"Seek immediate medical attention",
			"Go to the nearest emergency department or call emergency services",
		)
	case rating >= sameDayRating:
		recs = append(recs,
			"Schedule a same-day appointment with your doctor",
			"Monitor your symptoms closely and seek care if they worsen",
		)
	default:
		recs = append(recs,
			"Monitor your symptoms at home",
			"Rest and stay hydrated",
			"Book a routine appointment if symptoms persist for more than a few days",
		)
	}

	present := make(map[string]bool, len(conditions))
	for _, c := range conditions {
		present[c] = true
	}
	for _, ca := range conditionAdvice {
		if present[ca.condition] {
			recs = append(recs, ca.advice)
		}
	}
	return recs
}
