package triage

import "testing"

func TestRequest_OverallSeverity(t *testing.T) {
	req := Request{Symptoms: []Symptom{
		{Name: "cough", Severity: "mild"},
		{Name: "fever", Severity: "Severe"},
		{Name: "fatigue", Severity: "moderate"},
	}}
	if got := req.OverallSeverity(); got != SeveritySevere {
		t.Errorf("expected severe, got %s", got)
	}

	req.Severity = "moderate"
	if got := req.OverallSeverity(); got != SeverityModerate {
		t.Errorf("explicit severity should win, got %s", got)
	}

	if got := (Request{}).OverallSeverity(); got != SeverityMild {
		t.Errorf("expected mild for empty request, got %s", got)
	}
}

func TestDetailedStrategy(t *testing.T) {
	s := NewDetailedStrategy(NewScorer(nil, FixedRandom(0)))
	got := s.Assess(Request{Symptoms: []Symptom{
		{Name: "fever", Severity: "severe", Duration: "2 months"},
		{Name: "cough", Severity: "moderate", Duration: "1 day"},
	}})

	if got.Strategy != StrategyDetailed {
		t.Errorf("expected detailed, got %s", got.Strategy)
	}
	if got.Insight == nil {
		t.Fatal("expected insight")
	}
	// 6 + 2 = 8
	if got.RiskLevel != RiskHigh {
		t.Errorf("expected high risk for score %v, got %s", got.Insight.SeverityScore, got.RiskLevel)
	}
	if len(got.PotentialConditions) != len(got.Insight.PredictedDiseases) {
		t.Fatalf("conditions and predictions differ: %v vs %v", got.PotentialConditions, got.Insight.PredictedDiseases)
	}
	for i, c := range got.Insight.PredictedDiseases {
		if got.PotentialConditions[i] != c.Name {
			t.Errorf("condition %d: expected %s, got %s", i, c.Name, got.PotentialConditions[i])
		}
	}
	if got.Recommendations[0] != "Seek immediate medical attention" {
		t.Errorf("unexpected first recommendation: %s", got.Recommendations[0])
	}
}

func TestRiskFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0, RiskLow},
		{3.5, RiskLow},
		{4, RiskMedium},
		{6.9, RiskMedium},
		{7, RiskHigh},
		{10, RiskHigh},
	}
	for _, tt := range tests {
		if got := RiskFromScore(tt.score); got != tt.want {
			t.Errorf("RiskFromScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSimpleStrategy(t *testing.T) {
	s := NewSimpleStrategy(NewRatingMapper(nil))

	rating := 9.0
	got := s.Assess(Request{
		Symptoms:        []Symptom{{Name: "chest pain", Severity: "mild"}},
		EmergencyRating: &rating,
	})
	if got.RiskLevel != RiskHigh {
		t.Errorf("expected explicit rating to drive high risk, got %s", got.RiskLevel)
	}
	if got.Insight != nil {
		t.Error("simple strategy should not produce an insight")
	}

	got = s.Assess(Request{Symptoms: []Symptom{{Name: "chest pain", Severity: "moderate"}}})
	if got.RiskLevel != RiskMedium {
		t.Errorf("expected severity-derived medium risk, got %s", got.RiskLevel)
	}
	if got.Strategy != StrategySimple {
		t.Errorf("expected simple, got %s", got.Strategy)
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewDefaultRegistry(StrategySimple, nil, FixedRandom(0))
	if err != nil {
		t.Fatalf("NewDefaultRegistry: %v", err)
	}

	s, ok := reg.Get("")
	if !ok || s.Name() != StrategySimple {
		t.Errorf("expected default simple strategy, got %v", s)
	}
	if s, ok := reg.Get(StrategyDetailed); !ok || s.Name() != StrategyDetailed {
		t.Errorf("expected detailed strategy")
	}
	if _, ok := reg.Get("oracle"); ok {
		t.Error("expected unknown strategy lookup to fail")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != StrategyDetailed || names[1] != StrategySimple {
		t.Errorf("unexpected names: %v", names)
	}

	if _, err := NewDefaultRegistry("oracle", nil, nil); err == nil {
		t.Error("expected error for unknown default")
	}
}
