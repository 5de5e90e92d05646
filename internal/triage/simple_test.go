package triage

import "testing"

func TestRatingMapper_HighRating(t *testing.T) {
	m := NewRatingMapper(nil)
	got := m.Map([]string{"headache"}, 9)

	if got.RiskLevel != RiskHigh {
		t.Errorf("expected high risk, got %s", got.RiskLevel)
	}
	if len(got.Recommendations) == 0 || got.Recommendations[0] != "Seek immediate medical attention" {
		t.Errorf("expected immediate attention first, got %v", got.Recommendations)
	}
	want := []string{"Migraine", "Tension Headache", "Dehydration"}
	if len(got.PotentialConditions) != len(want) {
		t.Fatalf("expected %v, got %v", want, got.PotentialConditions)
	}
	for i := range want {
		if got.PotentialConditions[i] != want[i] {
			t.Errorf("condition %d: expected %s, got %s", i, want[i], got.PotentialConditions[i])
		}
	}
}

func TestRatingMapper_DeduplicatesConditions(t *testing.T) {
	m := NewRatingMapper(nil)
	got := m.Map([]string{"Fever", "cough", "shortness of breath"}, 6)

	counts := make(map[string]int)
	for _, c := range got.PotentialConditions {
		counts[c]++
	}
	for c, n := range counts {
		if n != 1 {
			t.Errorf("condition %s appears %d times", c, n)
		}
	}
	// fever, then cough adds Bronchitis, then shortness of breath adds Asthma and Heart Failure.
	want := []string{"Flu", "COVID-19", "Common Cold", "Bronchitis", "Asthma", "Heart Failure"}
	if len(got.PotentialConditions) != len(want) {
		t.Fatalf("expected %v, got %v", want, got.PotentialConditions)
	}
	for i := range want {
		if got.PotentialConditions[i] != want[i] {
			t.Errorf("condition %d: expected %s, got %s", i, want[i], got.PotentialConditions[i])
		}
	}
	if got.RiskLevel != RiskMedium {
		t.Errorf("expected medium risk, got %s", got.RiskLevel)
	}
}

func TestRatingMapper_UnknownSymptoms(t *testing.T) {
	m := NewRatingMapper(nil)
	got := m.Map([]string{"itchy elbow"}, 1)

	if got.PotentialConditions == nil || len(got.PotentialConditions) != 0 {
		t.Errorf("expected empty non-nil conditions, got %#v", got.PotentialConditions)
	}
	if got.RiskLevel != RiskLow {
		t.Errorf("expected low risk, got %s", got.RiskLevel)
	}
	if len(got.Recommendations) != 3 || got.Recommendations[0] != "Monitor your symptoms at home" {
		t.Errorf("unexpected recommendations: %v", got.Recommendations)
	}
}

func TestRiskFromRating(t *testing.T) {
	tests := []struct {
		rating float64
		want   RiskLevel
	}{
		{0, RiskLow},
		{4.9, RiskLow},
		{5, RiskMedium},
		{7.99, RiskMedium},
		{8, RiskHigh},
		{10, RiskHigh},
	}
	for _, tt := range tests {
		if got := RiskFromRating(tt.rating); got != tt.want {
			t.Errorf("RiskFromRating(%v) = %s, want %s", tt.rating, got, tt.want)
		}
	}
}

func TestRecommendations_ConditionAdvice(t *testing.T) {
	recs := Recommendations(9, []string{"Heart Attack", "Flu", "COVID-19"})

	if recs[0] != "Seek immediate medical attention" {
		t.Errorf("expected rating advice first, got %s", recs[0])
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 recommendations, got %d: %v", len(recs), recs)
	}
	// Condition advice follows a fixed order regardless of input order.
	if recs[2] != conditionAdvice[0].advice || recs[3] != conditionAdvice[1].advice || recs[4] != conditionAdvice[2].advice {
		t.Errorf("unexpected condition advice order: %v", recs[2:])
	}
}

func TestRatingFromSeverity(t *testing.T) {
	if got := RatingFromSeverity("severe"); got != 8 {
		t.Errorf("expected 8, got %v", got)
	}
	if got := RatingFromSeverity("Moderate"); got != 5 {
		t.Errorf("expected 5, got %v", got)
	}
	if got := RatingFromSeverity(""); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
}
