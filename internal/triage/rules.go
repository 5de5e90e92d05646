package triage

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DrugReaction is a known reaction of a drug that presents as a symptom.
type DrugReaction struct {
	Drug     string `yaml:"drug"`
	Reaction string `yaml:"reaction"`
}

// Rules holds the static lookup tables used by both scoring strategies. A
// Rules value is read-only once built; lookups return shared slices that
// callers must not modify.
type Rules struct {
	diseases   map[string][]string
	reactions  map[string][]DrugReaction
	conditions map[string][]string
}

var defaultDiseases = map[string][]string{
	"fever":               {"Flu", "COVID-19", "Common Cold"},
	"cough":               {"Flu", "Common Cold", "Bronchitis"},
	"headache":            {"Migraine", "Tension Headache", "Hypertension"},
	"chest pain":          {"Angina", "Heart Attack", "Anxiety"},
	"fatigue":             {"Anemia", "Hypothyroidism", "Depression"},
	"shortness of breath": {"Asthma", "COPD", "Heart Failure"},
	"joint pain":          {"Arthritis", "Lupus", "Gout"},
	"stomach pain":        {"Gastritis", "Appendicitis", "IBS"},
}

var defaultReactions = map[string][]DrugReaction{
	"headache":  {{Drug: "Nitroglycerin", Reaction: "Vasodilation headache"}},
	"dizziness": {{Drug: "Lisinopril", Reaction: "Hypotension"}},
}

var defaultConditions = map[string][]string{
	"fever":               {"Flu", "COVID-19", "Common Cold"},
	"cough":               {"Common Cold", "Flu", "COVID-19", "Bronchitis"},
	"headache":            {"Migraine", "Tension Headache", "Dehydration"},
	"fatigue":             {"Anemia", "Depression", "Thyroid Disorder"},
	"chest pain":          {"Heart Attack", "Angina", "Anxiety"},
	"shortness of breath": {"Asthma", "COVID-19", "Heart Failure"},
}

// DefaultRules returns the compiled-in rule tables.
func DefaultRules() *Rules {
	r, err := NewRules(defaultDiseases, defaultReactions, defaultConditions)
	if err != nil {
		panic(fmt.Sprintf("triage: invalid default rules: %v", err))
	}
	return r
}

// NewRules copies and validates the given tables. Keys are normalised to
// lower case.
func NewRules(diseases map[string][]string, reactions map[string][]DrugReaction, conditions map[string][]string) (*Rules, error) {
	r := &Rules{
		diseases:   make(map[string][]string, len(diseases)),
		reactions:  make(map[string][]DrugReaction, len(reactions)),
		conditions: make(map[string][]string, len(conditions)),
	}
	for k, v := range diseases {
		key := normalizeKey(k)
		if key == "" {
			return nil, fmt.Errorf("diseases: empty symptom key")
		}
		for _, name := range v {
			if name == "" {
				return nil, fmt.Errorf("diseases[%s]: empty disease name", key)
			}
		}
		r.diseases[key] = append([]string(nil), v...)
	}
	for k, v := range reactions {
		key := normalizeKey(k)
		if key == "" {
			return nil, fmt.Errorf("reactions: empty symptom key")
		}
		for _, dr := range v {
			if dr.Drug == "" || dr.Reaction == "" {
				return nil, fmt.Errorf("reactions[%s]: drug and reaction are required", key)
			}
		}
		r.reactions[key] = append([]DrugReaction(nil), v...)
	}
	for k, v := range conditions {
		key := normalizeKey(k)
		if key == "" {
			return nil, fmt.Errorf("conditions: empty symptom key")
		}
		for _, name := range v {
			if name == "" {
				return nil, fmt.Errorf("conditions[%s]: empty condition name", key)
			}
		}
		r.conditions[key] = append([]string(nil), v...)
	}
	return r, nil
}

// Diseases returns the diseases associated with a symptom for the detailed
// scorer.
func (r *Rules) Diseases(symptom string) []string {
	return r.diseases[normalizeKey(symptom)]
}

// Reactions returns the drug reactions that may present as a symptom.
func (r *Rules) Reactions(symptom string) []DrugReaction {
	return r.reactions[normalizeKey(symptom)]
}

// Conditions returns the simple-path conditions for a symptom.
func (r *Rules) Conditions(symptom string) []string {
	return r.conditions[normalizeKey(symptom)]
}

// Symptoms lists every symptom key known to any table, sorted.
func (r *Rules) Symptoms() []string {
	seen := make(map[string]struct{})
	for k := range r.diseases {
		seen[k] = struct{}{}
	}
	for k := range r.reactions {
		seen[k] = struct{}{}
	}
	for k := range r.conditions {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type rulesFile struct {
	Diseases   map[string][]string       `yaml:"diseases"`
	Reactions  map[string][]DrugReaction `yaml:"reactions"`
	Conditions map[string][]string       `yaml:"conditions"`
}

// LoadRules reads rule tables from a YAML file. Sections missing from the file
// keep their compiled-in defaults.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rule tables. See LoadRules.
func ParseRules(data []byte) (*Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if f.Diseases == nil {
		f.Diseases = defaultDiseases
	}
	if f.Reactions == nil {
		f.Reactions = defaultReactions
	}
	if f.Conditions == nil {
		f.Conditions = defaultConditions
	}
	return NewRules(f.Diseases, f.Reactions, f.Conditions)
}
