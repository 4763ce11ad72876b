package interaction

import (
	"strings"

	"github.com/caretrack/go-mar/internal/domain/medication"
)

// sideEffects maps generics to their commonly reported side effects.
var sideEffects = map[string][]string{
	"lisinopril":    {"dry cough", "dizziness", "hyperkalemia", "angioedema", "fatigue"},
	"metoprolol":    {"fatigue", "bradycardia", "cold extremities", "depression", "shortness of breath"},
	"metformin":     {"nausea", "diarrhea", "metallic taste", "vitamin B12 deficiency", "lactic acidosis"},
	"ibuprofen":     {"stomach upset", "kidney problems", "increased bleeding risk", "high blood pressure"},
	"acetaminophen": {"liver toxicity", "rare allergic reactions"},
	"sertraline":    {"nausea", "insomnia", "sexual dysfunction", "weight changes", "serotonin syndrome"},
}

// SymptomMatch correlates a reported symptom set with one medication's known
// side effects.
type SymptomMatch struct {
	Medication     string   `json:"medication"`
	GenericName    string   `json:"generic_name"`
	MatchedEffects []string `json:"matched_effects"`
}

// MatchSymptoms reports which medications in the regimen are known to cause
// any of the reported symptoms. Substring matching in both directions, the
// way patients actually describe effects ("cough" vs "dry cough").
func MatchSymptoms(meds []*medication.Medication, symptoms []string) []SymptomMatch {
	var matches []SymptomMatch

	for _, med := range meds {
		name := strings.ToLower(generic(med))
		known, ok := sideEffects[name]
		if !ok {
			continue
		}

		var matched []string
		for _, symptom := range symptoms {
			s := strings.ToLower(strings.TrimSpace(symptom))
			if s == "" {
				continue
			}
			for _, effect := range known {
				e := strings.ToLower(effect)
				if strings.Contains(e, s) || strings.Contains(s, e) {
					matched = append(matched, effect)
					break
				}
			}
		}

		if len(matched) > 0 {
			matches = append(matches, SymptomMatch{
				Medication:     med.Name,
				GenericName:    name,
				MatchedEffects: matched,
			})
		}
	}
	return matches
}
