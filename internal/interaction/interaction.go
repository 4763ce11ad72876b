// Package interaction checks a patient's regimen against a static pairwise
// drug-interaction reference. The reference is advisory; findings are
// surfaced to the caller, never acted on automatically.
package interaction

import (
	"strings"

	"github.com/caretrack/go-mar/internal/domain/medication"
)

// Severity grades an interaction.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeveritySevere   Severity = "severe"
)

// rank orders severities for risk assessment.
func (s Severity) rank() int {
	switch s {
	case SeveritySevere:
		return 4
	case SeverityMajor:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// Interaction is one known pairwise drug interaction.
type Interaction struct {
	Drug1          string   `json:"drug1"`
	Drug2          string   `json:"drug2"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Mechanism      string   `json:"mechanism"`
	Recommendation string   `json:"recommendation"`
}

var reference = []Interaction{
	{
		Drug1: "warfarin", Drug2: "aspirin", Severity: SeverityMajor,
		Description:    "Increased bleeding risk",
		Mechanism:      "Additive anticoagulant effects",
		Recommendation: "Monitor INR closely, consider alternative pain management",
	},
	{
		Drug1: "warfarin", Drug2: "ibuprofen", Severity: SeverityMajor,
		Description:    "Significantly increased bleeding risk",
		Mechanism:      "Anticoagulant + antiplatelet effects",
		Recommendation: "Avoid combination, use acetaminophen instead",
	},
	{
		Drug1: "lisinopril", Drug2: "potassium", Severity: SeverityModerate,
		Description:    "Risk of hyperkalemia",
		Mechanism:      "ACE inhibitor reduces potassium excretion",
		Recommendation: "Monitor potassium levels regularly",
	},
	{
		Drug1: "metoprolol", Drug2: "verapamil", Severity: SeverityMajor,
		Description:    "Risk of severe bradycardia and heart block",
		Mechanism:      "Additive cardiac depressant effects",
		Recommendation: "Use with extreme caution, monitor heart rate",
	},
	{
		Drug1: "metformin", Drug2: "alcohol", Severity: SeverityModerate,
		Description:    "Increased risk of lactic acidosis",
		Mechanism:      "Both can cause lactic acidosis",
		Recommendation: "Limit alcohol consumption, monitor for symptoms",
	},
	{
		Drug1: "insulin", Drug2: "propranolol", Severity: SeverityModerate,
		Description:    "May mask hypoglycemia symptoms",
		Mechanism:      "Beta-blocker masks tachycardia from hypoglycemia",
		Recommendation: "Monitor blood glucose more frequently",
	},
	{
		Drug1: "amoxicillin", Drug2: "warfarin", Severity: SeverityModerate,
		Description:    "May increase bleeding risk",
		Mechanism:      "Antibiotic may enhance warfarin effect",
		Recommendation: "Monitor INR more frequently during treatment",
	},
	{
		Drug1: "sertraline", Drug2: "tramadol", Severity: SeverityMajor,
		Description:    "Risk of serotonin syndrome",
		Mechanism:      "Both increase serotonin levels",
		Recommendation: "Avoid combination, use alternative pain medication",
	},
	{
		Drug1: "fluoxetine", Drug2: "warfarin", Severity: SeverityModerate,
		Description:    "Increased bleeding risk",
		Mechanism:      "SSRI affects platelet function",
		Recommendation: "Monitor for bleeding, consider alternative antidepressant",
	},
	{
		Drug1: "acetaminophen", Drug2: "alcohol", Severity: SeverityModerate,
		Description:    "Increased liver toxicity risk",
		Mechanism:      "Both metabolized by liver",
		Recommendation: "Limit alcohol consumption, monitor liver function",
	},
	{
		Drug1: "calcium", Drug2: "levothyroxine", Severity: SeverityModerate,
		Description:    "Reduced thyroid hormone absorption",
		Mechanism:      "Calcium binds to levothyroxine",
		Recommendation: "Separate administration by 4 hours",
	},
}

// Find looks up the interaction between two generics, in either order.
func Find(drug1, drug2 string) (Interaction, bool) {
	a, b := strings.ToLower(drug1), strings.ToLower(drug2)
	for _, ix := range reference {
		if (ix.Drug1 == a && ix.Drug2 == b) || (ix.Drug1 == b && ix.Drug2 == a) {
			return ix, true
		}
	}
	return Interaction{}, false
}

// Finding pairs two of the patient's medications with a known interaction.
type Finding struct {
	MedicationA string      `json:"medication_a"`
	MedicationB string      `json:"medication_b"`
	Interaction Interaction `json:"interaction"`
}

// RiskLevel summarizes the worst finding in a regimen.
type RiskLevel string

const (
	RiskMinimal      RiskLevel = "minimal"
	RiskLow          RiskLevel = "low"
	RiskModerate     RiskLevel = "moderate"
	RiskModerateHigh RiskLevel = "moderate-high"
	RiskHigh         RiskLevel = "high"
)

// Report is the result of checking a regimen.
type Report struct {
	Findings []Finding `json:"findings"`
	Risk     RiskLevel `json:"risk"`
}

// CheckRegimen examines every medication pair in the regimen.
func CheckRegimen(meds []*medication.Medication) *Report {
	report := &Report{Risk: RiskMinimal}

	for i := 0; i < len(meds); i++ {
		for j := i + 1; j < len(meds); j++ {
			ix, ok := Find(generic(meds[i]), generic(meds[j]))
			if !ok {
				continue
			}
			report.Findings = append(report.Findings, Finding{
				MedicationA: meds[i].Name,
				MedicationB: meds[j].Name,
				Interaction: ix,
			})
		}
	}

	report.Risk = assessRisk(report.Findings)
	return report
}

func assessRisk(findings []Finding) RiskLevel {
	worst := 0
	for _, f := range findings {
		if r := f.Interaction.Severity.rank(); r > worst {
			worst = r
		}
	}
	switch worst {
	case 4:
		return RiskHigh
	case 3:
		return RiskModerateHigh
	case 2:
		return RiskModerate
	case 1:
		return RiskLow
	}
	return RiskMinimal
}

func generic(m *medication.Medication) string {
	if m.GenericName != "" {
		return m.GenericName
	}
	return m.Name
}
