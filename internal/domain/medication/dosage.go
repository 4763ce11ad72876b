package medication

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// dosageRe extracts the leading numeric strength from a dosage string
// ("500mg", "2.5 mg", "10mg twice").
var dosageRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// dailySlotCount is the implied doses/day per frequency kind, used only for
// strength validation; schedule expansion derives its own slot set.
var dailySlotCount = map[FrequencyKind]int{
	OnceDaily:       1,
	TwiceDaily:      2,
	ThreeTimesDaily: 3,
	FourTimesDaily:  4,
	Every6Hours:     4,
	Every8Hours:     3,
	Every12Hours:    2,
	Bedtime:         1,
	Morning:         1,
	WithMeals:       3,
}

// maxDailyDoseMg holds reference ceilings for common generics. Unknown
// generics validate as "unknown" rather than failing.
var maxDailyDoseMg = map[string]float64{
	"lisinopril":    80,
	"metoprolol":    400,
	"amlodipine":    10,
	"metformin":     2550,
	"amoxicillin":   4000,
	"ibuprofen":     3200,
	"acetaminophen": 4000,
	"sertraline":    200,
}

// DosageCheck is the result of validating a dosage against reference limits.
type DosageCheck struct {
	Status      string   `json:"status"` // safe, warning, invalid, unknown
	DailyDoseMg float64  `json:"daily_dose_mg,omitempty"`
	MaxDailyMg  float64  `json:"max_daily_mg,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// ValidateDosage checks the prescribed strength and frequency against the
// reference maximum daily dose for the generic.
func ValidateDosage(m *Medication) DosageCheck {
	match := dosageRe.FindString(m.Dosage)
	if match == "" {
		return DosageCheck{
			Status:   "invalid",
			Warnings: []string{"could not parse dosage strength"},
		}
	}
	strength, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return DosageCheck{
			Status:   "invalid",
			Warnings: []string{"could not parse dosage strength"},
		}
	}

	perDay := dailySlotCount[m.Frequency]
	if m.Frequency == Custom {
		perDay = len(m.Times)
	}
	if perDay == 0 {
		// As-needed: no fixed daily dose to validate.
		return DosageCheck{Status: "unknown"}
	}
	daily := strength * float64(perDay)

	limit, ok := maxDailyDoseMg[strings.ToLower(m.GenericName)]
	if !ok {
		return DosageCheck{Status: "unknown", DailyDoseMg: daily}
	}

	check := DosageCheck{Status: "safe", DailyDoseMg: daily, MaxDailyMg: limit}
	if daily > limit {
		check.Status = "warning"
		check.Warnings = append(check.Warnings,
			fmt.Sprintf("daily dose %.0fmg exceeds maximum recommended %.0fmg", daily, limit))
	}
	return check
}
