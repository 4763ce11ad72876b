package medication

import (
	"testing"
	"time"
)

func TestValidateDosage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		med        *Medication
		wantStatus string
		wantDaily  float64
	}{
		{
			name: "safe within limit",
			med: &Medication{
				GenericName: "lisinopril",
				Dosage:      "10mg",
				Frequency:   TwiceDaily,
			},
			wantStatus: "safe",
			wantDaily:  20,
		},
		{
			name: "at the limit is safe",
			med: &Medication{
				GenericName: "ibuprofen",
				Dosage:      "800mg",
				Frequency:   Every6Hours,
			},
			wantStatus: "safe",
			wantDaily:  3200,
		},
		{
			name: "warning above limit",
			med: &Medication{
				GenericName: "ibuprofen",
				Dosage:      "850mg",
				Frequency:   Every6Hours,
			},
			wantStatus: "warning",
			wantDaily:  3400,
		},
		{
			name: "decimal strength",
			med: &Medication{
				GenericName: "amlodipine",
				Dosage:      "2.5 mg",
				Frequency:   OnceDaily,
			},
			wantStatus: "safe",
			wantDaily:  2.5,
		},
		{
			name: "unknown generic",
			med: &Medication{
				GenericName: "examplazine",
				Dosage:      "50mg",
				Frequency:   OnceDaily,
			},
			wantStatus: "unknown",
			wantDaily:  50,
		},
		{
			name: "as-needed has no daily dose",
			med: &Medication{
				GenericName: "ibuprofen",
				Dosage:      "400mg",
				Frequency:   AsNeeded,
			},
			wantStatus: "unknown",
		},
		{
			name: "unparseable strength",
			med: &Medication{
				GenericName: "lisinopril",
				Dosage:      "one tablet",
				Frequency:   OnceDaily,
			},
			wantStatus: "invalid",
		},
		{
			name: "custom uses explicit times",
			med: &Medication{
				GenericName: "metformin",
				Dosage:      "850mg",
				Frequency:   Custom,
				Times:       []TimeOfDay{{Hour: 8}, {Hour: 13}, {Hour: 19}},
			},
			wantStatus: "safe",
			wantDaily:  2550,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			check := ValidateDosage(tc.med)
			if check.Status != tc.wantStatus {
				t.Errorf("status = %s, want %s (warnings: %v)", check.Status, tc.wantStatus, check.Warnings)
			}
			if check.DailyDoseMg != tc.wantDaily {
				t.Errorf("daily dose = %.1f, want %.1f", check.DailyDoseMg, tc.wantDaily)
			}
		})
	}
}

func TestValidateDosageWarningDetail(t *testing.T) {
	t.Parallel()

	med := &Medication{
		GenericName: "acetaminophen",
		Dosage:      "1500mg",
		Frequency:   FourTimesDaily,
	}
	check := ValidateDosage(med)
	if check.Status != "warning" {
		t.Fatalf("status = %s, want warning", check.Status)
	}
	if check.DailyDoseMg != 6000 || check.MaxDailyMg != 4000 {
		t.Errorf("doses = %.0f/%.0f, want 6000/4000", check.DailyDoseMg, check.MaxDailyMg)
	}
	if len(check.Warnings) == 0 {
		t.Error("expected a warning message")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "08:00", want: TimeOfDay{Hour: 8}},
		{in: "23:59", want: TimeOfDay{Hour: 23, Minute: 59}},
		{in: "0:05", want: TimeOfDay{Minute: 5}},
		{in: "24:00", wantErr: true},
		{in: "08:60", wantErr: true},
		{in: "8am", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTimeOfDay(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseTimeOfDay(%q) = %+v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseTimeOfDay(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestTimeOfDayOn(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	day := time.Date(2024, 6, 15, 0, 0, 0, 0, loc)
	got := TimeOfDay{Hour: 8, Minute: 30}.On(day, loc)
	want := time.Date(2024, 6, 15, 8, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("On = %s, want %s", got, want)
	}
	if got.Location() != loc {
		t.Errorf("location = %s, want %s", got.Location(), loc)
	}
}
