package schedule

import (
	"errors"
	"testing"

	"github.com/caretrack/go-mar/internal/domain/medication"
)

func slots(times ...medication.TimeOfDay) []medication.TimeOfDay { return times }

func tod(h, m int) medication.TimeOfDay { return medication.TimeOfDay{Hour: h, Minute: m} }

func TestResolveDerivedSlots(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind medication.FrequencyKind
		want []medication.TimeOfDay
	}{
		{"once daily", medication.OnceDaily, slots(tod(8, 0))},
		{"twice daily", medication.TwiceDaily, slots(tod(8, 0), tod(20, 0))},
		{"three times daily", medication.ThreeTimesDaily, slots(tod(8, 0), tod(14, 0), tod(20, 0))},
		{"four times daily", medication.FourTimesDaily, slots(tod(8, 0), tod(12, 0), tod(16, 0), tod(20, 0))},
		{"morning", medication.Morning, slots(tod(8, 0))},
		{"bedtime", medication.Bedtime, slots(tod(22, 0))},
		{"with meals", medication.WithMeals, slots(tod(8, 0), tod(13, 0), tod(19, 0))},
		{"every 12 hours", medication.Every12Hours, slots(tod(8, 0), tod(20, 0))},
		{"every 8 hours", medication.Every8Hours, slots(tod(0, 0), tod(8, 0), tod(16, 0))},
		{"every 6 hours", medication.Every6Hours, slots(tod(2, 0), tod(8, 0), tod(14, 0), tod(20, 0))},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sched, err := Resolve(tt.kind, nil, DefaultConfig())
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.kind, err)
			}
			fixed, ok := sched.(Fixed)
			if !ok {
				t.Fatalf("Resolve(%q) = %T, want Fixed", tt.kind, sched)
			}
			if len(fixed.Slots) != len(tt.want) {
				t.Fatalf("slots = %v, want %v", fixed.Slots, tt.want)
			}
			for i, s := range fixed.Slots {
				if s != tt.want[i] {
					t.Errorf("slot[%d] = %s, want %s", i, s, tt.want[i])
				}
			}
		})
	}
}

func TestResolveExplicitTimesWin(t *testing.T) {
	t.Parallel()

	explicit := slots(tod(21, 30), tod(7, 15))
	sched, err := Resolve(medication.TwiceDaily, explicit, DefaultConfig())
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	fixed := sched.(Fixed)
	if len(fixed.Slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(fixed.Slots))
	}
	if fixed.Slots[0] != tod(7, 15) || fixed.Slots[1] != tod(21, 30) {
		t.Errorf("slots not sorted: %v", fixed.Slots)
	}
}

func TestResolveAsNeeded(t *testing.T) {
	t.Parallel()

	sched, err := Resolve(medication.AsNeeded, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if _, ok := sched.(AsNeeded); !ok {
		t.Fatalf("Resolve(as_needed) = %T, want AsNeeded", sched)
	}
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     medication.FrequencyKind
		explicit []medication.TimeOfDay
	}{
		{"unknown kind", medication.FrequencyKind("hourly"), nil},
		{"custom without times", medication.Custom, nil},
		{"explicit out of range", medication.OnceDaily, slots(tod(24, 0))},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Resolve(tt.kind, tt.explicit, DefaultConfig())
			if !errors.Is(err, ErrInvalidFrequency) {
				t.Fatalf("Resolve error = %v, want ErrInvalidFrequency", err)
			}
		})
	}
}

func TestResolveCustomAnchor(t *testing.T) {
	t.Parallel()

	cfg := Config{DayStartHour: 6, IntervalAnchorHour: 0}

	sched, err := Resolve(medication.TwiceDaily, nil, cfg)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	fixed := sched.(Fixed)
	if fixed.Slots[0] != tod(6, 0) || fixed.Slots[1] != tod(18, 0) {
		t.Errorf("twice daily at anchor 6 = %v, want [06:00 18:00]", fixed.Slots)
	}

	sched, err = Resolve(medication.Every6Hours, nil, cfg)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	fixed = sched.(Fixed)
	want := slots(tod(0, 0), tod(6, 0), tod(12, 0), tod(18, 0))
	for i, s := range fixed.Slots {
		if s != want[i] {
			t.Errorf("q6h slot[%d] = %s, want %s", i, s, want[i])
		}
	}
}

func TestDosesPerDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind medication.FrequencyKind
		want int
	}{
		{medication.OnceDaily, 1},
		{medication.TwiceDaily, 2},
		{medication.WithMeals, 3},
		{medication.Every6Hours, 4},
		{medication.AsNeeded, 0},
	}

	for _, tt := range tests {
		med := &medication.Medication{Frequency: tt.kind}
		got, err := DosesPerDay(med, DefaultConfig())
		if err != nil {
			t.Fatalf("DosesPerDay(%q) error: %v", tt.kind, err)
		}
		if got != tt.want {
			t.Errorf("DosesPerDay(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
