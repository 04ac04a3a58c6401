package medication

import (
	"testing"
	"time"
)

func TestParsePatientSource(t *testing.T) {
	for _, valid := range []string{"registered", "master"} {
		if _, err := ParsePatientSource(valid); err != nil {
			t.Errorf("%q: unexpected error: %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "guest", "Registered", "MASTER"} {
		if _, err := ParsePatientSource(invalid); !IsValidation(err) {
			t.Errorf("%q: expected validation error, got %v", invalid, err)
		}
	}
}

func TestValidateClockTime(t *testing.T) {
	for _, valid := range []string{"00:00", "08:30", "23:59"} {
		if err := ValidateClockTime(valid); err != nil {
			t.Errorf("%q: unexpected error: %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "24:00", "12:60", "8am", "08:30:00"} {
		if err := ValidateClockTime(invalid); !IsValidation(err) {
			t.Errorf("%q: expected validation error, got %v", invalid, err)
		}
	}
}

func TestDateOf(t *testing.T) {
	ts := time.Date(2026, 3, 15, 23, 45, 12, 999, time.UTC)
	got := DateOf(ts)
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSameDay(t *testing.T) {
	morning := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	night := time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)
	next := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)

	if !SameDay(morning, night) {
		t.Error("expected same day")
	}
	if SameDay(night, next) {
		t.Error("expected different days")
	}
}
