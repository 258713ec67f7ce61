package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestValidateSlot(t *testing.T) {
	cases := []struct {
		name     string
		date     string
		time     string
		duration int
		wantErr  bool
	}{
		{"valid slot", "2026-09-01", "09:00", 30, false},
		{"valid single slot", "2026-09-01", "16:45", 15, false},
		{"bad date", "01-09-2026", "09:00", 30, true},
		{"bad time", "2026-09-01", "9am", 30, true},
		{"off-grid time", "2026-09-01", "09:10", 30, true},
		{"zero duration", "2026-09-01", "09:00", 0, true},
		{"negative duration", "2026-09-01", "09:00", -15, true},
		{"off-grid duration", "2026-09-01", "09:00", 20, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSlot(tc.date, tc.time, tc.duration)
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("got %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestMinuteOfDay(t *testing.T) {
	got, err := MinuteOfDay("14:30")
	if err != nil {
		t.Fatalf("MinuteOfDay: %v", err)
	}
	if got != 14*60+30 {
		t.Errorf("MinuteOfDay(14:30) = %d, want %d", got, 14*60+30)
	}
	if _, err := MinuteOfDay("25:00"); !errors.Is(err, ErrValidation) {
		t.Errorf("bad clock value: got %v, want ErrValidation", err)
	}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd int
		want                       bool
	}{
		{"identical", 540, 570, 540, 570, true},
		{"contained", 540, 600, 555, 570, true},
		{"partial left", 540, 570, 555, 600, true},
		{"partial right", 555, 600, 540, 570, true},
		{"back to back", 540, 570, 570, 600, false},
		{"disjoint", 540, 570, 600, 630, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd); got != tc.want {
				t.Errorf("Overlaps(%d,%d,%d,%d) = %v, want %v",
					tc.aStart, tc.aEnd, tc.bStart, tc.bEnd, got, tc.want)
			}
			// overlap is symmetric
			if got := Overlaps(tc.bStart, tc.bEnd, tc.aStart, tc.aEnd); got != tc.want {
				t.Errorf("Overlaps reversed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAppointmentInterval(t *testing.T) {
	a, err := NewAppointment(uuid.New(), uuid.New(), "2026-09-01", "10:15", 45, "consultation", time.Now())
	if err != nil {
		t.Fatalf("NewAppointment: %v", err)
	}
	start, end := a.Interval()
	if start != 10*60+15 || end != 11*60 {
		t.Errorf("Interval() = [%d, %d), want [615, 660)", start, end)
	}
	if a.Status != AppointmentBooked {
		t.Errorf("initial status = %q, want booked", a.Status)
	}
}

func TestNewAppointmentValidation(t *testing.T) {
	now := time.Now()
	if _, err := NewAppointment(uuid.Nil, uuid.New(), "2026-09-01", "10:00", 30, "check-up", now); !errors.Is(err, ErrValidation) {
		t.Errorf("nil patient: got %v, want ErrValidation", err)
	}
	if _, err := NewAppointment(uuid.New(), uuid.Nil, "2026-09-01", "10:00", 30, "check-up", now); !errors.Is(err, ErrValidation) {
		t.Errorf("nil doctor: got %v, want ErrValidation", err)
	}
}
