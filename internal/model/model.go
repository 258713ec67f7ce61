package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrValidation wraps every constructor-time validation failure so callers
// can classify them with errors.Is.
var ErrValidation = errors.New("validation failed")

// DayLayout is the calendar-day format used everywhere a date is stored
// without a time component.
const DayLayout = "2006-01-02"

type Patient struct {
	ID        uuid.UUID
	FullName  string
	Phone     string
	Email     *string
	Insurance *string
	CreatedAt time.Time
	Sequence  int64
}

func NewPatient(fullName, phone string, email, insurance *string, now time.Time) (*Patient, error) {
	if fullName == "" {
		return nil, fmt.Errorf("%w: patient name is required", ErrValidation)
	}
	if phone == "" {
		return nil, fmt.Errorf("%w: patient phone is required", ErrValidation)
	}
	return &Patient{
		ID:        uuid.New(),
		FullName:  fullName,
		Phone:     phone,
		Email:     email,
		Insurance: insurance,
		CreatedAt: now,
	}, nil
}

type AvailabilityStatus string

const (
	DoctorAvailable AvailabilityStatus = "available"
	DoctorBusy      AvailabilityStatus = "busy"
	DoctorOnBreak   AvailabilityStatus = "on_break"
	DoctorOffline   AvailabilityStatus = "offline"
)

func (s AvailabilityStatus) Valid() bool {
	switch s {
	case DoctorAvailable, DoctorBusy, DoctorOnBreak, DoctorOffline:
		return true
	}
	return false
}

// DaySchedule is one weekday of a doctor's weekly template. Start and End
// use the "15:04" clock layout.
type DaySchedule struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type Doctor struct {
	ID              uuid.UUID
	FullName        string
	Specializations []string
	Location        string
	Availability    AvailabilityStatus
	// WeeklySchedule is indexed by time.Weekday (Sunday = 0).
	WeeklySchedule [7]DaySchedule
	CreatedAt      time.Time
	Sequence       int64
}

func NewDoctor(fullName string, specializations []string, location string, now time.Time) (*Doctor, error) {
	if fullName == "" {
		return nil, fmt.Errorf("%w: doctor name is required", ErrValidation)
	}
	if len(specializations) == 0 {
		return nil, fmt.Errorf("%w: doctor needs at least one specialization", ErrValidation)
	}
	return &Doctor{
		ID:              uuid.New(),
		FullName:        fullName,
		Specializations: specializations,
		Location:        location,
		Availability:    DoctorOffline,
		CreatedAt:       now,
	}, nil
}
