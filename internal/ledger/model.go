package ledger

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	StatusAvailable SlotStatus = "available"
	StatusBooked    SlotStatus = "booked"
	StatusCompleted SlotStatus = "completed"
	StatusCanceled  SlotStatus = "canceled"
)

// Active reports whether a slot in this status counts toward the
// non-overlap invariant. Only canceled slots release their interval.
func (s SlotStatus) Active() bool {
	return s != StatusCanceled
}

// Terminal reports whether no further transition out of this status exists.
func (s SlotStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeSlot is one bookable interval on one doctor's schedule. StartTime and
// EndTime are authoritative; Date is a derived indexing column (UTC day of
// StartTime) and is never consulted by the overlap check.
type TimeSlot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime time.Time
	EndTime   time.Time
	Status    SlotStatus
	PatientID *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	SlotID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
