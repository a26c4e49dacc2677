package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrSlotNotFound    = errors.New("slot not found")

	// ErrInvalidInterval means the caller supplied malformed slot bounds.
	ErrInvalidInterval = errors.New("invalid slot interval")

	// ErrOverlap means the requested interval conflicts with an existing
	// non-canceled slot for the same doctor.
	ErrOverlap = errors.New("slot overlaps an existing slot")

	// ErrAlreadyBooked means a claim found the slot in any state other
	// than available, including losing a race to another claimant.
	ErrAlreadyBooked = errors.New("slot is no longer available")

	// ErrInvalidTransition means the requested lifecycle change is not an
	// edge of the slot state machine.
	ErrInvalidTransition = errors.New("invalid slot status transition")

	// ErrContentionTimeout means the per-doctor critical section could not
	// be entered within the wait bound. The whole operation is safe to
	// retry.
	ErrContentionTimeout = errors.New("schedule contention timeout, retry")
)

// Repository contains all store interactions needed by the service.
//
// ClaimSlot and TransitionSlot are the atomicity primitives: each must
// compare-and-swap the status in a single store round trip and return
// ErrSlotNotFound when no row matched, so a plain read-then-write can
// never slip in between.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)

	// FindOverlapping returns non-canceled slots for the doctor whose
	// interval overlaps [start, end). Used inside the create critical
	// section.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeSlot, error)

	// InsertSlot persists a new available slot. Implementations backed by a
	// store with an interval exclusion constraint report a constraint
	// violation as ErrOverlap.
	InsertSlot(ctx context.Context, slot TimeSlot) (*TimeSlot, error)

	// ClaimSlot conditionally books an available slot for the patient.
	// It returns ErrSlotNotFound when the slot is absent or not
	// available; the caller disambiguates.
	ClaimSlot(ctx context.Context, id uuid.UUID, patientID uuid.UUID) (*TimeSlot, error)

	// TransitionSlot conditionally moves a slot from any of the from
	// statuses to the to status. Canceling clears the patient reference;
	// completing keeps it. Returns ErrSlotNotFound when no row matched.
	TransitionSlot(ctx context.Context, id uuid.UUID, from []SlotStatus, to SlotStatus) (*TimeSlot, error)

	// ListAvailable returns available slots for the doctor whose interval
	// lies within [from, to), ordered by start time ascending.
	ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error)

	// Sweeper queries.
	FindStaleAvailable(ctx context.Context, now time.Time) ([]TimeSlot, error)
	FindElapsedBooked(ctx context.Context, now time.Time) ([]TimeSlot, error)

	// Event logging.
	InsertEvent(ctx context.Context, ev EventLog) error
}
