package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthbridge/slot-ledger/internal/config"
	redisclient "github.com/healthbridge/slot-ledger/internal/redis"
)

const (
	EventSlotCreated   = "SLOT_CREATED"
	EventSlotClaimed   = "SLOT_CLAIMED"
	EventSlotCanceled  = "SLOT_CANCELED"
	EventSlotCompleted = "SLOT_COMPLETED"
)

// Service is the slot ledger: the sole authority for creating and claiming
// bookable intervals. It holds no slot state itself; the repository is the
// source of truth and the transaction domain.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log.With().Str("component", "ledger").Logger(),
		now:    time.Now,
	}
}

// WithClock overrides the service clock. Only the sweeper's notion of
// "past" depends on it; production callers never touch this.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateSlot adds a new available interval to the doctor's schedule. The
// overlap check and the insert run inside the per-doctor critical section,
// so two concurrent creations for the same doctor serialize; the store's
// exclusion constraint backstops the invariant if the lease ever fails
// open.
func (s *Service) CreateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*TimeSlot, error) {
	if err := ValidateInterval(start, end); err != nil {
		return nil, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	var created *TimeSlot

	err := s.locker.WithScheduleLock(ctx, doctorID, func(lockCtx context.Context) error {
		conflicts, err := s.repo.FindOverlapping(lockCtx, doctorID, start, end)
		if err != nil {
			return fmt.Errorf("check overlapping slots: %w", err)
		}
		if len(conflicts) > 0 {
			return ErrOverlap
		}

		slot, err := s.repo.InsertSlot(lockCtx, TimeSlot{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			Date:      slotDate(start),
			StartTime: start,
			EndTime:   end,
			Status:    StatusAvailable,
		})
		if err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}

		created = slot

		s.logEvent(lockCtx, slot.ID, EventSlotCreated, map[string]any{
			"doctor_id":  doctorID.String(),
			"start_time": start,
			"end_time":   end,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockWaitExceeded) {
			return nil, ErrContentionTimeout
		}
		return nil, err
	}

	return created, nil
}

// ClaimSlot books an available slot for the patient. The status check and
// the write are one conditional update at the store, so of two racing
// claimants exactly one wins and the other sees ErrAlreadyBooked.
func (s *Service) ClaimSlot(ctx context.Context, slotID, patientID uuid.UUID) (*TimeSlot, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	claimed, err := s.repo.ClaimSlot(ctx, slotID, patientID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			// Zero rows matched: either the slot does not exist or it
			// is no longer available.
			return nil, s.disambiguateClaim(ctx, slotID)
		}
		return nil, fmt.Errorf("claim slot: %w", err)
	}

	s.logEvent(ctx, claimed.ID, EventSlotClaimed, map[string]any{
		"patient_id": patientID.String(),
	})

	return claimed, nil
}

func (s *Service) disambiguateClaim(ctx context.Context, slotID uuid.UUID) error {
	if _, err := s.repo.GetSlotByID(ctx, slotID); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("load slot after failed claim: %w", err)
	}
	return ErrAlreadyBooked
}

// CancelSlot releases a slot from Available or Booked. The interval stops
// counting toward the overlap check and any patient reference is cleared.
func (s *Service) CancelSlot(ctx context.Context, slotID, actorID uuid.UUID) (*TimeSlot, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	updated, err := s.repo.TransitionSlot(ctx, slotID, []SlotStatus{StatusAvailable, StatusBooked}, StatusCanceled)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, s.disambiguateTransition(ctx, slotID)
		}
		return nil, fmt.Errorf("cancel slot: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventSlotCanceled, map[string]any{
		"actor_id": actorID.String(),
	})

	return updated, nil
}

// CompleteSlot marks a booked slot as completed. Only Booked slots may
// complete; the patient reference is kept.
func (s *Service) CompleteSlot(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	updated, err := s.repo.TransitionSlot(ctx, slotID, []SlotStatus{StatusBooked}, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, s.disambiguateTransition(ctx, slotID)
		}
		return nil, fmt.Errorf("complete slot: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventSlotCompleted, map[string]any{})

	return updated, nil
}

func (s *Service) disambiguateTransition(ctx context.Context, slotID uuid.UUID) error {
	if _, err := s.repo.GetSlotByID(ctx, slotID); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("load slot after failed transition: %w", err)
	}
	return ErrInvalidTransition
}

// GetSlot retrieves a slot by id.
func (s *Service) GetSlot(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// ListAvailableSlots returns available slots for the doctor whose interval
// lies within [from, to), start ascending. It never enters the critical
// section; a claim re-validates state anyway.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	if err := ValidateInterval(from, to); err != nil {
		return nil, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	slots, err := s.repo.ListAvailable(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// Sweep is called periodically by the sweeper worker. It cancels available
// slots whose start has passed and completes booked slots whose end has
// passed, through the same conditional transitions as the public
// operations, so a concurrent claim or cancel always serializes cleanly.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now()

	stale, err := s.repo.FindStaleAvailable(ctx, now)
	if err != nil {
		return fmt.Errorf("find stale available slots: %w", err)
	}
	for _, slot := range stale {
		_, err := s.repo.TransitionSlot(ctx, slot.ID, []SlotStatus{StatusAvailable}, StatusCanceled)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			s.log.Error().Err(err).Str("slot_id", slot.ID.String()).Msg("failed to cancel stale slot")
			continue
		}
		if err == nil {
			s.logEvent(ctx, slot.ID, EventSlotCanceled, map[string]any{
				"reason": "sweeper_stale_available",
			})
		}
	}

	elapsed, err := s.repo.FindElapsedBooked(ctx, now)
	if err != nil {
		return fmt.Errorf("find elapsed booked slots: %w", err)
	}
	for _, slot := range elapsed {
		_, err := s.repo.TransitionSlot(ctx, slot.ID, []SlotStatus{StatusBooked}, StatusCompleted)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			s.log.Error().Err(err).Str("slot_id", slot.ID.String()).Msg("failed to complete elapsed slot")
			continue
		}
		if err == nil {
			s.logEvent(ctx, slot.ID, EventSlotCompleted, map[string]any{
				"reason": "sweeper_elapsed_booked",
			})
		}
	}

	return nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) logEvent(ctx context.Context, slotID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	id := slotID

	ev := EventLog{
		EventType: eventType,
		SlotID:    &id,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("slot_id", slotID.String()).
			Msg("failed to insert slot event")
	}
}
