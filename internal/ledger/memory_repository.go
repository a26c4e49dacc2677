package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-process Repository. It enforces
// the same guards the Postgres schema does (interval check, overlap
// exclusion among non-canceled slots) under its lock, so the service's
// atomicity contract holds against it too. Used by tests and local runs;
// it is not a distributed store.
type MemoryRepository struct {
	mu sync.RWMutex

	doctors  map[uuid.UUID]Doctor
	patients map[uuid.UUID]Patient
	slots    map[uuid.UUID]TimeSlot
	events   []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:  make(map[uuid.UUID]Doctor),
		patients: make(map[uuid.UUID]Patient),
		slots:    make(map[uuid.UUID]TimeSlot),
	}
}

func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return cloneSlot(s), nil
}

func (r *MemoryRepository) FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.overlappingLocked(doctorID, start, end, uuid.Nil), nil
}

func (r *MemoryRepository) overlappingLocked(doctorID uuid.UUID, start, end time.Time, exclude uuid.UUID) []TimeSlot {
	var out []TimeSlot
	for _, s := range r.slots {
		if s.DoctorID != doctorID || s.ID == exclude {
			continue
		}
		if !s.Status.Active() {
			continue
		}
		if Overlaps(s.StartTime, s.EndTime, start, end) {
			out = append(out, *cloneSlot(s))
		}
	}
	return out
}

func (r *MemoryRepository) InsertSlot(ctx context.Context, slot TimeSlot) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !slot.StartTime.Before(slot.EndTime) {
		return nil, ErrInvalidInterval
	}
	if len(r.overlappingLocked(slot.DoctorID, slot.StartTime, slot.EndTime, slot.ID)) > 0 {
		return nil, ErrOverlap
	}

	now := time.Now()
	slot.CreatedAt = now
	slot.UpdatedAt = now
	r.slots[slot.ID] = slot

	return cloneSlot(slot), nil
}

func (r *MemoryRepository) ClaimSlot(ctx context.Context, id uuid.UUID, patientID uuid.UUID) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.Status != StatusAvailable {
		return nil, ErrSlotNotFound
	}

	s.Status = StatusBooked
	s.PatientID = &patientID
	s.UpdatedAt = time.Now()
	r.slots[id] = s

	return cloneSlot(s), nil
}

func (r *MemoryRepository) TransitionSlot(ctx context.Context, id uuid.UUID, from []SlotStatus, to SlotStatus) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}

	matched := false
	for _, f := range from {
		if s.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrSlotNotFound
	}

	s.Status = to
	if to == StatusCanceled {
		s.PatientID = nil
	}
	s.UpdatedAt = time.Now()
	r.slots[id] = s

	return cloneSlot(s), nil
}

func (r *MemoryRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TimeSlot
	for _, s := range r.slots {
		if s.DoctorID != doctorID || s.Status != StatusAvailable {
			continue
		}
		if s.StartTime.Before(from) || s.EndTime.After(to) {
			continue
		}
		out = append(out, *cloneSlot(s))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})

	return out, nil
}

func (r *MemoryRepository) FindStaleAvailable(ctx context.Context, now time.Time) ([]TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TimeSlot
	for _, s := range r.slots {
		if s.Status == StatusAvailable && s.StartTime.Before(now) {
			out = append(out, *cloneSlot(s))
		}
	}
	return out, nil
}

func (r *MemoryRepository) FindElapsedBooked(ctx context.Context, now time.Time) ([]TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TimeSlot
	for _, s := range r.slots {
		if s.Status == StatusBooked && s.EndTime.Before(now) {
			out = append(out, *cloneSlot(s))
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func cloneSlot(s TimeSlot) *TimeSlot {
	if s.PatientID != nil {
		pid := *s.PatientID
		s.PatientID = &pid
	}
	return &s
}
