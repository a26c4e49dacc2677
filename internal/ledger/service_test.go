package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthbridge/slot-ledger/internal/config"
	redisclient "github.com/healthbridge/slot-ledger/internal/redis"
)

// localLocker serializes per-doctor critical sections in-process, standing
// in for the Redis lease.
type localLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *localLocker) WithScheduleLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[doctorID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// contendedLocker always reports the wait bound exceeded.
type contendedLocker struct{}

func (contendedLocker) WithScheduleLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockWaitExceeded
}

func newTestService(t *testing.T) (*Service, *MemoryRepository, uuid.UUID, uuid.UUID) {
	t.Helper()

	repo := NewMemoryRepository()

	doctorID := uuid.New()
	repo.AddDoctor(Doctor{ID: doctorID, Name: "Dr. Reyes"})

	patientID := uuid.New()
	repo.AddPatient(Patient{ID: patientID, Name: "Sam Ortiz"})

	cfg := config.Config{StoreTimeout: 5 * time.Second}
	svc := NewService(repo, newLocalLocker(), cfg, zerolog.Nop())

	return svc, repo, doctorID, patientID
}

func TestCreateSlot(t *testing.T) {
	svc, _, doctorID, _ := newTestService(t)
	ctx := context.Background()

	slot, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	if slot.Status != StatusAvailable {
		t.Errorf("status = %s, want %s", slot.Status, StatusAvailable)
	}
	if slot.PatientID != nil {
		t.Errorf("new slot has patient %s", slot.PatientID)
	}
	if slot.DoctorID != doctorID {
		t.Errorf("doctor = %s, want %s", slot.DoctorID, doctorID)
	}
	wantDate := time.Date(2030, 6, 10, 0, 0, 0, 0, time.UTC)
	if !slot.Date.Equal(wantDate) {
		t.Errorf("date = %v, want %v", slot.Date, wantDate)
	}
}

func TestCreateSlot_OverlapRejected(t *testing.T) {
	svc, _, doctorID, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30)); err != nil {
		t.Fatalf("first CreateSlot: %v", err)
	}

	_, err := svc.CreateSlot(ctx, doctorID, ts(10, 15), ts(10, 45))
	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("overlapping CreateSlot err = %v, want ErrOverlap", err)
	}

	slots, err := svc.ListAvailableSlots(ctx, doctorID, ts(0, 0), ts(23, 59))
	if err != nil {
		t.Fatalf("ListAvailableSlots: %v", err)
	}
	if len(slots) != 1 {
		t.Errorf("ledger holds %d slots, want 1", len(slots))
	}
}

func TestCreateSlot_BackToBackAllowed(t *testing.T) {
	svc, _, doctorID, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30)); err != nil {
		t.Fatalf("first CreateSlot: %v", err)
	}
	if _, err := svc.CreateSlot(ctx, doctorID, ts(10, 30), ts(11, 0)); err != nil {
		t.Fatalf("back-to-back CreateSlot: %v", err)
	}
}

func TestCreateSlot_IndependentDoctors(t *testing.T) {
	svc, repo, doctorID, _ := newTestService(t)
	ctx := context.Background()

	other := uuid.New()
	repo.AddDoctor(Doctor{ID: other, Name: "Dr. Lindqvist"})

	if _, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30)); err != nil {
		t.Fatalf("CreateSlot doctor A: %v", err)
	}
	if _, err := svc.CreateSlot(ctx, other, ts(10, 0), ts(10, 30)); err != nil {
		t.Fatalf("same interval for another doctor: %v", err)
	}
}

func TestCreateSlot_InvalidInterval(t *testing.T) {
	svc, _, doctorID, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateSlot(ctx, doctorID, ts(8, 0), ts(8, 0))
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("zero-length interval err = %v, want ErrInvalidInterval", err)
	}

	slots, err := svc.ListAvailableSlots(ctx, doctorID, ts(0, 0), ts(23, 59))
	if err != nil {
		t.Fatalf("ListAvailableSlots: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("invalid interval created %d slots", len(slots))
	}
}

func TestCreateSlot_UnknownDoctor(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.CreateSlot(context.Background(), uuid.New(), ts(10, 0), ts(10, 30))
	if !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("err = %v, want ErrDoctorNotFound", err)
	}
}

func TestCreateSlot_ContentionTimeout(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	repo.AddDoctor(Doctor{ID: doctorID, Name: "Dr. Reyes"})

	svc := NewService(repo, contendedLocker{}, config.Config{}, zerolog.Nop())

	_, err := svc.CreateSlot(context.Background(), doctorID, ts(10, 0), ts(10, 30))
	if !errors.Is(err, ErrContentionTimeout) {
		t.Fatalf("err = %v, want ErrContentionTimeout", err)
	}
}

func TestClaimSlot(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService(t)
	ctx := context.Background()

	slot, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	claimed, err := svc.ClaimSlot(ctx, slot.ID, patientID)
	if err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	if claimed.Status != StatusBooked {
		t.Errorf("status = %s, want %s", claimed.Status, StatusBooked)
	}
	if claimed.PatientID == nil || *claimed.PatientID != patientID {
		t.Errorf("patient = %v, want %s", claimed.PatientID, patientID)
	}

	var sawClaim bool
	for _, ev := range repo.Events() {
		if ev.EventType == EventSlotClaimed && ev.SlotID != nil && *ev.SlotID == slot.ID {
			sawClaim = true
		}
	}
	if !sawClaim {
		t.Error("no SLOT_CLAIMED event recorded")
	}
}

func TestClaimSlot_NotFound(t *testing.T) {
	svc, _, _, patientID := newTestService(t)

	_, err := svc.ClaimSlot(context.Background(), uuid.New(), patientID)
	if !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("err = %v, want ErrSlotNotFound", err)
	}
}

func TestClaimSlot_UnknownPatient(t *testing.T) {
	svc, _, doctorID, _ := newTestService(t)
	ctx := context.Background()

	slot, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	_, err = svc.ClaimSlot(ctx, slot.ID, uuid.New())
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("err = %v, want ErrPatientNotFound", err)
	}
}

func TestClaimSlot_AlreadyBooked(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService(t)
	ctx := context.Background()

	rival := uuid.New()
	repo.AddPatient(Patient{ID: rival, Name: "Noor Haddad"})

	slot, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	if _, err := svc.ClaimSlot(ctx, slot.ID, patientID); err != nil {
		t.Fatalf("first ClaimSlot: %v", err)
	}

	_, err = svc.ClaimSlot(ctx, slot.ID, rival)
	if !errors.Is(err, ErrAlreadyBooked) {
		t.Fatalf("second claim err = %v, want ErrAlreadyBooked", err)
	}

	got, err := svc.GetSlot(ctx, slot.ID)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if got.PatientID == nil || *got.PatientID != patientID {
		t.Errorf("patient = %v, want original claimant %s", got.PatientID, patientID)
	}
}

func TestClaimSlot_ConcurrentClaimants(t *testing.T) {
	svc, repo, doctorID, _ := newTestService(t)
	ctx := context.Background()

	slot, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	const claimants = 32
	patients := make([]uuid.UUID, claimants)
	for i := range patients {
		patients[i] = uuid.New()
		repo.AddPatient(Patient{ID: patients[i], Name: "Racer"})
	}

	var wg sync.WaitGroup
	errs := make([]error, claimants)

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ClaimSlot(ctx, slot.ID, patients[i])
		}(i)
	}
	wg.Wait()

	var wins, losses int
	var winner uuid.UUID
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
			winner = patients[i]
		case errors.Is(err, ErrAlreadyBooked):
			losses++
		default:
			t.Errorf("claimant %d got unexpected error %v", i, err)
		}
	}

	if wins != 1 {
		t.Fatalf("%d claims succeeded, want exactly 1", wins)
	}
	if losses != claimants-1 {
		t.Fatalf("%d claims lost, want %d", losses, claimants-1)
	}

	got, err := svc.GetSlot(ctx, slot.ID)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if got.Status != StatusBooked {
		t.Errorf("final status = %s, want %s", got.Status, StatusBooked)
	}
	if got.PatientID == nil || *got.PatientID != winner {
		t.Errorf("final patient = %v, want winner %s", got.PatientID, winner)
	}
}

func TestCreateSlot_ConcurrentSameInterval(t *testing.T) {
	svc, _, doctorID, _ := newTestService(t)
	ctx := context.Background()

	const writers = 16

	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30))
		}(i)
	}
	wg.Wait()

	var wins int
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrOverlap):
		default:
			t.Errorf("writer %d got unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d creates succeeded, want exactly 1", wins)
	}

	slots, err := svc.ListAvailableSlots(ctx, doctorID, ts(0, 0), ts(23, 59))
	if err != nil {
		t.Fatalf("ListAvailableSlots: %v", err)
	}
	if len(slots) != 1 {
		t.Errorf("ledger holds %d slots, want 1", len(slots))
	}
}

func TestCancelSlot(t *testing.T) {
	svc, _, doctorID, patientID := newTestService(t)
	ctx := context.Background()
	actor := uuid.New()

	t.Run("from available", func(t *testing.T) {
		slot, err := svc.CreateSlot(ctx, doctorID, ts(9, 0), ts(9, 30))
		if err != nil {
			t.Fatalf("CreateSlot: %v", err)
		}

		canceled, err := svc.CancelSlot(ctx, slot.ID, actor)
		if err != nil {
			t.Fatalf("CancelSlot: %v", err)
		}
		if canceled.Status != StatusCanceled {
			t.Errorf("status = %s, want %s", canceled.Status, StatusCanceled)
		}
	})

	t.Run("from booked clears patient", func(t *testing.T) {
		slot, err := svc.CreateSlot(ctx, doctorID, ts(11, 0), ts(11, 30))
		if err != nil {
			t.Fatalf("CreateSlot: %v", err)
		}
		if _, err := svc.ClaimSlot(ctx, slot.ID, patientID); err != nil {
			t.Fatalf("ClaimSlot: %v", err)
		}

		canceled, err := svc.CancelSlot(ctx, slot.ID, actor)
		if err != nil {
			t.Fatalf("CancelSlot: %v", err)
		}
		if canceled.PatientID != nil {
			t.Errorf("canceled slot keeps patient %s", canceled.PatientID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.CancelSlot(ctx, uuid.New(), actor)
		if !errors.Is(err, ErrSlotNotFound) {
			t.Fatalf("err = %v, want ErrSlotNotFound", err)
		}
	})
}

func TestCancelSlot_ReleasesInterval(t *testing.T) {
	svc, _, doctorID, _ := newTestService(t)
	ctx := context.Background()

	slot, err := svc.CreateSlot(ctx, doctorID, ts(9, 0), ts(9, 30))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if _, err := svc.CancelSlot(ctx, slot.ID, uuid.New()); err != nil {
		t.Fatalf("CancelSlot: %v", err)
	}

	// The canceled slot no longer counts toward the overlap check.
	if _, err := svc.CreateSlot(ctx, doctorID, ts(9, 0), ts(9, 30)); err != nil {
		t.Fatalf("recreate after cancel: %v", err)
	}
}

func TestCompleteSlot(t *testing.T) {
	svc, _, doctorID, patientID := newTestService(t)
	ctx := context.Background()

	slot, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	// Available slots cannot complete.
	if _, err := svc.CompleteSlot(ctx, slot.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete available err = %v, want ErrInvalidTransition", err)
	}

	if _, err := svc.ClaimSlot(ctx, slot.ID, patientID); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	completed, err := svc.CompleteSlot(ctx, slot.ID)
	if err != nil {
		t.Fatalf("CompleteSlot: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", completed.Status, StatusCompleted)
	}
	if completed.PatientID == nil || *completed.PatientID != patientID {
		t.Errorf("completed slot lost patient, got %v", completed.PatientID)
	}
}

func TestTerminalStatesStayTerminal(t *testing.T) {
	svc, _, doctorID, patientID := newTestService(t)
	ctx := context.Background()
	actor := uuid.New()

	completed, err := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if _, err := svc.ClaimSlot(ctx, completed.ID, patientID); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	if _, err := svc.CompleteSlot(ctx, completed.ID); err != nil {
		t.Fatalf("CompleteSlot: %v", err)
	}

	canceled, err := svc.CreateSlot(ctx, doctorID, ts(11, 0), ts(11, 30))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if _, err := svc.CancelSlot(ctx, canceled.ID, actor); err != nil {
		t.Fatalf("CancelSlot: %v", err)
	}

	if _, err := svc.CancelSlot(ctx, completed.ID, actor); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel completed err = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.CompleteSlot(ctx, canceled.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete canceled err = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.CancelSlot(ctx, canceled.ID, actor); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel canceled err = %v, want ErrInvalidTransition", err)
	}
}

func TestListAvailableSlots(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService(t)
	ctx := context.Background()

	// Create out of order; listing must come back start ascending.
	third, _ := svc.CreateSlot(ctx, doctorID, ts(14, 0), ts(14, 30))
	first, _ := svc.CreateSlot(ctx, doctorID, ts(9, 0), ts(9, 30))
	second, _ := svc.CreateSlot(ctx, doctorID, ts(11, 0), ts(11, 30))
	booked, _ := svc.CreateSlot(ctx, doctorID, ts(15, 0), ts(15, 30))

	if _, err := svc.ClaimSlot(ctx, booked.ID, patientID); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	// A slot for another doctor must not appear.
	other := uuid.New()
	repo.AddDoctor(Doctor{ID: other, Name: "Dr. Lindqvist"})
	if _, err := svc.CreateSlot(ctx, other, ts(9, 0), ts(9, 30)); err != nil {
		t.Fatalf("CreateSlot other doctor: %v", err)
	}

	slots, err := svc.ListAvailableSlots(ctx, doctorID, ts(0, 0), ts(23, 59))
	if err != nil {
		t.Fatalf("ListAvailableSlots: %v", err)
	}

	want := []uuid.UUID{first.ID, second.ID, third.ID}
	if len(slots) != len(want) {
		t.Fatalf("got %d slots, want %d", len(slots), len(want))
	}
	for i, id := range want {
		if slots[i].ID != id {
			t.Errorf("slots[%d] = %s, want %s", i, slots[i].ID, id)
		}
	}

	_, err = svc.ListAvailableSlots(ctx, doctorID, ts(12, 0), ts(11, 0))
	if !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("reversed range err = %v, want ErrInvalidInterval", err)
	}
}

func TestSweep(t *testing.T) {
	svc, _, doctorID, patientID := newTestService(t)
	ctx := context.Background()

	stale, _ := svc.CreateSlot(ctx, doctorID, ts(9, 0), ts(9, 30))
	elapsed, _ := svc.CreateSlot(ctx, doctorID, ts(10, 0), ts(10, 30))
	upcoming, _ := svc.CreateSlot(ctx, doctorID, ts(12, 0), ts(12, 30))

	if _, err := svc.ClaimSlot(ctx, elapsed.ID, patientID); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	svc.WithClock(func() time.Time { return ts(11, 0) })

	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	assertStatus := func(id uuid.UUID, want SlotStatus) {
		t.Helper()
		got, err := svc.GetSlot(ctx, id)
		if err != nil {
			t.Fatalf("GetSlot: %v", err)
		}
		if got.Status != want {
			t.Errorf("slot %s status = %s, want %s", id, got.Status, want)
		}
	}

	assertStatus(stale.ID, StatusCanceled)
	assertStatus(elapsed.ID, StatusCompleted)
	assertStatus(upcoming.ID, StatusAvailable)
}
