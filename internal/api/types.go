package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthbridge/slot-ledger/internal/ledger"
)

type CreateSlotRequest struct {
	DoctorID  string    `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type ClaimSlotRequest struct {
	PatientID string `json:"patient_id"`
}

type CancelSlotRequest struct {
	ActorID string `json:"actor_id"`
}

type SlotResponse struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	Date      string     `json:"date"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Status    string     `json:"status"`
	PatientID *uuid.UUID `json:"patient_id,omitempty"`
}

type SlotListResponse struct {
	Slots []SlotResponse `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s *ledger.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		Date:      s.Date.Format("2006-01-02"),
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Status:    string(s.Status),
		PatientID: s.PatientID,
	}
}
