package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/healthbridge/slot-ledger/internal/ledger"
)

// defaultListWindow bounds a listing request that omits from/to.
const defaultListWindow = 14 * 24 * time.Hour

func createSlotHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		slot, err := svc.CreateSlot(r.Context(), doctorID, req.StartTime, req.EndTime)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func listSlotsHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		from, ok := parseTimeParam(r, "from", time.Now())
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
			return
		}
		to, ok := parseTimeParam(r, "to", from.Add(defaultListWindow))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
			return
		}

		slots, err := svc.ListAvailableSlots(r.Context(), doctorID, from, to)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		resp := SlotListResponse{Slots: make([]SlotResponse, 0, len(slots))}
		for i := range slots {
			resp.Slots = append(resp.Slots, toSlotResponse(&slots[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getSlotHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := slotIDFromURL(w, r)
		if !ok {
			return
		}

		slot, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func claimSlotHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := slotIDFromURL(w, r)
		if !ok {
			return
		}

		var req ClaimSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		slot, err := svc.ClaimSlot(r.Context(), id, patientID)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func cancelSlotHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := slotIDFromURL(w, r)
		if !ok {
			return
		}

		var req CancelSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actorID, err := uuid.Parse(req.ActorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor_id", "actor_id must be a valid UUID")
			return
		}

		slot, err := svc.CancelSlot(r.Context(), id, actorID)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func completeSlotHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := slotIDFromURL(w, r)
		if !ok {
			return
		}

		slot, err := svc.CompleteSlot(r.Context(), id)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func slotIDFromURL(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseTimeParam(r *http.Request, key string, def time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func handleLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, ledger.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, ledger.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, ledger.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, ledger.ErrOverlap):
		writeError(w, http.StatusConflict, "slot_overlap", err.Error())
	case errors.Is(err, ledger.ErrAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, ledger.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, ledger.ErrContentionTimeout):
		writeError(w, http.StatusConflict, "schedule_contended", "schedule is contended, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Details: details,
	})
}
