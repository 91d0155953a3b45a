package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/scheduling"
)

// Service is the part of *scheduling.Service the HTTP layer calls.
type Service interface {
	CreateProgram(ctx context.Context, actor scheduling.Actor, spec scheduling.ProgramSpec) (*scheduling.Program, error)
	GetProgram(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Program, error)
	ListPrograms(ctx context.Context, orgID uuid.UUID, f scheduling.ProgramFilter) ([]scheduling.Program, error)
	UpdateProgram(ctx context.Context, actor scheduling.Actor, id uuid.UUID, upd scheduling.ProgramUpdate) (*scheduling.Program, error)
	DeleteProgram(ctx context.Context, actor scheduling.Actor, id uuid.UUID) error
	GenerateSlots(ctx context.Context, actor scheduling.Actor, programID uuid.UUID, regenerate bool) (int, error)
	FinishProgram(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Program, error)
	CancelProgram(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Program, error)

	OpenDate(ctx context.Context, actor scheduling.Actor, programID uuid.UUID, date time.Time, includeSlots bool) (int, error)
	CloseDate(ctx context.Context, actor scheduling.Actor, programID uuid.UUID, date time.Time) (int, error)
	GetSlot(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Slot, error)
	ListSlots(ctx context.Context, orgID uuid.UUID, f scheduling.SlotFilter) ([]scheduling.Slot, error)
	GetAvailableSlots(ctx context.Context, orgID, programID uuid.UUID, date time.Time) ([]scheduling.Slot, error)
	OpenSlot(ctx context.Context, actor scheduling.Actor, slotID uuid.UUID) (*scheduling.Slot, error)
	CloseSlot(ctx context.Context, actor scheduling.Actor, slotID uuid.UUID) (*scheduling.Slot, error)
	BlockSlot(ctx context.Context, actor scheduling.Actor, slotID uuid.UUID) (*scheduling.Slot, error)
	UnblockSlot(ctx context.Context, actor scheduling.Actor, slotID uuid.UUID) (*scheduling.Slot, error)
	CheckAvailability(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time, start, end interval.TimeOfDay) (*scheduling.AvailabilityResult, error)

	BookAppointment(ctx context.Context, actor scheduling.Actor, req scheduling.BookingRequest) (*scheduling.Appointment, error)
	GetAppointment(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Appointment, error)
	ListAppointments(ctx context.Context, orgID uuid.UUID, f scheduling.AppointmentFilter) ([]scheduling.Appointment, error)
	CancelAppointment(ctx context.Context, actor scheduling.Actor, id uuid.UUID, reason string) (*scheduling.Appointment, error)
	RescheduleAppointment(ctx context.Context, actor scheduling.Actor, id uuid.UUID, req scheduling.RescheduleRequest) (*scheduling.Appointment, error)
	AdvanceAppointment(ctx context.Context, actor scheduling.Actor, id uuid.UUID, to scheduling.AppointmentStatus) (*scheduling.Appointment, error)
}

var _ Service = (*scheduling.Service)(nil)

type handlers struct {
	svc Service
	dev bool
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, err, h.dev)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return nil, false
	}
	return &id, true
}

func optionalDate(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	d, err := interval.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, err.Error())
		return nil, false
	}
	return &d, true
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// Programs

func (h *handlers) createProgram(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req CreateProgramRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	spec, err := req.spec()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.svc.CreateProgram(r.Context(), actor, spec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProgramResponse(p))
}

func (h *handlers) listPrograms(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	specialist, ok := optionalUUID(w, r, "specialist_id")
	if !ok {
		return
	}
	f := scheduling.ProgramFilter{
		SpecialistID: specialist,
		Status:       scheduling.ProgramStatus(r.URL.Query().Get("status")),
	}
	f.Limit, f.Offset = pageParams(r)

	programs, err := h.svc.ListPrograms(r.Context(), actor.OrganizationID, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ProgramResponse, 0, len(programs))
	for i := range programs {
		out = append(out, toProgramResponse(&programs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getProgram(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.GetProgram(r.Context(), actor.OrganizationID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramResponse(p))
}

func (h *handlers) updateProgram(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req UpdateProgramRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	upd, err := req.update()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.svc.UpdateProgram(r.Context(), actor, id, upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramResponse(p))
}

func (h *handlers) deleteProgram(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteProgram(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) generateSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	regenerate, _ := strconv.ParseBool(r.URL.Query().Get("regenerate"))

	n, err := h.svc.GenerateSlots(r.Context(), actor, id, regenerate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, GenerateResponse{ProgramID: id, Created: n})
}

func (h *handlers) programAction(action func(context.Context, scheduling.Actor, uuid.UUID) (*scheduling.Program, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustActor(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		p, err := action(r.Context(), actor, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProgramResponse(p))
	}
}

// Dates and slots

func (h *handlers) dateParams(w http.ResponseWriter, r *http.Request) (scheduling.Actor, uuid.UUID, time.Time, bool) {
	actor, ok := mustActor(w, r)
	if !ok {
		return actor, uuid.Nil, time.Time{}, false
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return actor, uuid.Nil, time.Time{}, false
	}
	date, err := interval.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return actor, uuid.Nil, time.Time{}, false
	}
	return actor, id, date, true
}

func (h *handlers) openDate(w http.ResponseWriter, r *http.Request) {
	actor, id, date, ok := h.dateParams(w, r)
	if !ok {
		return
	}
	includeSlots, _ := strconv.ParseBool(r.URL.Query().Get("include_slots"))

	n, err := h.svc.OpenDate(r.Context(), actor, id, date, includeSlots)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DateResponse{ProgramID: id, Date: interval.FormatDate(date), Slots: n})
}

func (h *handlers) closeDate(w http.ResponseWriter, r *http.Request) {
	actor, id, date, ok := h.dateParams(w, r)
	if !ok {
		return
	}
	n, err := h.svc.CloseDate(r.Context(), actor, id, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DateResponse{ProgramID: id, Date: interval.FormatDate(date), Slots: n})
}

func (h *handlers) getSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	slot, err := h.svc.GetSlot(r.Context(), actor.OrganizationID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(slot))
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	date, ok := optionalDate(w, r, "date")
	if !ok {
		return
	}
	state := scheduling.SlotState(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_state", "unknown slot state "+string(state))
		return
	}

	slots, err := h.svc.ListSlots(r.Context(), actor.OrganizationID, scheduling.SlotFilter{ProgramID: id, Date: date, State: state})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponses(slots))
}

func (h *handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	date, ok := optionalDate(w, r, "date")
	if !ok {
		return
	}
	if date == nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date is required")
		return
	}

	slots, err := h.svc.GetAvailableSlots(r.Context(), actor.OrganizationID, id, *date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponses(slots))
}

func (h *handlers) slotAction(action func(context.Context, scheduling.Actor, uuid.UUID) (*scheduling.Slot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustActor(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		s, err := action(r.Context(), actor, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(s))
	}
}

func (h *handlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	specialist, err := uuid.Parse(q.Get("specialist_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_specialist_id", "specialist_id must be a valid UUID")
		return
	}
	date, err := interval.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	start, err := interval.ParseTimeOfDay(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", err.Error())
		return
	}
	end, err := interval.ParseTimeOfDay(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end", err.Error())
		return
	}

	res, err := h.svc.CheckAvailability(r.Context(), actor.OrganizationID, specialist, date, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{
		Available: res.Available,
		Conflicts: toAppointmentResponses(res.Conflicts),
	})
}

// Appointments

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req BookAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	booking, err := req.booking()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	a, err := h.svc.BookAppointment(r.Context(), actor, booking)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(a))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var f scheduling.AppointmentFilter
	if f.SpecialistID, ok = optionalUUID(w, r, "specialist_id"); !ok {
		return
	}
	if f.PatientID, ok = optionalUUID(w, r, "patient_id"); !ok {
		return
	}
	if f.Date, ok = optionalDate(w, r, "date"); !ok {
		return
	}
	f.Status = scheduling.AppointmentStatus(r.URL.Query().Get("status"))
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown appointment status "+string(f.Status))
		return
	}
	f.Limit, f.Offset = pageParams(r)

	list, err := h.svc.ListAppointments(r.Context(), actor.OrganizationID, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(list))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	a, err := h.svc.GetAppointment(r.Context(), actor.OrganizationID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req CancelAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	a, err := h.svc.CancelAppointment(r.Context(), actor, id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req RescheduleAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	resched, err := req.reschedule()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	a, err := h.svc.RescheduleAppointment(r.Context(), actor, id, resched)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *handlers) advanceAppointment(to scheduling.AppointmentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustActor(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		a, err := h.svc.AdvanceAppointment(r.Context(), actor, id, to)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(a))
	}
}
