package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/scheduling"
)

// Requests

type CreateProgramRequest struct {
	SpecialistID        uuid.UUID          `json:"specialist_id"`
	BranchID            uuid.UUID          `json:"branch_id"`
	RoomID              *uuid.UUID         `json:"room_id,omitempty"`
	StartDate           string             `json:"start_date"`
	EndDate             string             `json:"end_date"`
	WindowStart         interval.TimeOfDay `json:"window_start"`
	WindowEnd           interval.TimeOfDay `json:"window_end"`
	SlotIntervalMinutes int                `json:"slot_interval_minutes"`
}

func (req CreateProgramRequest) spec() (scheduling.ProgramSpec, error) {
	start, err := interval.ParseDate(req.StartDate)
	if err != nil {
		return scheduling.ProgramSpec{}, err
	}
	end, err := interval.ParseDate(req.EndDate)
	if err != nil {
		return scheduling.ProgramSpec{}, err
	}
	return scheduling.ProgramSpec{
		SpecialistID:        req.SpecialistID,
		BranchID:            req.BranchID,
		RoomID:              req.RoomID,
		StartDate:           start,
		EndDate:             end,
		WindowStart:         req.WindowStart,
		WindowEnd:           req.WindowEnd,
		SlotIntervalMinutes: req.SlotIntervalMinutes,
	}, nil
}

type UpdateProgramRequest struct {
	StartDate           *string             `json:"start_date,omitempty"`
	EndDate             *string             `json:"end_date,omitempty"`
	WindowStart         *interval.TimeOfDay `json:"window_start,omitempty"`
	WindowEnd           *interval.TimeOfDay `json:"window_end,omitempty"`
	SlotIntervalMinutes *int                `json:"slot_interval_minutes,omitempty"`
	RoomID              *uuid.UUID          `json:"room_id,omitempty"`
}

func (req UpdateProgramRequest) update() (scheduling.ProgramUpdate, error) {
	upd := scheduling.ProgramUpdate{
		WindowStart:         req.WindowStart,
		WindowEnd:           req.WindowEnd,
		SlotIntervalMinutes: req.SlotIntervalMinutes,
		RoomID:              req.RoomID,
	}
	if req.StartDate != nil {
		d, err := interval.ParseDate(*req.StartDate)
		if err != nil {
			return upd, err
		}
		upd.StartDate = &d
	}
	if req.EndDate != nil {
		d, err := interval.ParseDate(*req.EndDate)
		if err != nil {
			return upd, err
		}
		upd.EndDate = &d
	}
	return upd, nil
}

type BookAppointmentRequest struct {
	SpecialistID *uuid.UUID          `json:"specialist_id,omitempty"`
	PatientID    uuid.UUID           `json:"patient_id"`
	BranchID     *uuid.UUID          `json:"branch_id,omitempty"`
	RoomID       *uuid.UUID          `json:"room_id,omitempty"`
	SlotID       *uuid.UUID          `json:"slot_id,omitempty"`
	Date         string              `json:"date,omitempty"`
	Start        *interval.TimeOfDay `json:"start,omitempty"`
	End          *interval.TimeOfDay `json:"end,omitempty"`
	Confirmed    bool                `json:"confirmed,omitempty"`
}

func (req BookAppointmentRequest) booking() (scheduling.BookingRequest, error) {
	out := scheduling.BookingRequest{
		PatientID: req.PatientID,
		RoomID:    req.RoomID,
		SlotID:    req.SlotID,
		Confirmed: req.Confirmed,
	}
	if req.SpecialistID != nil {
		out.SpecialistID = *req.SpecialistID
	}
	if req.BranchID != nil {
		out.BranchID = *req.BranchID
	}
	if req.Start != nil {
		out.Start = *req.Start
	}
	if req.End != nil {
		out.End = *req.End
	}
	if req.Date != "" {
		d, err := interval.ParseDate(req.Date)
		if err != nil {
			return out, err
		}
		out.Date = d
	}
	return out, nil
}

type RescheduleAppointmentRequest struct {
	SlotID *uuid.UUID          `json:"slot_id,omitempty"`
	Date   string              `json:"date,omitempty"`
	Start  *interval.TimeOfDay `json:"start,omitempty"`
	End    *interval.TimeOfDay `json:"end,omitempty"`
}

func (req RescheduleAppointmentRequest) reschedule() (scheduling.RescheduleRequest, error) {
	out := scheduling.RescheduleRequest{SlotID: req.SlotID}
	if req.Start != nil {
		out.Start = *req.Start
	}
	if req.End != nil {
		out.End = *req.End
	}
	if req.Date != "" {
		d, err := interval.ParseDate(req.Date)
		if err != nil {
			return out, err
		}
		out.Date = d
	}
	return out, nil
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Responses

type ProgramResponse struct {
	ID                  uuid.UUID          `json:"id"`
	OrganizationID      uuid.UUID          `json:"organization_id"`
	SpecialistID        uuid.UUID          `json:"specialist_id"`
	BranchID            uuid.UUID          `json:"branch_id"`
	RoomID              *uuid.UUID         `json:"room_id,omitempty"`
	StartDate           string             `json:"start_date"`
	EndDate             string             `json:"end_date"`
	WindowStart         interval.TimeOfDay `json:"window_start"`
	WindowEnd           interval.TimeOfDay `json:"window_end"`
	SlotIntervalMinutes int                `json:"slot_interval_minutes"`
	Status              string             `json:"status"`
	CreatedBy           uuid.UUID          `json:"created_by"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

func toProgramResponse(p *scheduling.Program) ProgramResponse {
	return ProgramResponse{
		ID:                  p.ID,
		OrganizationID:      p.OrganizationID,
		SpecialistID:        p.SpecialistID,
		BranchID:            p.BranchID,
		RoomID:              p.RoomID,
		StartDate:           interval.FormatDate(p.StartDate),
		EndDate:             interval.FormatDate(p.EndDate),
		WindowStart:         p.WindowStart,
		WindowEnd:           p.WindowEnd,
		SlotIntervalMinutes: p.SlotIntervalMinutes,
		Status:              string(p.Status),
		CreatedBy:           p.CreatedBy,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

type SlotResponse struct {
	ID           uuid.UUID          `json:"id"`
	ProgramID    uuid.UUID          `json:"program_id"`
	DayGroupID   *uuid.UUID         `json:"day_group_id,omitempty"`
	SpecialistID uuid.UUID          `json:"specialist_id"`
	Date         string             `json:"date"`
	Start        interval.TimeOfDay `json:"start"`
	End          interval.TimeOfDay `json:"end"`
	State        string             `json:"state"`
	BlockedFrom  string             `json:"blocked_from,omitempty"`
	OpenedBy     *uuid.UUID         `json:"opened_by,omitempty"`
	OpenedAt     *time.Time         `json:"opened_at,omitempty"`
}

func toSlotResponse(s *scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:           s.ID,
		ProgramID:    s.ProgramID,
		DayGroupID:   s.DayGroupID,
		SpecialistID: s.SpecialistID,
		Date:         interval.FormatDate(s.Date),
		Start:        s.Start,
		End:          s.End,
		State:        string(s.State),
		BlockedFrom:  string(s.BlockedFrom),
		OpenedBy:     s.OpenedBy,
		OpenedAt:     s.OpenedAt,
	}
}

func toSlotResponses(slots []scheduling.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for i := range slots {
		out = append(out, toSlotResponse(&slots[i]))
	}
	return out
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	SpecialistID       uuid.UUID  `json:"specialist_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	BranchID           uuid.UUID  `json:"branch_id"`
	RoomID             *uuid.UUID `json:"room_id,omitempty"`
	SlotID             *uuid.UUID `json:"slot_id,omitempty"`
	Date               string     `json:"date"`
	StartsAt           time.Time  `json:"starts_at"`
	EndsAt             time.Time  `json:"ends_at"`
	Status             string     `json:"status"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		SpecialistID:       a.SpecialistID,
		PatientID:          a.PatientID,
		BranchID:           a.BranchID,
		RoomID:             a.RoomID,
		SlotID:             a.SlotID,
		Date:               interval.FormatDate(a.Date),
		StartsAt:           a.Range.Start(),
		EndsAt:             a.Range.End(),
		Status:             string(a.Status),
		CancellationReason: a.CancellationReason,
		ExpiresAt:          a.ExpiresAt,
		CreatedAt:          a.CreatedAt,
	}
}

func toAppointmentResponses(list []scheduling.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	return out
}

type GenerateResponse struct {
	ProgramID uuid.UUID `json:"program_id"`
	Created   int       `json:"created"`
}

type DateResponse struct {
	ProgramID uuid.UUID `json:"program_id"`
	Date      string    `json:"date"`
	Slots     int       `json:"slots"`
}

type AvailabilityResponse struct {
	Available bool                  `json:"available"`
	Conflicts []AppointmentResponse `json:"conflicts"`
}

type ErrorResponse struct {
	Error     string                `json:"error"`
	Details   string                `json:"details,omitempty"`
	Conflicts []AppointmentResponse `json:"conflicts,omitempty"`
}
