package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/specialist-scheduling/internal/interval"
)

type ProgramStatus string

const (
	ProgramScheduled      ProgramStatus = "scheduled"
	ProgramAuthorizeHours ProgramStatus = "authorize_hours"
	ProgramActive         ProgramStatus = "active"
	ProgramFinished       ProgramStatus = "finished"
	ProgramCancelled      ProgramStatus = "cancelled"
)

// IsTerminal reports whether the program no longer accepts slot changes or bookings.
func (s ProgramStatus) IsTerminal() bool {
	return s == ProgramFinished || s == ProgramCancelled
}

type SlotState string

const (
	SlotClosed    SlotState = "closed"
	SlotAvailable SlotState = "available"
	SlotReserved  SlotState = "reserved"
	SlotOccupied  SlotState = "occupied"
	SlotBlocked   SlotState = "blocked"
)

func (s SlotState) Valid() bool {
	switch s {
	case SlotClosed, SlotAvailable, SlotReserved, SlotOccupied, SlotBlocked:
		return true
	}
	return false
}

type DayState string

const (
	DayAvailable DayState = "available"
	DayClosed    DayState = "closed"
)

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// ActiveStatuses are the statuses that hold the specialist's time.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed, StatusInProgress}

func (s AppointmentStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Actor is the operator performing a call and the organization every query is scoped to.
type Actor struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
}

// SystemActor is used for changes not initiated by a person, such as hold expiry.
func SystemActor(orgID uuid.UUID) Actor {
	return Actor{UserID: uuid.Nil, OrganizationID: orgID}
}

func (a Actor) validate() error {
	if a.OrganizationID == uuid.Nil {
		return fmt.Errorf("%w: organization is required", ErrInvalidInput)
	}
	return nil
}

func (a Actor) userPtr() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

type Program struct {
	ID                  uuid.UUID
	OrganizationID      uuid.UUID
	SpecialistID        uuid.UUID
	BranchID            uuid.UUID
	RoomID              *uuid.UUID
	StartDate           time.Time // calendar date, UTC midnight
	EndDate             time.Time // calendar date, inclusive
	WindowStart         interval.TimeOfDay
	WindowEnd           interval.TimeOfDay
	SlotIntervalMinutes int
	Status              ProgramStatus
	CreatedBy           uuid.UUID
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// Window returns the daily window placed on date.
func (p Program) Window(date time.Time, loc *time.Location) (interval.TimeRange, error) {
	return interval.OnDate(date, p.WindowStart, p.WindowEnd, loc)
}

// ProgramSpec is the operator input for a new program.
type ProgramSpec struct {
	SpecialistID        uuid.UUID
	BranchID            uuid.UUID
	RoomID              *uuid.UUID
	StartDate           time.Time
	EndDate             time.Time
	WindowStart         interval.TimeOfDay
	WindowEnd           interval.TimeOfDay
	SlotIntervalMinutes int
}

func (s ProgramSpec) Validate() error {
	if s.SpecialistID == uuid.Nil {
		return fmt.Errorf("%w: specialist_id is required", ErrInvalidInput)
	}
	if s.BranchID == uuid.Nil {
		return fmt.Errorf("%w: branch_id is required", ErrInvalidInput)
	}
	return validateShape(s.StartDate, s.EndDate, s.WindowStart, s.WindowEnd, s.SlotIntervalMinutes)
}

func validateShape(start, end time.Time, ws, we interval.TimeOfDay, minutes int) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start_date and end_date are required", ErrInvalidRange)
	}
	if interval.DateOf(start).After(interval.DateOf(end)) {
		return fmt.Errorf("%w: start_date %s is after end_date %s",
			ErrInvalidRange, interval.FormatDate(start), interval.FormatDate(end))
	}
	if ws < 0 || we > interval.MinutesPerDay || ws >= we {
		return fmt.Errorf("%w: daily window %s-%s", ErrInvalidRange, ws, we)
	}
	if minutes <= 0 {
		return fmt.Errorf("%w: slot_interval_minutes must be positive", ErrInvalidRange)
	}
	if int(we-ws) < minutes {
		return fmt.Errorf("%w: daily window %s-%s is shorter than the %d minute interval",
			ErrInvalidRange, ws, we, minutes)
	}
	return nil
}

// ProgramUpdate carries optional changes to a program's shape. Existing slots
// are not touched; call GenerateSlots with regenerate to apply them.
type ProgramUpdate struct {
	StartDate           *time.Time
	EndDate             *time.Time
	WindowStart         *interval.TimeOfDay
	WindowEnd           *interval.TimeOfDay
	SlotIntervalMinutes *int
	RoomID              *uuid.UUID
}

func (u ProgramUpdate) apply(p *Program) error {
	next := *p
	if u.StartDate != nil {
		next.StartDate = interval.DateOf(*u.StartDate)
	}
	if u.EndDate != nil {
		next.EndDate = interval.DateOf(*u.EndDate)
	}
	if u.WindowStart != nil {
		next.WindowStart = *u.WindowStart
	}
	if u.WindowEnd != nil {
		next.WindowEnd = *u.WindowEnd
	}
	if u.SlotIntervalMinutes != nil {
		next.SlotIntervalMinutes = *u.SlotIntervalMinutes
	}
	if u.RoomID != nil {
		room := *u.RoomID
		next.RoomID = &room
	}
	if err := validateShape(next.StartDate, next.EndDate, next.WindowStart, next.WindowEnd, next.SlotIntervalMinutes); err != nil {
		return err
	}
	*p = next
	return nil
}

// DaySlotGroup gates a whole program date: slots on a Closed day cannot be booked.
type DaySlotGroup struct {
	ID             uuid.UUID
	ProgramID      uuid.UUID
	OrganizationID uuid.UUID
	Date           time.Time
	State          DayState
	OpenedBy       *uuid.UUID
	OpenedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Slot struct {
	ID             uuid.UUID
	ProgramID      uuid.UUID
	DayGroupID     *uuid.UUID
	OrganizationID uuid.UUID
	SpecialistID   uuid.UUID
	Date           time.Time
	Start          interval.TimeOfDay
	End            interval.TimeOfDay
	State          SlotState
	BlockedFrom    SlotState // state to restore on unblock, empty unless Blocked
	OpenedBy       *uuid.UUID
	OpenedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (s Slot) Range(loc *time.Location) (interval.TimeRange, error) {
	return interval.OnDate(s.Date, s.Start, s.End, loc)
}

type Appointment struct {
	ID                 uuid.UUID
	OrganizationID     uuid.UUID
	SpecialistID       uuid.UUID
	PatientID          uuid.UUID
	BranchID           uuid.UUID
	RoomID             *uuid.UUID
	SlotID             *uuid.UUID
	Date               time.Time
	Range              interval.TimeRange
	Status             AppointmentStatus
	CancellationReason string
	CreatedBy          uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ExpiresAt          *time.Time
}

type EventLog struct {
	ID             int64
	EventType      string
	OrganizationID uuid.UUID
	ProgramID      *uuid.UUID
	SlotID         *uuid.UUID
	AppointmentID  *uuid.UUID
	ActorID        *uuid.UUID
	Payload        []byte
	CreatedAt      time.Time
}

type ProgramFilter struct {
	SpecialistID *uuid.UUID
	Status       ProgramStatus
	Limit        int
	Offset       int
}

type SlotFilter struct {
	ProgramID uuid.UUID
	Date      *time.Time
	State     SlotState
}

type AppointmentFilter struct {
	SpecialistID *uuid.UUID
	PatientID    *uuid.UUID
	SlotID       *uuid.UUID
	Date         *time.Time
	Status       AppointmentStatus
	Limit        int
	Offset       int
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
