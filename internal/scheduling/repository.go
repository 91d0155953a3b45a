package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the scheduling components.
// Every query is scoped by organization. Lock* methods take a row lock that is
// held until the surrounding WithTx returns. Writers lock in one order:
// specialist day, appointment, program, day group, slot.
type Repository interface {
	// WithTx runs fn in one transaction carried by ctx. Nested calls join the outer one.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Programs
	CreateProgram(ctx context.Context, p *Program) error
	GetProgram(ctx context.Context, orgID, id uuid.UUID) (*Program, error)
	LockProgram(ctx context.Context, orgID, id uuid.UUID) (*Program, error)
	UpdateProgram(ctx context.Context, p *Program) error
	ListPrograms(ctx context.Context, orgID uuid.UUID, f ProgramFilter) ([]Program, error)
	// SoftDeleteProgram marks the program, its day groups and its slots deleted.
	SoftDeleteProgram(ctx context.Context, orgID, id uuid.UUID, at time.Time) error

	// Day groups
	InsertDayGroups(ctx context.Context, groups []DaySlotGroup) error
	LockDayGroup(ctx context.Context, orgID, programID uuid.UUID, date time.Time) (*DaySlotGroup, error)
	GetDayGroup(ctx context.Context, orgID, programID uuid.UUID, date time.Time) (*DaySlotGroup, error)
	UpdateDayGroup(ctx context.Context, g *DaySlotGroup) error
	ListDayGroups(ctx context.Context, orgID, programID uuid.UUID) ([]DaySlotGroup, error)
	CloseDayGroups(ctx context.Context, orgID, programID uuid.UUID, at time.Time) (int, error)
	// DiscardEmptyDayGroups soft-deletes day groups dated outside [start, end] that have no live slots.
	DiscardEmptyDayGroups(ctx context.Context, orgID, programID uuid.UUID, start, end, at time.Time) (int, error)
	CountDayStates(ctx context.Context, orgID, programID uuid.UUID) (map[DayState]int, error)

	// Slots
	InsertSlots(ctx context.Context, slots []Slot) error
	CountSlots(ctx context.Context, orgID, programID uuid.UUID) (int, error)
	GetSlot(ctx context.Context, orgID, id uuid.UUID) (*Slot, error)
	LockSlot(ctx context.Context, orgID, id uuid.UUID) (*Slot, error)
	LockSlotsForDate(ctx context.Context, orgID, programID uuid.UUID, date time.Time) ([]Slot, error)
	UpdateSlot(ctx context.Context, s *Slot) error
	ListSlots(ctx context.Context, orgID uuid.UUID, f SlotFilter) ([]Slot, error)
	CountSlotStates(ctx context.Context, orgID, programID uuid.UUID) (map[SlotState]int, error)
	// CloseUnoccupiedSlots forces every non-Occupied slot of the program to Closed.
	CloseUnoccupiedSlots(ctx context.Context, orgID, programID uuid.UUID, at time.Time) (int, error)
	// DiscardUnopenedSlots soft-deletes Closed slots that were never opened, dated on or after from.
	DiscardUnopenedSlots(ctx context.Context, orgID, programID uuid.UUID, from, at time.Time) (int, error)

	// Appointments
	LockSpecialistDay(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time) error
	ListActiveAppointments(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error)
	LockAppointment(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) error
	ListAppointments(ctx context.Context, orgID uuid.UUID, f AppointmentFilter) ([]Appointment, error)
	// FindExpiredPending works across organizations; it feeds the expiry worker.
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	// Event outbox
	InsertEvent(ctx context.Context, ev EventLog) error
}
