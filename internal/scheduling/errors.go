package scheduling

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hackgods/specialist-scheduling/internal/interval"
)

var (
	ErrProgramNotFound     = errors.New("program not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrDayGroupNotFound    = errors.New("date has no generated slots")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

var (
	ErrInvalidRange       = interval.ErrInvalidRange
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	ErrAlreadyGenerated   = errors.New("slots already generated for program")
	ErrLocked             = errors.New("another request is working on this resource, please retry")
)

// Refinements of ErrInvalidTransition; errors.Is matches both the specific
// error and ErrInvalidTransition.
var (
	ErrSlotUnavailable = fmt.Errorf("%w: slot is not available", ErrInvalidTransition)
	ErrSlotBusy        = fmt.Errorf("%w: slot is occupied", ErrInvalidTransition)
	ErrDateClosed      = fmt.Errorf("%w: date is not open for booking", ErrSlotUnavailable)
	ErrProgramClosed   = fmt.Errorf("%w: program is finished or cancelled", ErrInvalidTransition)
	ErrHoldExpired     = fmt.Errorf("%w: pending hold has expired", ErrInvalidTransition)
)

// ConflictError lists the active appointments that overlap a proposed booking.
type ConflictError struct {
	Conflicts []Appointment
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, a := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s (%s-%s)", a.ID,
			a.Range.Start().Format("15:04"), a.Range.End().Format("15:04")))
	}
	return fmt.Sprintf("%s: overlaps appointment %s", ErrSchedulingConflict, strings.Join(parts, ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSchedulingConflict
}
