package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SlotAction string

const (
	ActionOpen    SlotAction = "open"
	ActionOccupy  SlotAction = "occupy"
	ActionRelease SlotAction = "release"
	ActionBlock   SlotAction = "block"
	ActionUnblock SlotAction = "unblock"
	ActionClose   SlotAction = "close"

	// day group actions, only seen by observers
	ActionOpenDate  SlotAction = "open_date"
	ActionCloseDate SlotAction = "close_date"
)

// apply moves s through action or returns why it cannot. s is left untouched on error.
func (s *Slot) apply(action SlotAction, actor uuid.UUID, now time.Time) error {
	switch action {
	case ActionOpen:
		if s.State != SlotClosed {
			return fmt.Errorf("%w: cannot open slot in state %s", ErrInvalidTransition, s.State)
		}
		s.State = SlotAvailable
		if actor != uuid.Nil {
			by := actor
			s.OpenedBy = &by
		}
		at := now
		s.OpenedAt = &at

	case ActionOccupy:
		if s.State != SlotAvailable {
			return fmt.Errorf("%w (state %s)", ErrSlotUnavailable, s.State)
		}
		s.State = SlotOccupied

	case ActionRelease:
		if s.State != SlotOccupied {
			return fmt.Errorf("%w: cannot release slot in state %s", ErrInvalidTransition, s.State)
		}
		s.State = SlotAvailable

	case ActionBlock:
		switch s.State {
		case SlotOccupied:
			return ErrSlotBusy
		case SlotBlocked:
			return fmt.Errorf("%w: slot is already blocked", ErrInvalidTransition)
		}
		s.BlockedFrom = s.State
		s.State = SlotBlocked

	case ActionUnblock:
		if s.State != SlotBlocked {
			return fmt.Errorf("%w: cannot unblock slot in state %s", ErrInvalidTransition, s.State)
		}
		s.State = s.BlockedFrom
		if s.State == "" {
			s.State = SlotClosed
		}
		s.BlockedFrom = ""

	case ActionClose:
		if s.State == SlotOccupied {
			return ErrSlotBusy
		}
		s.State = SlotClosed
		s.BlockedFrom = ""

	default:
		return fmt.Errorf("%w: unknown slot action %q", ErrInvalidInput, action)
	}

	s.UpdatedAt = now
	return nil
}
