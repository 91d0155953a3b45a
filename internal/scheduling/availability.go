package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/metrics"
)

// SlotEvent describes a change in slot or day availability. Observers run
// inside the transaction that makes the change, so an observer error rolls it back.
type SlotEvent struct {
	Action         SlotAction
	OrganizationID uuid.UUID
	ProgramID      uuid.UUID
	SlotID         *uuid.UUID
	Date           time.Time
	From           string
	To             string
	Actor          Actor
	At             time.Time
}

type SlotObserver interface {
	SlotChanged(ctx context.Context, ev SlotEvent) error
}

// Availability owns slot and day group state. Every transition is validated
// against the locked row and then announced to the observers.
type Availability struct {
	repo      Repository
	observers []SlotObserver
	now       func() time.Time
}

func NewAvailability(repo Repository, observers ...SlotObserver) *Availability {
	return &Availability{
		repo:      repo,
		observers: observers,
		now:       time.Now,
	}
}

func (a *Availability) Subscribe(o SlotObserver) {
	a.observers = append(a.observers, o)
}

func (a *Availability) Open(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return a.transition(ctx, actor, slotID, ActionOpen)
}

// Occupy is the only way a slot becomes Occupied; at most one caller wins.
func (a *Availability) Occupy(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return a.transition(ctx, actor, slotID, ActionOccupy)
}

func (a *Availability) Release(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return a.transition(ctx, actor, slotID, ActionRelease)
}

func (a *Availability) Block(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return a.transition(ctx, actor, slotID, ActionBlock)
}

func (a *Availability) Unblock(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return a.transition(ctx, actor, slotID, ActionUnblock)
}

func (a *Availability) Close(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return a.transition(ctx, actor, slotID, ActionClose)
}

func (a *Availability) transition(ctx context.Context, actor Actor, slotID uuid.UUID, action SlotAction) (*Slot, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}

	var out *Slot
	err := a.repo.WithTx(ctx, func(ctx context.Context) error {
		ref, err := a.repo.GetSlot(ctx, actor.OrganizationID, slotID)
		if err != nil {
			return err
		}
		p, day, err := a.lockParents(ctx, actor.OrganizationID, ref.ProgramID, ref.Date)
		if err != nil {
			return err
		}
		slot, err := a.repo.LockSlot(ctx, actor.OrganizationID, slotID)
		if err != nil {
			return err
		}

		// opening and booking need a live program; retracting does not
		if p.Status.IsTerminal() && (action == ActionOpen || action == ActionOccupy || action == ActionUnblock) {
			return ErrProgramClosed
		}

		now := a.now()
		from := slot.State

		if action == ActionOccupy && slot.State == SlotAvailable && day != nil && day.State != DayAvailable {
			return ErrDateClosed
		}

		if err := slot.apply(action, actor.UserID, now); err != nil {
			return err
		}

		// a slot freed on a cancelled program or a closed date is not bookable again
		if action == ActionRelease && (p.Status.IsTerminal() || (day != nil && day.State != DayAvailable)) {
			if err := slot.apply(ActionClose, actor.UserID, now); err != nil {
				return err
			}
		}

		if action == ActionOpen && day != nil && day.State != DayAvailable {
			openDay(day, actor, now)
			if err := a.repo.UpdateDayGroup(ctx, day); err != nil {
				return fmt.Errorf("update day group: %w", err)
			}
		}

		if err := a.repo.UpdateSlot(ctx, slot); err != nil {
			return fmt.Errorf("update slot: %w", err)
		}

		err = logEvent(ctx, a.repo, slotEventType(action), eventRef{
			org: actor.OrganizationID, program: idPtr(slot.ProgramID), slot: idPtr(slot.ID), actor: actor,
		}, now, map[string]any{"from": from, "to": slot.State})
		if err != nil {
			return err
		}

		out = slot
		return a.notify(ctx, SlotEvent{
			Action:         action,
			OrganizationID: actor.OrganizationID,
			ProgramID:      slot.ProgramID,
			SlotID:         idPtr(slot.ID),
			Date:           slot.Date,
			From:           string(from),
			To:             string(slot.State),
			Actor:          actor,
			At:             now,
		})
	})

	metrics.RecordSlotTransition(string(action), transitionResult(err))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockParents takes the program and day group row locks in the order every
// writer uses: program, then day group, then slots. A missing day group is
// returned as nil.
func (a *Availability) lockParents(ctx context.Context, orgID, programID uuid.UUID, date time.Time) (*Program, *DaySlotGroup, error) {
	p, err := a.repo.LockProgram(ctx, orgID, programID)
	if err != nil {
		return nil, nil, err
	}
	day, err := a.repo.LockDayGroup(ctx, orgID, programID, date)
	if errors.Is(err, ErrDayGroupNotFound) {
		return p, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return p, day, nil
}

func openDay(day *DaySlotGroup, actor Actor, now time.Time) {
	day.State = DayAvailable
	day.OpenedBy = actor.userPtr()
	at := now
	day.OpenedAt = &at
	day.UpdatedAt = now
}

// OpenDate marks a program date open for booking. With includeSlots every
// Closed slot on that date is opened too. It returns the number of slots opened.
func (a *Availability) OpenDate(ctx context.Context, actor Actor, programID uuid.UUID, date time.Time, includeSlots bool) (int, error) {
	if err := actor.validate(); err != nil {
		return 0, err
	}
	date = interval.DateOf(date)

	opened := 0
	err := a.repo.WithTx(ctx, func(ctx context.Context) error {
		p, err := a.repo.LockProgram(ctx, actor.OrganizationID, programID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return ErrProgramClosed
		}

		day, err := a.repo.LockDayGroup(ctx, actor.OrganizationID, programID, date)
		if err != nil {
			return err
		}

		now := a.now()
		from := day.State
		if day.State != DayAvailable {
			openDay(day, actor, now)
			if err := a.repo.UpdateDayGroup(ctx, day); err != nil {
				return fmt.Errorf("update day group: %w", err)
			}
		}

		if includeSlots {
			slots, err := a.repo.LockSlotsForDate(ctx, actor.OrganizationID, programID, date)
			if err != nil {
				return err
			}
			for i := range slots {
				if slots[i].State != SlotClosed {
					continue
				}
				if err := slots[i].apply(ActionOpen, actor.UserID, now); err != nil {
					return err
				}
				if err := a.repo.UpdateSlot(ctx, &slots[i]); err != nil {
					return fmt.Errorf("update slot: %w", err)
				}
				opened++
			}
		}

		err = logEvent(ctx, a.repo, EventDateOpened, eventRef{
			org: actor.OrganizationID, program: idPtr(programID), actor: actor,
		}, now, map[string]any{"date": interval.FormatDate(date), "slots_opened": opened})
		if err != nil {
			return err
		}

		return a.notify(ctx, SlotEvent{
			Action:         ActionOpenDate,
			OrganizationID: actor.OrganizationID,
			ProgramID:      programID,
			Date:           date,
			From:           string(from),
			To:             string(DayAvailable),
			Actor:          actor,
			At:             now,
		})
	})

	metrics.RecordSlotTransition(string(ActionOpenDate), transitionResult(err))
	if err != nil {
		return 0, err
	}
	return opened, nil
}

// CloseDate closes a program date and retracts its Available slots. Occupied
// and Blocked slots keep their state. It returns the number of slots closed.
func (a *Availability) CloseDate(ctx context.Context, actor Actor, programID uuid.UUID, date time.Time) (int, error) {
	if err := actor.validate(); err != nil {
		return 0, err
	}
	date = interval.DateOf(date)

	closed := 0
	err := a.repo.WithTx(ctx, func(ctx context.Context) error {
		if _, err := a.repo.LockProgram(ctx, actor.OrganizationID, programID); err != nil {
			return err
		}
		day, err := a.repo.LockDayGroup(ctx, actor.OrganizationID, programID, date)
		if err != nil {
			return err
		}

		now := a.now()
		from := day.State
		if day.State != DayClosed {
			day.State = DayClosed
			day.UpdatedAt = now
			if err := a.repo.UpdateDayGroup(ctx, day); err != nil {
				return fmt.Errorf("update day group: %w", err)
			}
		}

		slots, err := a.repo.LockSlotsForDate(ctx, actor.OrganizationID, programID, date)
		if err != nil {
			return err
		}
		for i := range slots {
			if slots[i].State != SlotAvailable {
				continue
			}
			if err := slots[i].apply(ActionClose, actor.UserID, now); err != nil {
				return err
			}
			if err := a.repo.UpdateSlot(ctx, &slots[i]); err != nil {
				return fmt.Errorf("update slot: %w", err)
			}
			closed++
		}

		err = logEvent(ctx, a.repo, EventDateClosed, eventRef{
			org: actor.OrganizationID, program: idPtr(programID), actor: actor,
		}, now, map[string]any{"date": interval.FormatDate(date), "slots_closed": closed})
		if err != nil {
			return err
		}

		return a.notify(ctx, SlotEvent{
			Action:         ActionCloseDate,
			OrganizationID: actor.OrganizationID,
			ProgramID:      programID,
			Date:           date,
			From:           string(from),
			To:             string(DayClosed),
			Actor:          actor,
			At:             now,
		})
	})

	metrics.RecordSlotTransition(string(ActionCloseDate), transitionResult(err))
	if err != nil {
		return 0, err
	}
	return closed, nil
}

func (a *Availability) notify(ctx context.Context, ev SlotEvent) error {
	for _, o := range a.observers {
		if err := o.SlotChanged(ctx, ev); err != nil {
			return fmt.Errorf("notify %s observer: %w", ev.Action, err)
		}
	}
	return nil
}

func transitionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotBusy):
		return "busy"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrDayGroupNotFound), errors.Is(err, ErrProgramNotFound):
		return "not_found"
	default:
		return "error"
	}
}
