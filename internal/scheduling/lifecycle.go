package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/metrics"
)

// DeriveStatus computes the status a non-terminal program should have given
// its slot and day group state counts.
func DeriveStatus(slots map[SlotState]int, days map[DayState]int) ProgramStatus {
	switch {
	case slots[SlotAvailable]+slots[SlotOccupied] > 0:
		return ProgramActive
	case days[DayAvailable] > 0:
		return ProgramAuthorizeHours
	default:
		return ProgramScheduled
	}
}

// Lifecycle keeps Program.status in step with its slots. It observes the
// Availability store and owns the explicit Finish and Cancel actions.
type Lifecycle struct {
	repo Repository
	loc  *time.Location
	log  zerolog.Logger
	now  func() time.Time
}

func NewLifecycle(repo Repository, loc *time.Location, logger zerolog.Logger) *Lifecycle {
	if loc == nil {
		loc = time.UTC
	}
	return &Lifecycle{
		repo: repo,
		loc:  loc,
		log:  logger.With().Str("component", "lifecycle").Logger(),
		now:  time.Now,
	}
}

func (l *Lifecycle) SlotChanged(ctx context.Context, ev SlotEvent) error {
	_, err := l.Evaluate(ctx, ev.Actor, ev.ProgramID)
	return err
}

// Evaluate re-derives the program status and writes it when it differs.
// Writing the same status again is a no-op. Finished and Cancelled are left alone.
func (l *Lifecycle) Evaluate(ctx context.Context, actor Actor, programID uuid.UUID) (ProgramStatus, error) {
	var status ProgramStatus
	err := l.repo.WithTx(ctx, func(ctx context.Context) error {
		p, err := l.repo.LockProgram(ctx, actor.OrganizationID, programID)
		if err != nil {
			return err
		}
		status = p.Status
		if p.Status.IsTerminal() {
			return nil
		}

		slots, err := l.repo.CountSlotStates(ctx, actor.OrganizationID, programID)
		if err != nil {
			return fmt.Errorf("count slot states: %w", err)
		}
		days, err := l.repo.CountDayStates(ctx, actor.OrganizationID, programID)
		if err != nil {
			return fmt.Errorf("count day states: %w", err)
		}

		target := DeriveStatus(slots, days)
		if target == p.Status {
			return nil
		}
		if err := l.setStatus(ctx, actor, p, target, nil); err != nil {
			return err
		}
		status = target
		return nil
	})
	return status, err
}

// Finish closes out a program whose last date has passed.
func (l *Lifecycle) Finish(ctx context.Context, actor Actor, programID uuid.UUID) (*Program, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}

	var out *Program
	err := l.repo.WithTx(ctx, func(ctx context.Context) error {
		p, err := l.repo.LockProgram(ctx, actor.OrganizationID, programID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return fmt.Errorf("%w: program is already %s", ErrInvalidTransition, p.Status)
		}
		today := interval.DateOf(l.now().In(l.loc))
		if !today.After(p.EndDate) {
			return fmt.Errorf("%w: program runs until %s", ErrInvalidTransition, interval.FormatDate(p.EndDate))
		}
		if err := l.setStatus(ctx, actor, p, ProgramFinished, nil); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel stops a program. Every slot that is not Occupied is forced to Closed
// and every day group is closed. Occupied slots and their appointments are
// left for the caller to resolve.
func (l *Lifecycle) Cancel(ctx context.Context, actor Actor, programID uuid.UUID) (*Program, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}

	var out *Program
	err := l.repo.WithTx(ctx, func(ctx context.Context) error {
		p, err := l.repo.LockProgram(ctx, actor.OrganizationID, programID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return fmt.Errorf("%w: program is already %s", ErrInvalidTransition, p.Status)
		}

		now := l.now()
		closedDays, err := l.repo.CloseDayGroups(ctx, actor.OrganizationID, programID, now)
		if err != nil {
			return fmt.Errorf("close day groups: %w", err)
		}
		closedSlots, err := l.repo.CloseUnoccupiedSlots(ctx, actor.OrganizationID, programID, now)
		if err != nil {
			return fmt.Errorf("close slots: %w", err)
		}

		if err := l.setStatus(ctx, actor, p, ProgramCancelled, map[string]any{
			"slots_closed": closedSlots,
			"days_closed":  closedDays,
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Lifecycle) setStatus(ctx context.Context, actor Actor, p *Program, to ProgramStatus, extra map[string]any) error {
	from := p.Status
	now := l.now()
	p.Status = to
	p.UpdatedAt = now
	if err := l.repo.UpdateProgram(ctx, p); err != nil {
		return fmt.Errorf("update program status: %w", err)
	}

	payload := map[string]any{"from": from, "to": to}
	for k, v := range extra {
		payload[k] = v
	}
	if err := logEvent(ctx, l.repo, EventProgramStatusChanged, eventRef{
		org: p.OrganizationID, program: idPtr(p.ID), actor: actor,
	}, now, payload); err != nil {
		return err
	}

	metrics.RecordProgramTransition(string(from), string(to))
	l.log.Info().
		Str("program_id", p.ID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("program status changed")
	return nil
}
