package scheduling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/metrics"
)

// BookingRequest describes a new appointment. When SlotID is set the
// specialist, date, branch and room default to the slot's program, and a zero
// End books the slot's full time. Otherwise the request is checked purely
// against the specialist's other appointments.
type BookingRequest struct {
	SpecialistID uuid.UUID
	PatientID    uuid.UUID
	BranchID     uuid.UUID
	RoomID       *uuid.UUID
	SlotID       *uuid.UUID
	Date         time.Time
	Start        interval.TimeOfDay
	End          interval.TimeOfDay
	Confirmed    bool // create as Confirmed instead of a Pending hold
}

type RescheduleRequest struct {
	SlotID *uuid.UUID
	Date   time.Time
	Start  interval.TimeOfDay
	End    interval.TimeOfDay
}

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:    {StatusConfirmed, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

func canAdvance(from, to AppointmentStatus) bool {
	for _, s := range appointmentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// resolveBooking fills slot derived fields of req and validates the rest.
func (s *Service) resolveBooking(ctx context.Context, orgID uuid.UUID, req *BookingRequest) error {
	if req.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}

	if req.SlotID != nil {
		slot, err := s.repo.GetSlot(ctx, orgID, *req.SlotID)
		if err != nil {
			return err
		}
		p, err := s.repo.GetProgram(ctx, orgID, slot.ProgramID)
		if err != nil {
			return err
		}

		switch {
		case req.SpecialistID == uuid.Nil:
			req.SpecialistID = slot.SpecialistID
		case req.SpecialistID != slot.SpecialistID:
			return fmt.Errorf("%w: slot belongs to another specialist", ErrInvalidInput)
		}
		switch {
		case req.Date.IsZero():
			req.Date = slot.Date
		case !interval.DateOf(req.Date).Equal(interval.DateOf(slot.Date)):
			return fmt.Errorf("%w: slot is on %s", ErrInvalidInput, interval.FormatDate(slot.Date))
		}
		if req.End == 0 {
			req.Start, req.End = slot.Start, slot.End
		} else {
			slotRange, err := slot.Range(s.loc)
			if err != nil {
				return err
			}
			proposed, err := interval.OnDate(req.Date, req.Start, req.End, s.loc)
			if err != nil {
				return err
			}
			if !interval.Contains(slotRange, proposed) {
				return fmt.Errorf("%w: %s-%s is outside slot %s-%s",
					ErrInvalidRange, req.Start, req.End, slot.Start, slot.End)
			}
		}
		if req.BranchID == uuid.Nil {
			req.BranchID = p.BranchID
		}
		if req.RoomID == nil {
			req.RoomID = p.RoomID
		}
	}

	if req.SpecialistID == uuid.Nil {
		return fmt.Errorf("%w: specialist_id is required", ErrInvalidInput)
	}
	if req.BranchID == uuid.Nil {
		return fmt.Errorf("%w: branch_id is required", ErrInvalidInput)
	}
	if req.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidRange)
	}
	req.Date = interval.DateOf(req.Date)
	return nil
}

// BookAppointment occupies the slot for slot-backed bookings, runs the
// conflict check and creates the appointment. All of it happens in one
// transaction holding the specialist+date lock.
func (s *Service) BookAppointment(ctx context.Context, actor Actor, req BookingRequest) (_ *Appointment, err error) {
	ctx, span := startSpan(ctx, "BookAppointment", attribute.String("patient_id", req.PatientID.String()))
	defer func() {
		metrics.RecordBooking(bookingResult(err))
		endSpan(span, err)
	}()

	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := s.resolveBooking(ctx, actor.OrganizationID, &req); err != nil {
		return nil, err
	}
	rng, err := interval.OnDate(req.Date, req.Start, req.End, s.loc)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("specialist_id", req.SpecialistID.String()),
		attribute.String("date", interval.FormatDate(req.Date)),
	)

	var created *Appointment
	err = s.withLock(ctx, specialistDayKey(actor.OrganizationID, req.SpecialistID, req.Date), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			if err := s.repo.LockSpecialistDay(ctx, actor.OrganizationID, req.SpecialistID, req.Date); err != nil {
				return fmt.Errorf("lock specialist day: %w", err)
			}
			// a taken slot reports as unavailable rather than as a conflict
			if req.SlotID != nil {
				if _, err := s.availability.Occupy(ctx, actor, *req.SlotID); err != nil {
					return err
				}
			}
			if err := s.conflicts.Ensure(ctx, actor.OrganizationID, req.SpecialistID, req.Date, rng, nil); err != nil {
				return err
			}

			now := s.now()
			a := &Appointment{
				ID:             uuid.New(),
				OrganizationID: actor.OrganizationID,
				SpecialistID:   req.SpecialistID,
				PatientID:      req.PatientID,
				BranchID:       req.BranchID,
				RoomID:         req.RoomID,
				SlotID:         req.SlotID,
				Date:           req.Date,
				Range:          rng,
				Status:         StatusPending,
				CreatedBy:      actor.UserID,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if req.Confirmed {
				a.Status = StatusConfirmed
			} else if s.cfg.AppointmentTTL > 0 {
				exp := now.Add(s.cfg.AppointmentTTL)
				a.ExpiresAt = &exp
			}

			if err := s.repo.CreateAppointment(ctx, a); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			created = a

			return logEvent(ctx, s.repo, EventAppointmentBooked, eventRef{
				org: a.OrganizationID, slot: a.SlotID, appointment: idPtr(a.ID), actor: actor,
			}, now, map[string]any{
				"specialist_id": a.SpecialistID,
				"patient_id":    a.PatientID,
				"date":          interval.FormatDate(a.Date),
				"start":         req.Start.String(),
				"end":           req.End.String(),
				"status":        a.Status,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("specialist_id", created.SpecialistID.String()).
		Str("date", interval.FormatDate(created.Date)).
		Msg("appointment booked")
	return created, nil
}

// CancelAppointment cancels an active appointment and releases its slot.
func (s *Service) CancelAppointment(ctx context.Context, actor Actor, id uuid.UUID, reason string) (_ *Appointment, err error) {
	ctx, span := startSpan(ctx, "CancelAppointment", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}

	var out *Appointment
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.LockAppointment(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if !a.Status.IsActive() {
			return fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, a.Status)
		}
		if err := s.cancelLocked(ctx, actor, a, reason, EventAppointmentCancelled); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")
	return out, nil
}

func (s *Service) cancelLocked(ctx context.Context, actor Actor, a *Appointment, reason, eventType string) error {
	now := s.now()
	from := a.Status
	a.Status = StatusCancelled
	a.CancellationReason = reason
	a.ExpiresAt = nil
	a.UpdatedAt = now
	if err := s.repo.UpdateAppointment(ctx, a); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}

	if a.SlotID != nil {
		_, err := s.availability.Release(ctx, actor, *a.SlotID)
		// a soft-deleted program takes its slots with it; nothing to release
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return fmt.Errorf("release slot: %w", err)
		}
	}

	return logEvent(ctx, s.repo, eventType, eventRef{
		org: a.OrganizationID, slot: a.SlotID, appointment: idPtr(a.ID), actor: actor,
	}, now, map[string]any{"from": from, "reason": reason})
}

// RescheduleAppointment moves a Pending or Confirmed appointment to a new
// time, re-running the conflict check with the appointment itself excluded.
func (s *Service) RescheduleAppointment(ctx context.Context, actor Actor, id uuid.UUID, req RescheduleRequest) (_ *Appointment, err error) {
	ctx, span := startSpan(ctx, "RescheduleAppointment", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}
	if req.SlotID == nil && req.Date.IsZero() {
		return nil, fmt.Errorf("%w: slot_id or date is required", ErrInvalidInput)
	}

	current, err := s.repo.GetAppointment(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, err
	}

	target := BookingRequest{
		SpecialistID: current.SpecialistID,
		PatientID:    current.PatientID,
		BranchID:     current.BranchID,
		RoomID:       current.RoomID,
		SlotID:       req.SlotID,
		Date:         req.Date,
		Start:        req.Start,
		End:          req.End,
	}
	if req.SlotID != nil {
		target.BranchID, target.RoomID = uuid.Nil, nil
	}
	if err := s.resolveBooking(ctx, actor.OrganizationID, &target); err != nil {
		return nil, err
	}
	rng, err := interval.OnDate(target.Date, target.Start, target.End, s.loc)
	if err != nil {
		return nil, err
	}

	var out *Appointment
	err = s.withLock(ctx, specialistDayKey(actor.OrganizationID, target.SpecialistID, target.Date), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			if err := s.repo.LockSpecialistDay(ctx, actor.OrganizationID, target.SpecialistID, target.Date); err != nil {
				return fmt.Errorf("lock specialist day: %w", err)
			}
			a, err := s.repo.LockAppointment(ctx, actor.OrganizationID, id)
			if err != nil {
				return err
			}
			if a.Status != StatusPending && a.Status != StatusConfirmed {
				return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, a.Status)
			}

			sameSlot := a.SlotID != nil && target.SlotID != nil && *a.SlotID == *target.SlotID
			if !sameSlot {
				if err := s.lockSlotPrograms(ctx, actor.OrganizationID, a.SlotID, target.SlotID); err != nil {
					return err
				}
				if a.SlotID != nil {
					if _, err := s.availability.Release(ctx, actor, *a.SlotID); err != nil && !errors.Is(err, ErrSlotNotFound) {
						return fmt.Errorf("release slot: %w", err)
					}
				}
				if target.SlotID != nil {
					if _, err := s.availability.Occupy(ctx, actor, *target.SlotID); err != nil {
						return err
					}
				}
			}
			if err := s.conflicts.Ensure(ctx, actor.OrganizationID, target.SpecialistID, target.Date, rng, &a.ID); err != nil {
				return err
			}

			now := s.now()
			fromDate, fromRange := a.Date, a.Range
			a.SlotID = target.SlotID
			a.Date = target.Date
			a.Range = rng
			a.BranchID = target.BranchID
			a.RoomID = target.RoomID
			a.UpdatedAt = now
			if err := s.repo.UpdateAppointment(ctx, a); err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}
			out = a

			return logEvent(ctx, s.repo, EventAppointmentRescheduled, eventRef{
				org: a.OrganizationID, slot: a.SlotID, appointment: idPtr(a.ID), actor: actor,
			}, now, map[string]any{
				"from_date":  interval.FormatDate(fromDate),
				"from_start": fromRange.Start(),
				"to_date":    interval.FormatDate(a.Date),
				"to_start":   a.Range.Start(),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockSlotPrograms locks the programs owning the given slots in ID order so
// two moves between the same programs cannot wait on each other.
func (s *Service) lockSlotPrograms(ctx context.Context, orgID uuid.UUID, slotIDs ...*uuid.UUID) error {
	var programs []uuid.UUID
	for _, id := range slotIDs {
		if id == nil {
			continue
		}
		slot, err := s.repo.GetSlot(ctx, orgID, *id)
		if errors.Is(err, ErrSlotNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !slices.Contains(programs, slot.ProgramID) {
			programs = append(programs, slot.ProgramID)
		}
	}
	slices.SortFunc(programs, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	for _, id := range programs {
		if _, err := s.repo.LockProgram(ctx, orgID, id); err != nil {
			return err
		}
	}
	return nil
}

// AdvanceAppointment walks an appointment through its visit lifecycle.
// Cancellation goes through CancelAppointment so the slot is released.
func (s *Service) AdvanceAppointment(ctx context.Context, actor Actor, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if to == StatusCancelled {
		return s.CancelAppointment(ctx, actor, id, "")
	}
	if err := actor.validate(); err != nil {
		return nil, err
	}

	var out *Appointment
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.LockAppointment(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if !canAdvance(a.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, a.Status, to)
		}

		now := s.now()
		if to == StatusConfirmed {
			if a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
				return ErrHoldExpired
			}
			a.ExpiresAt = nil
		}

		from := a.Status
		a.Status = to
		a.UpdatedAt = now
		if err := s.repo.UpdateAppointment(ctx, a); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		out = a

		return logEvent(ctx, s.repo, EventAppointmentStatusChanged, eventRef{
			org: a.OrganizationID, slot: a.SlotID, appointment: idPtr(a.ID), actor: actor,
		}, now, map[string]any{"from": from, "to": to})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetAppointment(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, orgID, id)
}

func (s *Service) ListAppointments(ctx context.Context, orgID uuid.UUID, f AppointmentFilter) ([]Appointment, error) {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	if f.Date != nil {
		d := interval.DateOf(*f.Date)
		f.Date = &d
	}
	appointments, err := s.repo.ListAppointments(ctx, orgID, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

// ExpirePendingAppointments cancels Pending holds whose TTL has passed and
// releases their slots. It is called periodically by the expiry worker.
func (s *Service) ExpirePendingAppointments(ctx context.Context) (int, error) {
	if s.cfg.AppointmentTTL <= 0 {
		return 0, nil
	}

	now := s.now()
	candidates, err := s.repo.FindExpiredPending(ctx, now, 100)
	if err != nil {
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}

	expired := 0
	for _, c := range candidates {
		ok, err := s.expireOne(ctx, c, now)
		if err != nil {
			s.log.Error().Err(err).Str("appointment_id", c.ID.String()).Msg("failed to expire appointment")
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, candidate Appointment, now time.Time) (bool, error) {
	actor := SystemActor(candidate.OrganizationID)
	expired := false
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.LockAppointment(ctx, actor.OrganizationID, candidate.ID)
		if err != nil {
			return err
		}
		// confirmed or cancelled since the scan
		if a.Status != StatusPending || a.ExpiresAt == nil || !a.ExpiresAt.Before(now) {
			return nil
		}
		if err := s.cancelLocked(ctx, actor, a, "hold expired", EventAppointmentExpired); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

func bookingResult(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrSchedulingConflict):
		return "conflict"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrProgramNotFound):
		return "rejected"
	default:
		return "error"
	}
}
