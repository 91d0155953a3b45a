package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/specialist-scheduling/internal/config"
	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/metrics"
	redisclient "github.com/hackgods/specialist-scheduling/internal/redis"
)

type Service struct {
	repo         Repository
	locker       redisclient.Locker
	cfg          config.Config
	loc          *time.Location
	log          zerolog.Logger
	availability *Availability
	conflicts    *ConflictDetector
	lifecycle    *Lifecycle
	now          func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger zerolog.Logger) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With().Str("component", "scheduling").Logger()

	lifecycle := NewLifecycle(repo, loc, logger)
	return &Service{
		repo:         repo,
		locker:       locker,
		cfg:          cfg,
		loc:          loc,
		log:          logger,
		availability: NewAvailability(repo, lifecycle),
		conflicts:    NewConflictDetector(repo),
		lifecycle:    lifecycle,
		now:          time.Now,
	}
}

// SetClock replaces the time source of the service and its components.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.availability.now = now
	s.lifecycle.now = now
}

func (s *Service) Location() *time.Location { return s.loc }

func specialistDayKey(orgID, specialistID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("specialist:%s:%s:%s", orgID, specialistID, interval.FormatDate(date))
}

func programGenerateKey(programID uuid.UUID) string {
	return fmt.Sprintf("program:%s:generate", programID)
}

const (
	defaultLockWait = 3 * time.Second
	lockRetryBase   = 5 * time.Millisecond
	lockRetryMax    = 100 * time.Millisecond
)

// withLock runs fn under the distributed lock for key. A held lock is retried
// with exponential backoff until cfg.LockWait runs out or ctx is done, so
// bookings on one specialist day queue up instead of failing.
func (s *Service) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	wait := s.cfg.LockWait
	if wait <= 0 {
		wait = defaultLockWait
	}
	deadline := time.Now().Add(wait)
	delay := lockRetryBase

	for {
		err := s.locker.WithLock(ctx, key, fn)
		if !errors.Is(err, redisclient.ErrLockNotAcquired) {
			return err
		}
		if time.Now().Add(delay).After(deadline) {
			return ErrLocked
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, lockRetryMax)
	}
}

// Programs

func (s *Service) CreateProgram(ctx context.Context, actor Actor, spec ProgramSpec) (_ *Program, err error) {
	ctx, span := startSpan(ctx, "CreateProgram", attribute.String("specialist_id", spec.SpecialistID.String()))
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	p := &Program{
		ID:                  uuid.New(),
		OrganizationID:      actor.OrganizationID,
		SpecialistID:        spec.SpecialistID,
		BranchID:            spec.BranchID,
		RoomID:              spec.RoomID,
		StartDate:           interval.DateOf(spec.StartDate),
		EndDate:             interval.DateOf(spec.EndDate),
		WindowStart:         spec.WindowStart,
		WindowEnd:           spec.WindowEnd,
		SlotIntervalMinutes: spec.SlotIntervalMinutes,
		Status:              ProgramScheduled,
		CreatedBy:           actor.UserID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateProgram(ctx, p); err != nil {
			return fmt.Errorf("create program: %w", err)
		}
		return logEvent(ctx, s.repo, EventProgramCreated, eventRef{
			org: p.OrganizationID, program: idPtr(p.ID), actor: actor,
		}, now, map[string]any{
			"specialist_id": p.SpecialistID,
			"start_date":    interval.FormatDate(p.StartDate),
			"end_date":      interval.FormatDate(p.EndDate),
			"slots_per_day": len(SlotTimes(*p)),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("program_id", p.ID.String()).
		Str("specialist_id", p.SpecialistID.String()).
		Msg("program created")
	return p, nil
}

func (s *Service) GetProgram(ctx context.Context, orgID, id uuid.UUID) (*Program, error) {
	return s.repo.GetProgram(ctx, orgID, id)
}

func (s *Service) ListPrograms(ctx context.Context, orgID uuid.UUID, f ProgramFilter) ([]Program, error) {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	programs, err := s.repo.ListPrograms(ctx, orgID, f)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// UpdateProgram changes a program's shape. Slots already generated keep their
// times until GenerateSlots is called with regenerate.
func (s *Service) UpdateProgram(ctx context.Context, actor Actor, id uuid.UUID, upd ProgramUpdate) (*Program, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}

	var out *Program
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockProgram(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return ErrProgramClosed
		}
		if err := upd.apply(p); err != nil {
			return err
		}
		now := s.now()
		p.UpdatedAt = now
		if err := s.repo.UpdateProgram(ctx, p); err != nil {
			return fmt.Errorf("update program: %w", err)
		}
		out = p
		return logEvent(ctx, s.repo, EventProgramUpdated, eventRef{
			org: p.OrganizationID, program: idPtr(p.ID), actor: actor,
		}, now, map[string]any{
			"start_date":            interval.FormatDate(p.StartDate),
			"end_date":              interval.FormatDate(p.EndDate),
			"window":                p.WindowStart.String() + "-" + p.WindowEnd.String(),
			"slot_interval_minutes": p.SlotIntervalMinutes,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteProgram soft-deletes a program with its day groups and slots. It is
// refused while any slot is Occupied.
func (s *Service) DeleteProgram(ctx context.Context, actor Actor, id uuid.UUID) error {
	if err := actor.validate(); err != nil {
		return err
	}

	return s.repo.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockProgram(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		counts, err := s.repo.CountSlotStates(ctx, actor.OrganizationID, id)
		if err != nil {
			return fmt.Errorf("count slot states: %w", err)
		}
		if n := counts[SlotOccupied]; n > 0 {
			return fmt.Errorf("%w: %d slots still hold appointments", ErrSlotBusy, n)
		}

		now := s.now()
		if err := s.repo.SoftDeleteProgram(ctx, actor.OrganizationID, id, now); err != nil {
			return fmt.Errorf("delete program: %w", err)
		}
		s.log.Info().Str("program_id", id.String()).Msg("program deleted")
		return logEvent(ctx, s.repo, EventProgramDeleted, eventRef{
			org: p.OrganizationID, program: idPtr(p.ID), actor: actor,
		}, now, map[string]any{"status": p.Status})
	})
}

// GenerateSlots materializes the program's Closed slots and day groups and
// returns how many slots were created. A second call fails with
// ErrAlreadyGenerated unless regenerate is set, in which case never-opened
// Closed slots from today on are discarded and the missing ones recreated.
// Opened, Blocked and Occupied slots are never touched.
func (s *Service) GenerateSlots(ctx context.Context, actor Actor, programID uuid.UUID, regenerate bool) (_ int, err error) {
	ctx, span := startSpan(ctx, "GenerateSlots",
		attribute.String("program_id", programID.String()),
		attribute.Bool("regenerate", regenerate))
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return 0, err
	}

	created := 0
	err = s.withLock(ctx, programGenerateKey(programID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			p, err := s.repo.LockProgram(ctx, actor.OrganizationID, programID)
			if err != nil {
				return err
			}
			if p.Status.IsTerminal() {
				return ErrProgramClosed
			}

			existing, err := s.repo.CountSlots(ctx, actor.OrganizationID, programID)
			if err != nil {
				return fmt.Errorf("count slots: %w", err)
			}
			if existing > 0 && !regenerate {
				return ErrAlreadyGenerated
			}

			now := s.now()
			groups, slots := GenerateSlots(*p)

			discarded := 0
			if existing > 0 {
				today := interval.DateOf(now.In(s.loc))
				discarded, err = s.repo.DiscardUnopenedSlots(ctx, actor.OrganizationID, programID, today, now)
				if err != nil {
					return fmt.Errorf("discard unopened slots: %w", err)
				}
				if _, err := s.repo.DiscardEmptyDayGroups(ctx, actor.OrganizationID, programID, p.StartDate, p.EndDate, now); err != nil {
					return fmt.Errorf("discard day groups: %w", err)
				}
				groups, slots, err = s.reconcile(ctx, actor.OrganizationID, programID, today, groups, slots)
				if err != nil {
					return err
				}
			}

			for i := range groups {
				groups[i].CreatedAt, groups[i].UpdatedAt = now, now
			}
			for i := range slots {
				slots[i].CreatedAt, slots[i].UpdatedAt = now, now
			}

			if err := s.repo.InsertDayGroups(ctx, groups); err != nil {
				return fmt.Errorf("insert day groups: %w", err)
			}
			if err := s.repo.InsertSlots(ctx, slots); err != nil {
				return fmt.Errorf("insert slots: %w", err)
			}
			created = len(slots)

			return logEvent(ctx, s.repo, EventSlotsGenerated, eventRef{
				org: p.OrganizationID, program: idPtr(p.ID), actor: actor,
			}, now, map[string]any{
				"slots":      created,
				"days":       len(groups),
				"regenerate": regenerate,
				"discarded":  discarded,
			})
		})
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordSlotsGenerated(created)
	s.log.Info().
		Str("program_id", programID.String()).
		Int("slots", created).
		Bool("regenerate", regenerate).
		Msg("slots generated")
	return created, nil
}

// reconcile drops generated rows that are in the past or collide with slots
// that survived the discard, and points new slots at existing day groups.
func (s *Service) reconcile(ctx context.Context, orgID, programID uuid.UUID, today time.Time, groups []DaySlotGroup, slots []Slot) ([]DaySlotGroup, []Slot, error) {
	live, err := s.repo.ListSlots(ctx, orgID, SlotFilter{ProgramID: programID})
	if err != nil {
		return nil, nil, fmt.Errorf("list slots: %w", err)
	}
	days, err := s.repo.ListDayGroups(ctx, orgID, programID)
	if err != nil {
		return nil, nil, fmt.Errorf("list day groups: %w", err)
	}

	liveByDate := make(map[string][]Slot)
	for _, sl := range live {
		d := interval.FormatDate(sl.Date)
		liveByDate[d] = append(liveByDate[d], sl)
	}
	dayIDs := make(map[string]uuid.UUID, len(days))
	for _, g := range days {
		dayIDs[interval.FormatDate(g.Date)] = g.ID
	}

	var keepGroups []DaySlotGroup
	for _, g := range groups {
		if g.Date.Before(today) {
			continue
		}
		d := interval.FormatDate(g.Date)
		if _, ok := dayIDs[d]; ok {
			continue
		}
		dayIDs[d] = g.ID
		keepGroups = append(keepGroups, g)
	}

	var keepSlots []Slot
	for _, sl := range slots {
		if sl.Date.Before(today) {
			continue
		}
		d := interval.FormatDate(sl.Date)
		if collides(sl, liveByDate[d]) {
			continue
		}
		gid := dayIDs[d]
		sl.DayGroupID = &gid
		keepSlots = append(keepSlots, sl)
	}
	return keepGroups, keepSlots, nil
}

func collides(candidate Slot, live []Slot) bool {
	c, err := candidate.Range(time.UTC)
	if err != nil {
		return true
	}
	for _, sl := range live {
		r, err := sl.Range(time.UTC)
		if err != nil {
			continue
		}
		if interval.Overlaps(c, r) {
			return true
		}
	}
	return false
}

func (s *Service) FinishProgram(ctx context.Context, actor Actor, id uuid.UUID) (*Program, error) {
	return s.lifecycle.Finish(ctx, actor, id)
}

// CancelProgram cancels the program and closes every non-Occupied slot.
// Appointments on Occupied slots are not cancelled.
func (s *Service) CancelProgram(ctx context.Context, actor Actor, id uuid.UUID) (_ *Program, err error) {
	ctx, span := startSpan(ctx, "CancelProgram", attribute.String("program_id", id.String()))
	defer func() { endSpan(span, err) }()

	p, err := s.lifecycle.Cancel(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.repo.CountSlotStates(ctx, actor.OrganizationID, id)
	if err == nil && counts[SlotOccupied] > 0 {
		s.log.Warn().
			Str("program_id", id.String()).
			Int("occupied", counts[SlotOccupied]).
			Msg("program cancelled with occupied slots; their appointments stay active")
	}
	return p, nil
}

// Slots

func (s *Service) OpenSlot(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return s.availability.Open(ctx, actor, slotID)
}

func (s *Service) CloseSlot(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return s.availability.Close(ctx, actor, slotID)
}

func (s *Service) BlockSlot(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return s.availability.Block(ctx, actor, slotID)
}

func (s *Service) UnblockSlot(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	return s.availability.Unblock(ctx, actor, slotID)
}

func (s *Service) OpenDate(ctx context.Context, actor Actor, programID uuid.UUID, date time.Time, includeSlots bool) (int, error) {
	return s.availability.OpenDate(ctx, actor, programID, date, includeSlots)
}

func (s *Service) CloseDate(ctx context.Context, actor Actor, programID uuid.UUID, date time.Time) (int, error) {
	return s.availability.CloseDate(ctx, actor, programID, date)
}

func (s *Service) GetSlot(ctx context.Context, orgID, id uuid.UUID) (*Slot, error) {
	return s.repo.GetSlot(ctx, orgID, id)
}

func (s *Service) ListSlots(ctx context.Context, orgID uuid.UUID, f SlotFilter) ([]Slot, error) {
	if _, err := s.repo.GetProgram(ctx, orgID, f.ProgramID); err != nil {
		return nil, err
	}
	if f.Date != nil {
		d := interval.DateOf(*f.Date)
		f.Date = &d
	}
	return s.repo.ListSlots(ctx, orgID, f)
}

// GetAvailableSlots lists the bookable slots of a program on date, in time
// order. A closed date or a finished/cancelled program yields no slots.
func (s *Service) GetAvailableSlots(ctx context.Context, orgID, programID uuid.UUID, date time.Time) ([]Slot, error) {
	p, err := s.repo.GetProgram(ctx, orgID, programID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return []Slot{}, nil
	}

	d := interval.DateOf(date)
	day, err := s.repo.GetDayGroup(ctx, orgID, programID, d)
	if errors.Is(err, ErrDayGroupNotFound) {
		return []Slot{}, nil
	}
	if err != nil {
		return nil, err
	}
	if day.State != DayAvailable {
		return []Slot{}, nil
	}

	slots, err := s.repo.ListSlots(ctx, orgID, SlotFilter{ProgramID: programID, Date: &d, State: SlotAvailable})
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// Availability checks

type AvailabilityResult struct {
	Available bool
	Conflicts []Appointment
}

func (s *Service) CheckAvailability(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time, start, end interval.TimeOfDay) (*AvailabilityResult, error) {
	if specialistID == uuid.Nil {
		return nil, fmt.Errorf("%w: specialist_id is required", ErrInvalidInput)
	}
	rng, err := interval.OnDate(date, start, end, s.loc)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.conflicts.Check(ctx, orgID, specialistID, date, rng, nil)
	if err != nil {
		return nil, err
	}
	return &AvailabilityResult{Available: len(conflicts) == 0, Conflicts: conflicts}, nil
}
