package scheduling_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/specialist-scheduling/internal/config"
	"github.com/hackgods/specialist-scheduling/internal/interval"
	redisclient "github.com/hackgods/specialist-scheduling/internal/redis"
	"github.com/hackgods/specialist-scheduling/internal/scheduling"
	"github.com/hackgods/specialist-scheduling/internal/scheduling/memstore"
)

var (
	day1 = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
)

type fixture struct {
	svc    *scheduling.Service
	store  *memstore.Store
	locker redisclient.Locker
	actor  scheduling.Actor
	now    time.Time
}

type fixtureOptions struct {
	wrap     func(*memstore.Store) scheduling.Repository
	lockWait time.Duration
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureOptions{})
}

func newFixtureWith(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	f := &fixture{
		store:  memstore.New(),
		locker: redisclient.NewLocalLocker(),
		actor:  scheduling.Actor{UserID: uuid.New(), OrganizationID: uuid.New()},
		now:    day1.Add(7 * time.Hour),
	}
	cfg := config.Config{
		Env:            "dev",
		Location:       time.UTC,
		AppointmentTTL: 30 * time.Minute,
		LockWait:       opts.lockWait,
	}
	var repo scheduling.Repository = f.store
	if opts.wrap != nil {
		repo = opts.wrap(f.store)
	}
	f.svc = scheduling.NewService(repo, f.locker, cfg, zerolog.Nop())
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) program(t *testing.T) *scheduling.Program {
	t.Helper()
	p, err := f.svc.CreateProgram(context.Background(), f.actor, scheduling.ProgramSpec{
		SpecialistID:        uuid.New(),
		BranchID:            uuid.New(),
		StartDate:           day1,
		EndDate:             day3,
		WindowStart:         interval.Clock(8, 0),
		WindowEnd:           interval.Clock(12, 0),
		SlotIntervalMinutes: 30,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) generated(t *testing.T) *scheduling.Program {
	t.Helper()
	p := f.program(t)
	n, err := f.svc.GenerateSlots(context.Background(), f.actor, p.ID, false)
	require.NoError(t, err)
	require.Equal(t, 24, n)
	return p
}

func (f *fixture) slotAt(t *testing.T, programID uuid.UUID, date time.Time, start interval.TimeOfDay) scheduling.Slot {
	t.Helper()
	slots, err := f.svc.ListSlots(context.Background(), f.actor.OrganizationID, scheduling.SlotFilter{ProgramID: programID, Date: &date})
	require.NoError(t, err)
	for _, s := range slots {
		if s.Start == start {
			return s
		}
	}
	t.Fatalf("no slot at %s on %s", start, interval.FormatDate(date))
	return scheduling.Slot{}
}

func (f *fixture) status(t *testing.T, programID uuid.UUID) scheduling.ProgramStatus {
	t.Helper()
	p, err := f.svc.GetProgram(context.Background(), f.actor.OrganizationID, programID)
	require.NoError(t, err)
	return p.Status
}

func TestGenerateSlotsOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)

	_, err := f.svc.GenerateSlots(ctx, f.actor, p.ID, false)
	assert.ErrorIs(t, err, scheduling.ErrAlreadyGenerated)

	slots, err := f.svc.ListSlots(ctx, f.actor.OrganizationID, scheduling.SlotFilter{ProgramID: p.ID})
	require.NoError(t, err)
	assert.Len(t, slots, 24)
	assert.Equal(t, scheduling.ProgramScheduled, f.status(t, p.ID))
}

func TestRegenerateKeepsOpenedSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)

	kept := f.slotAt(t, p.ID, day1, interval.Clock(8, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, kept.ID)
	require.NoError(t, err)

	hour := 60
	_, err = f.svc.UpdateProgram(ctx, f.actor, p.ID, scheduling.ProgramUpdate{SlotIntervalMinutes: &hour})
	require.NoError(t, err)

	// day1 08:00-09:00 collides with the opened 08:00-08:30 slot and is skipped
	n, err := f.svc.GenerateSlots(ctx, f.actor, p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	slots, err := f.svc.ListSlots(ctx, f.actor.OrganizationID, scheduling.SlotFilter{ProgramID: p.ID})
	require.NoError(t, err)
	assert.Len(t, slots, 12)

	got, err := f.svc.GetSlot(ctx, f.actor.OrganizationID, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotAvailable, got.State)
}

func TestLifecycleFollowsSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)

	opened, err := f.svc.OpenDate(ctx, f.actor, p.ID, day1, false)
	require.NoError(t, err)
	assert.Zero(t, opened)
	assert.Equal(t, scheduling.ProgramAuthorizeHours, f.status(t, p.ID))

	slot := f.slotAt(t, p.ID, day1, interval.Clock(9, 0))
	_, err = f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.ProgramActive, f.status(t, p.ID))

	_, err = f.svc.CloseSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.ProgramAuthorizeHours, f.status(t, p.ID))

	closed, err := f.svc.CloseDate(ctx, f.actor, p.ID, day1)
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Equal(t, scheduling.ProgramScheduled, f.status(t, p.ID))
}

func TestOpenSlotOpensItsDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)

	slot := f.slotAt(t, p.ID, day2, interval.Clock(10, 0))
	got, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotAvailable, got.State)
	require.NotNil(t, got.OpenedBy)
	assert.Equal(t, f.actor.UserID, *got.OpenedBy)

	avail, err := f.svc.GetAvailableSlots(ctx, f.actor.OrganizationID, p.ID, day2)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, slot.ID, avail[0].ID)

	_, err = f.svc.OpenSlot(ctx, f.actor, slot.ID)
	assert.ErrorIs(t, err, scheduling.ErrInvalidTransition)
}

func TestOpenDateWithSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)

	blocked := f.slotAt(t, p.ID, day1, interval.Clock(11, 30))
	_, err := f.svc.BlockSlot(ctx, f.actor, blocked.ID)
	require.NoError(t, err)

	opened, err := f.svc.OpenDate(ctx, f.actor, p.ID, day1, true)
	require.NoError(t, err)
	assert.Equal(t, 7, opened)

	avail, err := f.svc.GetAvailableSlots(ctx, f.actor.OrganizationID, p.ID, day1)
	require.NoError(t, err)
	assert.Len(t, avail, 7)
	for i := 1; i < len(avail); i++ {
		assert.Less(t, avail[i-1].Start, avail[i].Start)
	}

	got, err := f.svc.UnblockSlot(ctx, f.actor, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotClosed, got.State)
}

func TestDoubleBookingIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	specialist := uuid.New()
	branch := uuid.New()

	book := func(start, end interval.TimeOfDay) (*scheduling.Appointment, error) {
		return f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{
			SpecialistID: specialist,
			PatientID:    uuid.New(),
			BranchID:     branch,
			Date:         day1,
			Start:        start,
			End:          end,
		})
	}

	first, err := book(interval.Clock(9, 0), interval.Clock(9, 30))
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusPending, first.Status)

	_, err = book(interval.Clock(9, 15), interval.Clock(9, 45))
	require.ErrorIs(t, err, scheduling.ErrSchedulingConflict)
	var ce *scheduling.ConflictError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, first.ID, ce.Conflicts[0].ID)

	_, err = book(interval.Clock(9, 30), interval.Clock(10, 0))
	require.NoError(t, err)

	res, err := f.svc.CheckAvailability(ctx, f.actor.OrganizationID, specialist, day1, interval.Clock(9, 20), interval.Clock(9, 40))
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Len(t, res.Conflicts, 2)
}

func TestBookSlotOccupiesAndCancelReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	_, err := f.svc.OpenDate(ctx, f.actor, p.ID, day1, true)
	require.NoError(t, err)

	slot := f.slotAt(t, p.ID, day1, interval.Clock(8, 30))
	a, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{
		PatientID: uuid.New(),
		SlotID:    &slot.ID,
		Confirmed: true,
	})
	require.NoError(t, err)
	assert.Equal(t, p.SpecialistID, a.SpecialistID)
	assert.Equal(t, p.BranchID, a.BranchID)
	assert.Equal(t, scheduling.StatusConfirmed, a.Status)
	assert.Nil(t, a.ExpiresAt)
	assert.Equal(t, 30*time.Minute, a.Range.Duration())

	got, err := f.svc.GetSlot(ctx, f.actor.OrganizationID, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotOccupied, got.State)

	_, err = f.svc.CloseSlot(ctx, f.actor, slot.ID)
	assert.ErrorIs(t, err, scheduling.ErrSlotBusy)

	_, err = f.svc.CancelAppointment(ctx, f.actor, a.ID, "patient called")
	require.NoError(t, err)

	got, err = f.svc.GetSlot(ctx, f.actor.OrganizationID, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotAvailable, got.State)

	cancelled, err := f.svc.GetAppointment(ctx, f.actor.OrganizationID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, cancelled.Status)
	assert.Equal(t, "patient called", cancelled.CancellationReason)

	_, err = f.svc.CancelAppointment(ctx, f.actor, a.ID, "")
	assert.ErrorIs(t, err, scheduling.ErrInvalidTransition)
}

func TestBookingClosedSlotFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)

	slot := f.slotAt(t, p.ID, day1, interval.Clock(8, 0))
	_, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &slot.ID})
	assert.ErrorIs(t, err, scheduling.ErrSlotUnavailable)

	// nothing was written by the failed booking
	list, err := f.svc.ListAppointments(ctx, f.actor.OrganizationID, scheduling.AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConcurrentOccupyHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	slot := f.slotAt(t, p.ID, day1, interval.Clock(10, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)

	avail := scheduling.NewAvailability(f.store)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := avail.Occupy(ctx, f.actor, slot.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, scheduling.ErrSlotUnavailable)
	}
	assert.Equal(t, 1, wins)
}

func TestOccupyReleaseRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	slot := f.slotAt(t, p.ID, day1, interval.Clock(9, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)

	avail := scheduling.NewAvailability(f.store)
	for i := 0; i < 2; i++ {
		got, err := avail.Occupy(ctx, f.actor, slot.ID)
		require.NoError(t, err)
		assert.Equal(t, scheduling.SlotOccupied, got.State)

		got, err = avail.Release(ctx, f.actor, slot.ID)
		require.NoError(t, err)
		assert.Equal(t, scheduling.SlotAvailable, got.State)
	}

	_, err = avail.Release(ctx, f.actor, slot.ID)
	assert.ErrorIs(t, err, scheduling.ErrInvalidTransition)
}

func TestConcurrentBookingsOfOneSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	slot := f.slotAt(t, p.ID, day1, interval.Clock(10, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &slot.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, scheduling.ErrSlotUnavailable)
	}
	assert.Equal(t, 1, wins)

	list, err := f.svc.ListAppointments(ctx, f.actor.OrganizationID, scheduling.AppointmentFilter{SlotID: &slot.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRescheduleMovesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	_, err := f.svc.OpenDate(ctx, f.actor, p.ID, day1, true)
	require.NoError(t, err)

	from := f.slotAt(t, p.ID, day1, interval.Clock(8, 0))
	to := f.slotAt(t, p.ID, day1, interval.Clock(9, 0))

	a, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &from.ID})
	require.NoError(t, err)

	moved, err := f.svc.RescheduleAppointment(ctx, f.actor, a.ID, scheduling.RescheduleRequest{SlotID: &to.ID})
	require.NoError(t, err)
	require.NotNil(t, moved.SlotID)
	assert.Equal(t, to.ID, *moved.SlotID)
	assert.Equal(t, interval.Clock(9, 0).On(day1, time.UTC), moved.Range.Start())

	old, err := f.svc.GetSlot(ctx, f.actor.OrganizationID, from.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotAvailable, old.State)

	cur, err := f.svc.GetSlot(ctx, f.actor.OrganizationID, to.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotOccupied, cur.State)
}

func TestAppointmentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{
		SpecialistID: uuid.New(),
		PatientID:    uuid.New(),
		BranchID:     uuid.New(),
		Date:         day1,
		Start:        interval.Clock(14, 0),
		End:          interval.Clock(14, 30),
	})
	require.NoError(t, err)

	_, err = f.svc.AdvanceAppointment(ctx, f.actor, a.ID, scheduling.StatusCompleted)
	assert.ErrorIs(t, err, scheduling.ErrInvalidTransition)

	for _, to := range []scheduling.AppointmentStatus{scheduling.StatusConfirmed, scheduling.StatusInProgress, scheduling.StatusCompleted} {
		got, err := f.svc.AdvanceAppointment(ctx, f.actor, a.ID, to)
		require.NoError(t, err)
		assert.Equal(t, to, got.Status)
	}
}

func TestPendingHoldExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	slot := f.slotAt(t, p.ID, day1, interval.Clock(11, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)

	a, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &slot.ID})
	require.NoError(t, err)
	require.NotNil(t, a.ExpiresAt)

	n, err := f.svc.ExpirePendingAppointments(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(31 * time.Minute)

	_, err = f.svc.AdvanceAppointment(ctx, f.actor, a.ID, scheduling.StatusConfirmed)
	assert.ErrorIs(t, err, scheduling.ErrHoldExpired)

	n, err = f.svc.ExpirePendingAppointments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetAppointment(ctx, f.actor.OrganizationID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, got.Status)
	assert.Equal(t, "hold expired", got.CancellationReason)

	s, err := f.svc.GetSlot(ctx, f.actor.OrganizationID, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotAvailable, s.State)
}

func TestFinishProgram(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)

	_, err := f.svc.FinishProgram(ctx, f.actor, p.ID)
	assert.ErrorIs(t, err, scheduling.ErrInvalidTransition)

	f.now = day3.Add(24 * time.Hour)
	got, err := f.svc.FinishProgram(ctx, f.actor, p.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.ProgramFinished, got.Status)

	slot := f.slotAt(t, p.ID, day1, interval.Clock(8, 0))
	_, err = f.svc.OpenSlot(ctx, f.actor, slot.ID)
	assert.ErrorIs(t, err, scheduling.ErrProgramClosed)
}

func TestCancelProgramKeepsOccupiedSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	_, err := f.svc.OpenDate(ctx, f.actor, p.ID, day1, true)
	require.NoError(t, err)

	booked := f.slotAt(t, p.ID, day1, interval.Clock(8, 0))
	_, err = f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &booked.ID})
	require.NoError(t, err)

	got, err := f.svc.CancelProgram(ctx, f.actor, p.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.ProgramCancelled, got.Status)

	slots, err := f.svc.ListSlots(ctx, f.actor.OrganizationID, scheduling.SlotFilter{ProgramID: p.ID})
	require.NoError(t, err)
	for _, s := range slots {
		if s.ID == booked.ID {
			assert.Equal(t, scheduling.SlotOccupied, s.State)
			continue
		}
		assert.Equal(t, scheduling.SlotClosed, s.State)
	}

	avail, err := f.svc.GetAvailableSlots(ctx, f.actor.OrganizationID, p.ID, day1)
	require.NoError(t, err)
	assert.Empty(t, avail)

	_, err = f.svc.CancelProgram(ctx, f.actor, p.ID)
	assert.ErrorIs(t, err, scheduling.ErrInvalidTransition)
}

func TestDeleteProgramRefusedWhileOccupied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	slot := f.slotAt(t, p.ID, day2, interval.Clock(8, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)

	a, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &slot.ID})
	require.NoError(t, err)

	err = f.svc.DeleteProgram(ctx, f.actor, p.ID)
	assert.ErrorIs(t, err, scheduling.ErrSlotBusy)

	_, err = f.svc.CancelAppointment(ctx, f.actor, a.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteProgram(ctx, f.actor, p.ID))

	_, err = f.svc.GetProgram(ctx, f.actor.OrganizationID, p.ID)
	assert.ErrorIs(t, err, scheduling.ErrProgramNotFound)
	_, err = f.svc.GetSlot(ctx, f.actor.OrganizationID, slot.ID)
	assert.ErrorIs(t, err, scheduling.ErrSlotNotFound)
}

func TestOrganizationScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)

	other := scheduling.Actor{UserID: uuid.New(), OrganizationID: uuid.New()}
	_, err := f.svc.GetProgram(ctx, other.OrganizationID, p.ID)
	assert.ErrorIs(t, err, scheduling.ErrProgramNotFound)

	slot := f.slotAt(t, p.ID, day1, interval.Clock(8, 0))
	_, err = f.svc.OpenSlot(ctx, other, slot.ID)
	assert.ErrorIs(t, err, scheduling.ErrSlotNotFound)

	_, err = f.svc.OpenSlot(ctx, scheduling.Actor{UserID: uuid.New()}, slot.ID)
	assert.ErrorIs(t, err, scheduling.ErrInvalidInput)
}

func TestEveryChangeIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	slot := f.slotAt(t, p.ID, day1, interval.Clock(8, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)

	var types []string
	for _, ev := range f.store.Events() {
		assert.Equal(t, f.actor.OrganizationID, ev.OrganizationID)
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{
		scheduling.EventProgramCreated,
		scheduling.EventSlotsGenerated,
		"SLOT_OPEN",
		scheduling.EventProgramStatusChanged,
	}, types)
}

func TestBookingTakenSlotIsUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	slot := f.slotAt(t, p.ID, day1, interval.Clock(9, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)

	_, err = f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &slot.ID})
	require.NoError(t, err)

	_, err = f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &slot.ID})
	assert.ErrorIs(t, err, scheduling.ErrSlotUnavailable)
	assert.NotErrorIs(t, err, scheduling.ErrSchedulingConflict)
}

func TestReleaseAfterProgramCancelClosesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	slot := f.slotAt(t, p.ID, day1, interval.Clock(8, 30))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)

	a, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &slot.ID})
	require.NoError(t, err)
	_, err = f.svc.CancelProgram(ctx, f.actor, p.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelAppointment(ctx, f.actor, a.ID, "program cancelled")
	require.NoError(t, err)

	got, err := f.svc.GetSlot(ctx, f.actor.OrganizationID, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotClosed, got.State)
	assert.Equal(t, scheduling.ProgramCancelled, f.status(t, p.ID))
}

func TestReleaseOnClosedDateClosesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	slot := f.slotAt(t, p.ID, day2, interval.Clock(11, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)

	a, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &slot.ID})
	require.NoError(t, err)
	_, err = f.svc.CloseDate(ctx, f.actor, p.ID, day2)
	require.NoError(t, err)

	_, err = f.svc.CancelAppointment(ctx, f.actor, a.ID, "")
	require.NoError(t, err)

	got, err := f.svc.GetSlot(ctx, f.actor.OrganizationID, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.SlotClosed, got.State)

	avail, err := f.svc.GetAvailableSlots(ctx, f.actor.OrganizationID, p.ID, day2)
	require.NoError(t, err)
	assert.Empty(t, avail)
}

func TestRegenerateAfterShorteningDropsEmptyDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)

	end := day2
	_, err := f.svc.UpdateProgram(ctx, f.actor, p.ID, scheduling.ProgramUpdate{EndDate: &end})
	require.NoError(t, err)

	n, err := f.svc.GenerateSlots(ctx, f.actor, p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	days, err := f.store.ListDayGroups(ctx, f.actor.OrganizationID, p.ID)
	require.NoError(t, err)
	require.Len(t, days, 2)
	for _, d := range days {
		assert.False(t, d.Date.After(day2), "day group left on %s", interval.FormatDate(d.Date))
	}

	slots, err := f.svc.ListSlots(ctx, f.actor.OrganizationID, scheduling.SlotFilter{ProgramID: p.ID, Date: &day3})
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestRegenerateKeepsDayWithOpenedSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generated(t)
	kept := f.slotAt(t, p.ID, day3, interval.Clock(8, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, kept.ID)
	require.NoError(t, err)

	end := day2
	_, err = f.svc.UpdateProgram(ctx, f.actor, p.ID, scheduling.ProgramUpdate{EndDate: &end})
	require.NoError(t, err)
	_, err = f.svc.GenerateSlots(ctx, f.actor, p.ID, true)
	require.NoError(t, err)

	days, err := f.store.ListDayGroups(ctx, f.actor.OrganizationID, p.ID)
	require.NoError(t, err)
	assert.Len(t, days, 3)
}
