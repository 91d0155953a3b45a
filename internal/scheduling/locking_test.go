package scheduling_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/scheduling"
	"github.com/hackgods/specialist-scheduling/internal/scheduling/memstore"
)

// slowStore widens the window in which bookings hold the specialist lock.
type slowStore struct {
	*memstore.Store
	delay time.Duration
}

func (s *slowStore) ListActiveAppointments(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time) ([]scheduling.Appointment, error) {
	time.Sleep(s.delay)
	return s.Store.ListActiveAppointments(ctx, orgID, specialistID, date)
}

func TestConcurrentDisjointBookingsAllSucceed(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{
		wrap: func(s *memstore.Store) scheduling.Repository { return &slowStore{Store: s, delay: 5 * time.Millisecond} },
	})
	ctx := context.Background()
	specialist := uuid.New()
	branch := uuid.New()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := interval.Clock(8, 0).Add(30 * i)
			_, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{
				SpecialistID: specialist,
				PatientID:    uuid.New(),
				BranchID:     branch,
				Date:         day1,
				Start:        start,
				End:          start.Add(30),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	list, err := f.svc.ListAppointments(ctx, f.actor.OrganizationID, scheduling.AppointmentFilter{SpecialistID: &specialist})
	require.NoError(t, err)
	assert.Len(t, list, workers)
}

func bookingLockKey(orgID, specialistID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("specialist:%s:%s:%s", orgID, specialistID, interval.FormatDate(date))
}

func TestBookingWaitsForHeldLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	specialist := uuid.New()

	held := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.locker.WithLock(ctx, bookingLockKey(f.actor.OrganizationID, specialist, day1), func(ctx context.Context) error {
			close(held)
			time.Sleep(30 * time.Millisecond)
			return nil
		})
	}()
	<-held

	a, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{
		SpecialistID: specialist,
		PatientID:    uuid.New(),
		BranchID:     uuid.New(),
		Date:         day1,
		Start:        interval.Clock(9, 0),
		End:          interval.Clock(9, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusPending, a.Status)
	require.NoError(t, <-done)
}

func TestBookingGivesUpOnLockAfterWait(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{lockWait: 40 * time.Millisecond})
	ctx := context.Background()
	specialist := uuid.New()

	err := f.locker.WithLock(ctx, bookingLockKey(f.actor.OrganizationID, specialist, day1), func(ctx context.Context) error {
		started := time.Now()
		_, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{
			SpecialistID: specialist,
			PatientID:    uuid.New(),
			BranchID:     uuid.New(),
			Date:         day1,
			Start:        interval.Clock(9, 0),
			End:          interval.Clock(9, 30),
		})
		assert.ErrorIs(t, err, scheduling.ErrLocked)
		assert.Less(t, time.Since(started), time.Second)
		return nil
	})
	require.NoError(t, err)
}

const (
	rankAppointment = iota + 1
	rankProgram
	rankDay
	rankSlot
)

type lockStep struct {
	rank int
	key  string
}

// lockRecorder logs every row lock taken through the repository.
type lockRecorder struct {
	*memstore.Store
	mu    sync.Mutex
	steps []lockStep
}

func (r *lockRecorder) record(rank int, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, lockStep{rank: rank, key: key})
}

func (r *lockRecorder) take() []lockStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.steps
	r.steps = nil
	return out
}

func (r *lockRecorder) LockAppointment(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Appointment, error) {
	r.record(rankAppointment, "appointment:"+id.String())
	return r.Store.LockAppointment(ctx, orgID, id)
}

func (r *lockRecorder) LockProgram(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Program, error) {
	r.record(rankProgram, "program:"+id.String())
	return r.Store.LockProgram(ctx, orgID, id)
}

func (r *lockRecorder) LockDayGroup(ctx context.Context, orgID, programID uuid.UUID, date time.Time) (*scheduling.DaySlotGroup, error) {
	r.record(rankDay, "day:"+programID.String()+":"+interval.FormatDate(date))
	return r.Store.LockDayGroup(ctx, orgID, programID, date)
}

func (r *lockRecorder) CloseDayGroups(ctx context.Context, orgID, programID uuid.UUID, at time.Time) (int, error) {
	r.record(rankDay, "day:"+programID.String()+":*")
	return r.Store.CloseDayGroups(ctx, orgID, programID, at)
}

func (r *lockRecorder) LockSlot(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Slot, error) {
	r.record(rankSlot, "slot:"+id.String())
	return r.Store.LockSlot(ctx, orgID, id)
}

func (r *lockRecorder) LockSlotsForDate(ctx context.Context, orgID, programID uuid.UUID, date time.Time) ([]scheduling.Slot, error) {
	r.record(rankSlot, "slots:"+programID.String()+":"+interval.FormatDate(date))
	return r.Store.LockSlotsForDate(ctx, orgID, programID, date)
}

func (r *lockRecorder) CloseUnoccupiedSlots(ctx context.Context, orgID, programID uuid.UUID, at time.Time) (int, error) {
	r.record(rankSlot, "slots:"+programID.String()+":*")
	return r.Store.CloseUnoccupiedSlots(ctx, orgID, programID, at)
}

// assertLockOrder checks that no new lock ranks below one already held.
// Taking a lock the transaction already holds again is fine.
func assertLockOrder(t *testing.T, op string, steps []lockStep) {
	t.Helper()
	require.NotEmpty(t, steps, op)
	held := make(map[string]bool)
	top := 0
	for _, s := range steps {
		if held[s.key] {
			continue
		}
		assert.GreaterOrEqual(t, s.rank, top, "%s: %s taken after a rank %d lock", op, s.key, top)
		held[s.key] = true
		top = max(top, s.rank)
	}
}

func TestWritersLockInOneOrder(t *testing.T) {
	var rec *lockRecorder
	f := newFixtureWith(t, fixtureOptions{
		wrap: func(s *memstore.Store) scheduling.Repository {
			rec = &lockRecorder{Store: s}
			return rec
		},
	})
	ctx := context.Background()
	p := f.generated(t)
	rec.take()

	slot := f.slotAt(t, p.ID, day1, interval.Clock(8, 0))
	_, err := f.svc.OpenSlot(ctx, f.actor, slot.ID)
	require.NoError(t, err)
	assertLockOrder(t, "open slot", rec.take())

	_, err = f.svc.OpenDate(ctx, f.actor, p.ID, day2, true)
	require.NoError(t, err)
	assertLockOrder(t, "open date", rec.take())

	a, err := f.svc.BookAppointment(ctx, f.actor, scheduling.BookingRequest{PatientID: uuid.New(), SlotID: &slot.ID})
	require.NoError(t, err)
	assertLockOrder(t, "book", rec.take())

	_, err = f.svc.CancelAppointment(ctx, f.actor, a.ID, "")
	require.NoError(t, err)
	assertLockOrder(t, "cancel appointment", rec.take())

	_, err = f.svc.CloseDate(ctx, f.actor, p.ID, day2)
	require.NoError(t, err)
	assertLockOrder(t, "close date", rec.take())

	_, err = f.svc.CancelProgram(ctx, f.actor, p.ID)
	require.NoError(t, err)
	assertLockOrder(t, "cancel program", rec.take())
}
