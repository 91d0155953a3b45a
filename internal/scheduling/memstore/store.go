// Package memstore is an in-memory scheduling.Repository. A transaction holds
// one store-wide mutex and restores a snapshot when it fails, which gives the
// same all-or-nothing and mutual exclusion guarantees the Postgres
// repository gets from row locks.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/specialist-scheduling/internal/interval"
	"github.com/hackgods/specialist-scheduling/internal/scheduling"
)

type txKey struct{}

type Store struct {
	mu           sync.Mutex
	programs     map[uuid.UUID]scheduling.Program
	groups       map[uuid.UUID]scheduling.DaySlotGroup
	slots        map[uuid.UUID]scheduling.Slot
	deletedDays  map[uuid.UUID]bool
	deletedSlots map[uuid.UUID]bool
	appointments map[uuid.UUID]scheduling.Appointment
	events       []scheduling.EventLog
}

func New() *Store {
	return &Store{
		programs:     make(map[uuid.UUID]scheduling.Program),
		groups:       make(map[uuid.UUID]scheduling.DaySlotGroup),
		slots:        make(map[uuid.UUID]scheduling.Slot),
		deletedDays:  make(map[uuid.UUID]bool),
		deletedSlots: make(map[uuid.UUID]bool),
		appointments: make(map[uuid.UUID]scheduling.Appointment),
	}
}

type snapshot struct {
	programs     map[uuid.UUID]scheduling.Program
	groups       map[uuid.UUID]scheduling.DaySlotGroup
	slots        map[uuid.UUID]scheduling.Slot
	deletedDays  map[uuid.UUID]bool
	deletedSlots map[uuid.UUID]bool
	appointments map[uuid.UUID]scheduling.Appointment
	events       int
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		programs:     copyMap(s.programs),
		groups:       copyMap(s.groups),
		slots:        copyMap(s.slots),
		deletedDays:  copyMap(s.deletedDays),
		deletedSlots: copyMap(s.deletedSlots),
		appointments: copyMap(s.appointments),
		events:       len(s.events),
	}
}

func (s *Store) restore(snap snapshot) {
	s.programs = snap.programs
	s.groups = snap.groups
	s.slots = snap.slots
	s.deletedDays = snap.deletedDays
	s.deletedSlots = snap.deletedSlots
	s.appointments = snap.appointments
	s.events = s.events[:snap.events]
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// guard takes the store mutex unless ctx is already inside WithTx.
func (s *Store) guard(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Events returns a copy of the outbox rows written so far.
func (s *Store) Events() []scheduling.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scheduling.EventLog, len(s.events))
	copy(out, s.events)
	return out
}

// Programs

func (s *Store) CreateProgram(ctx context.Context, p *scheduling.Program) error {
	defer s.guard(ctx)()
	s.programs[p.ID] = *p
	return nil
}

func (s *Store) liveProgram(orgID, id uuid.UUID) (*scheduling.Program, error) {
	p, ok := s.programs[id]
	if !ok || p.OrganizationID != orgID || p.DeletedAt != nil {
		return nil, scheduling.ErrProgramNotFound
	}
	return &p, nil
}

func (s *Store) GetProgram(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Program, error) {
	defer s.guard(ctx)()
	return s.liveProgram(orgID, id)
}

func (s *Store) LockProgram(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Program, error) {
	return s.GetProgram(ctx, orgID, id)
}

func (s *Store) UpdateProgram(ctx context.Context, p *scheduling.Program) error {
	defer s.guard(ctx)()
	if _, err := s.liveProgram(p.OrganizationID, p.ID); err != nil {
		return err
	}
	s.programs[p.ID] = *p
	return nil
}

func (s *Store) ListPrograms(ctx context.Context, orgID uuid.UUID, f scheduling.ProgramFilter) ([]scheduling.Program, error) {
	defer s.guard(ctx)()
	var out []scheduling.Program
	for _, p := range s.programs {
		if p.OrganizationID != orgID || p.DeletedAt != nil {
			continue
		}
		if f.SpecialistID != nil && p.SpecialistID != *f.SpecialistID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) SoftDeleteProgram(ctx context.Context, orgID, id uuid.UUID, at time.Time) error {
	defer s.guard(ctx)()
	p, err := s.liveProgram(orgID, id)
	if err != nil {
		return err
	}
	p.DeletedAt = &at
	s.programs[id] = *p
	for gid, g := range s.groups {
		if g.ProgramID == id {
			s.deletedDays[gid] = true
		}
	}
	for sid, sl := range s.slots {
		if sl.ProgramID == id {
			s.deletedSlots[sid] = true
		}
	}
	return nil
}

// Day groups

func (s *Store) InsertDayGroups(ctx context.Context, groups []scheduling.DaySlotGroup) error {
	defer s.guard(ctx)()
	for _, g := range groups {
		s.groups[g.ID] = g
	}
	return nil
}

func (s *Store) findDay(orgID, programID uuid.UUID, date time.Time) (*scheduling.DaySlotGroup, error) {
	date = interval.DateOf(date)
	for id, g := range s.groups {
		if s.deletedDays[id] || g.OrganizationID != orgID || g.ProgramID != programID {
			continue
		}
		if g.Date.Equal(date) {
			return &g, nil
		}
	}
	return nil, scheduling.ErrDayGroupNotFound
}

func (s *Store) GetDayGroup(ctx context.Context, orgID, programID uuid.UUID, date time.Time) (*scheduling.DaySlotGroup, error) {
	defer s.guard(ctx)()
	return s.findDay(orgID, programID, date)
}

func (s *Store) LockDayGroup(ctx context.Context, orgID, programID uuid.UUID, date time.Time) (*scheduling.DaySlotGroup, error) {
	return s.GetDayGroup(ctx, orgID, programID, date)
}

func (s *Store) UpdateDayGroup(ctx context.Context, g *scheduling.DaySlotGroup) error {
	defer s.guard(ctx)()
	if _, ok := s.groups[g.ID]; !ok || s.deletedDays[g.ID] {
		return scheduling.ErrDayGroupNotFound
	}
	s.groups[g.ID] = *g
	return nil
}

func (s *Store) ListDayGroups(ctx context.Context, orgID, programID uuid.UUID) ([]scheduling.DaySlotGroup, error) {
	defer s.guard(ctx)()
	var out []scheduling.DaySlotGroup
	for id, g := range s.groups {
		if !s.deletedDays[id] && g.OrganizationID == orgID && g.ProgramID == programID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) CloseDayGroups(ctx context.Context, orgID, programID uuid.UUID, at time.Time) (int, error) {
	defer s.guard(ctx)()
	n := 0
	for id, g := range s.groups {
		if s.deletedDays[id] || g.OrganizationID != orgID || g.ProgramID != programID || g.State == scheduling.DayClosed {
			continue
		}
		g.State = scheduling.DayClosed
		g.UpdatedAt = at
		s.groups[id] = g
		n++
	}
	return n, nil
}

func (s *Store) CountDayStates(ctx context.Context, orgID, programID uuid.UUID) (map[scheduling.DayState]int, error) {
	defer s.guard(ctx)()
	out := make(map[scheduling.DayState]int)
	for id, g := range s.groups {
		if !s.deletedDays[id] && g.OrganizationID == orgID && g.ProgramID == programID {
			out[g.State]++
		}
	}
	return out, nil
}

// Slots

func (s *Store) InsertSlots(ctx context.Context, slots []scheduling.Slot) error {
	defer s.guard(ctx)()
	for _, sl := range slots {
		s.slots[sl.ID] = sl
	}
	return nil
}

func (s *Store) programSlots(orgID, programID uuid.UUID) []scheduling.Slot {
	var out []scheduling.Slot
	for id, sl := range s.slots {
		if !s.deletedSlots[id] && sl.OrganizationID == orgID && sl.ProgramID == programID {
			out = append(out, sl)
		}
	}
	sortSlots(out)
	return out
}

func sortSlots(slots []scheduling.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Date.Equal(slots[j].Date) {
			return slots[i].Date.Before(slots[j].Date)
		}
		return slots[i].Start < slots[j].Start
	})
}

func (s *Store) CountSlots(ctx context.Context, orgID, programID uuid.UUID) (int, error) {
	defer s.guard(ctx)()
	return len(s.programSlots(orgID, programID)), nil
}

func (s *Store) GetSlot(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Slot, error) {
	defer s.guard(ctx)()
	sl, ok := s.slots[id]
	if !ok || s.deletedSlots[id] || sl.OrganizationID != orgID {
		return nil, scheduling.ErrSlotNotFound
	}
	return &sl, nil
}

func (s *Store) LockSlot(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Slot, error) {
	return s.GetSlot(ctx, orgID, id)
}

func (s *Store) LockSlotsForDate(ctx context.Context, orgID, programID uuid.UUID, date time.Time) ([]scheduling.Slot, error) {
	defer s.guard(ctx)()
	date = interval.DateOf(date)
	var out []scheduling.Slot
	for _, sl := range s.programSlots(orgID, programID) {
		if sl.Date.Equal(date) {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *Store) UpdateSlot(ctx context.Context, sl *scheduling.Slot) error {
	defer s.guard(ctx)()
	if _, ok := s.slots[sl.ID]; !ok || s.deletedSlots[sl.ID] {
		return scheduling.ErrSlotNotFound
	}
	s.slots[sl.ID] = *sl
	return nil
}

func (s *Store) ListSlots(ctx context.Context, orgID uuid.UUID, f scheduling.SlotFilter) ([]scheduling.Slot, error) {
	defer s.guard(ctx)()
	var out []scheduling.Slot
	for _, sl := range s.programSlots(orgID, f.ProgramID) {
		if f.Date != nil && !sl.Date.Equal(interval.DateOf(*f.Date)) {
			continue
		}
		if f.State != "" && sl.State != f.State {
			continue
		}
		out = append(out, sl)
	}
	return out, nil
}

func (s *Store) CountSlotStates(ctx context.Context, orgID, programID uuid.UUID) (map[scheduling.SlotState]int, error) {
	defer s.guard(ctx)()
	out := make(map[scheduling.SlotState]int)
	for _, sl := range s.programSlots(orgID, programID) {
		out[sl.State]++
	}
	return out, nil
}

func (s *Store) CloseUnoccupiedSlots(ctx context.Context, orgID, programID uuid.UUID, at time.Time) (int, error) {
	defer s.guard(ctx)()
	n := 0
	for _, sl := range s.programSlots(orgID, programID) {
		if sl.State == scheduling.SlotOccupied || sl.State == scheduling.SlotClosed {
			continue
		}
		sl.State = scheduling.SlotClosed
		sl.BlockedFrom = ""
		sl.UpdatedAt = at
		s.slots[sl.ID] = sl
		n++
	}
	return n, nil
}

func (s *Store) DiscardEmptyDayGroups(ctx context.Context, orgID, programID uuid.UUID, start, end, at time.Time) (int, error) {
	defer s.guard(ctx)()
	start, end = interval.DateOf(start), interval.DateOf(end)
	used := make(map[time.Time]bool)
	for _, sl := range s.programSlots(orgID, programID) {
		used[interval.DateOf(sl.Date)] = true
	}
	n := 0
	for id, g := range s.groups {
		if s.deletedDays[id] || g.OrganizationID != orgID || g.ProgramID != programID {
			continue
		}
		d := interval.DateOf(g.Date)
		if (!d.Before(start) && !d.After(end)) || used[d] {
			continue
		}
		s.deletedDays[id] = true
		g.UpdatedAt = at
		s.groups[id] = g
		n++
	}
	return n, nil
}

func (s *Store) DiscardUnopenedSlots(ctx context.Context, orgID, programID uuid.UUID, from, at time.Time) (int, error) {
	defer s.guard(ctx)()
	from = interval.DateOf(from)
	n := 0
	for _, sl := range s.programSlots(orgID, programID) {
		if sl.State != scheduling.SlotClosed || sl.OpenedAt != nil || sl.Date.Before(from) {
			continue
		}
		s.deletedSlots[sl.ID] = true
		n++
	}
	return n, nil
}

// Appointments

// LockSpecialistDay is a no-op: WithTx already serializes everything.
func (s *Store) LockSpecialistDay(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time) error {
	return nil
}

func (s *Store) ListActiveAppointments(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time) ([]scheduling.Appointment, error) {
	defer s.guard(ctx)()
	date = interval.DateOf(date)
	var out []scheduling.Appointment
	for _, a := range s.appointments {
		if a.OrganizationID == orgID && a.SpecialistID == specialistID && a.Date.Equal(date) && a.Status.IsActive() {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func sortAppointments(out []scheduling.Appointment) {
	sort.Slice(out, func(i, j int) bool {
		return out[i].Range.Start().Before(out[j].Range.Start())
	})
}

func (s *Store) CreateAppointment(ctx context.Context, a *scheduling.Appointment) error {
	defer s.guard(ctx)()
	s.appointments[a.ID] = *a
	return nil
}

func (s *Store) GetAppointment(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Appointment, error) {
	defer s.guard(ctx)()
	a, ok := s.appointments[id]
	if !ok || a.OrganizationID != orgID {
		return nil, scheduling.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *Store) LockAppointment(ctx context.Context, orgID, id uuid.UUID) (*scheduling.Appointment, error) {
	return s.GetAppointment(ctx, orgID, id)
}

func (s *Store) UpdateAppointment(ctx context.Context, a *scheduling.Appointment) error {
	defer s.guard(ctx)()
	if _, ok := s.appointments[a.ID]; !ok {
		return scheduling.ErrAppointmentNotFound
	}
	s.appointments[a.ID] = *a
	return nil
}

func (s *Store) ListAppointments(ctx context.Context, orgID uuid.UUID, f scheduling.AppointmentFilter) ([]scheduling.Appointment, error) {
	defer s.guard(ctx)()
	var out []scheduling.Appointment
	for _, a := range s.appointments {
		if a.OrganizationID != orgID {
			continue
		}
		if f.SpecialistID != nil && a.SpecialistID != *f.SpecialistID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.SlotID != nil && (a.SlotID == nil || *a.SlotID != *f.SlotID) {
			continue
		}
		if f.Date != nil && !a.Date.Equal(interval.DateOf(*f.Date)) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sortAppointments(out)
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]scheduling.Appointment, error) {
	defer s.guard(ctx)()
	var out []scheduling.Appointment
	for _, a := range s.appointments {
		if a.Status == scheduling.StatusPending && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertEvent(ctx context.Context, ev scheduling.EventLog) error {
	defer s.guard(ctx)()
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ scheduling.Repository = (*Store)(nil)
