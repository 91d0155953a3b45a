package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/specialist-scheduling/internal/db"
	"github.com/hackgods/specialist-scheduling/internal/interval"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

// queryable is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, r.pool, fn)
}

const (
	programColumns = `id, organization_id, specialist_id, branch_id, room_id, start_date, end_date,
		window_start, window_end, slot_interval_minutes, status, created_by, created_at, updated_at, deleted_at`
	dayGroupColumns = `id, program_id, organization_id, slot_date, state, opened_by, opened_at, created_at, updated_at`
	slotColumns     = `id, program_id, day_group_id, organization_id, specialist_id, slot_date, slot_time, slot_end,
		state, blocked_from, opened_by, opened_at, created_at, updated_at`
	appointmentColumns = `id, organization_id, specialist_id, patient_id, branch_id, room_id, slot_id, appt_date,
		starts_at, ends_at, status, cancellation_reason, created_by, created_at, updated_at, expires_at`
)

// Helpers

func pgTime(t interval.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) interval.TimeOfDay {
	return interval.TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanProgram(row pgx.Row) (*Program, error) {
	var p Program
	var ws, we pgtype.Time

	err := row.Scan(
		&p.ID,
		&p.OrganizationID,
		&p.SpecialistID,
		&p.BranchID,
		&p.RoomID,
		&p.StartDate,
		&p.EndDate,
		&ws,
		&we,
		&p.SlotIntervalMinutes,
		&p.Status,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProgramNotFound
		}
		return nil, err
	}

	p.WindowStart, p.WindowEnd = fromPgTime(ws), fromPgTime(we)
	return &p, nil
}

func scanDayGroup(row pgx.Row) (*DaySlotGroup, error) {
	var g DaySlotGroup

	err := row.Scan(
		&g.ID,
		&g.ProgramID,
		&g.OrganizationID,
		&g.Date,
		&g.State,
		&g.OpenedBy,
		&g.OpenedAt,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDayGroupNotFound
		}
		return nil, err
	}
	return &g, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var start, end pgtype.Time
	var blockedFrom *string

	err := row.Scan(
		&s.ID,
		&s.ProgramID,
		&s.DayGroupID,
		&s.OrganizationID,
		&s.SpecialistID,
		&s.Date,
		&start,
		&end,
		&s.State,
		&blockedFrom,
		&s.OpenedBy,
		&s.OpenedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Start, s.End = fromPgTime(start), fromPgTime(end)
	if blockedFrom != nil {
		s.BlockedFrom = SlotState(*blockedFrom)
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var startsAt, endsAt time.Time
	var reason *string

	err := row.Scan(
		&a.ID,
		&a.OrganizationID,
		&a.SpecialistID,
		&a.PatientID,
		&a.BranchID,
		&a.RoomID,
		&a.SlotID,
		&a.Date,
		&startsAt,
		&endsAt,
		&a.Status,
		&reason,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	rng, err := interval.New(startsAt, endsAt)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	a.Range = rng
	if reason != nil {
		a.CancellationReason = *reason
	}
	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Programs

func (r *PgRepository) CreateProgram(ctx context.Context, p *Program) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO programs (`+programColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULL)
	`, p.ID, p.OrganizationID, p.SpecialistID, p.BranchID, p.RoomID, p.StartDate, p.EndDate,
		pgTime(p.WindowStart), pgTime(p.WindowEnd), p.SlotIntervalMinutes, p.Status, p.CreatedBy,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert program: %w", err)
	}
	return nil
}

func (r *PgRepository) GetProgram(ctx context.Context, orgID, id uuid.UUID) (*Program, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+programColumns+`
		FROM programs
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, orgID)
	return scanProgram(row)
}

func (r *PgRepository) LockProgram(ctx context.Context, orgID, id uuid.UUID) (*Program, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+programColumns+`
		FROM programs
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
		FOR UPDATE
	`, id, orgID)
	return scanProgram(row)
}

func (r *PgRepository) UpdateProgram(ctx context.Context, p *Program) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE programs
		SET start_date = $3,
		    end_date = $4,
		    window_start = $5,
		    window_end = $6,
		    slot_interval_minutes = $7,
		    room_id = $8,
		    status = $9,
		    updated_at = $10
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, p.ID, p.OrganizationID, p.StartDate, p.EndDate, pgTime(p.WindowStart), pgTime(p.WindowEnd),
		p.SlotIntervalMinutes, p.RoomID, p.Status, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update program: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProgramNotFound
	}
	return nil
}

func (r *PgRepository) ListPrograms(ctx context.Context, orgID uuid.UUID, f ProgramFilter) ([]Program, error) {
	var status *string
	if f.Status != "" {
		status = nullableString(string(f.Status))
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+programColumns+`
		FROM programs
		WHERE organization_id = $1
		  AND deleted_at IS NULL
		  AND ($2::uuid IS NULL OR specialist_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY start_date, id
		LIMIT $4 OFFSET $5
	`, orgID, f.SpecialistID, status, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProgram)
}

func (r *PgRepository) SoftDeleteProgram(ctx context.Context, orgID, id uuid.UUID, at time.Time) error {
	q := r.conn(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE programs SET deleted_at = $3, updated_at = $3
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, orgID, at)
	if err != nil {
		return fmt.Errorf("delete program: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProgramNotFound
	}

	if _, err := q.Exec(ctx, `
		UPDATE day_slot_groups SET deleted_at = $2, updated_at = $2
		WHERE program_id = $1 AND deleted_at IS NULL
	`, id, at); err != nil {
		return fmt.Errorf("delete day groups: %w", err)
	}
	if _, err := q.Exec(ctx, `
		UPDATE slots SET deleted_at = $2, updated_at = $2
		WHERE program_id = $1 AND deleted_at IS NULL
	`, id, at); err != nil {
		return fmt.Errorf("delete slots: %w", err)
	}
	return nil
}

// Day groups

func (r *PgRepository) InsertDayGroups(ctx context.Context, groups []DaySlotGroup) error {
	if len(groups) == 0 {
		return nil
	}
	_, err := r.conn(ctx).CopyFrom(ctx,
		pgx.Identifier{"day_slot_groups"},
		[]string{"id", "program_id", "organization_id", "slot_date", "state", "created_at", "updated_at"},
		pgx.CopyFromSlice(len(groups), func(i int) ([]any, error) {
			g := groups[i]
			return []any{g.ID, g.ProgramID, g.OrganizationID, g.Date, string(g.State), g.CreatedAt, g.UpdatedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy day groups: %w", err)
	}
	return nil
}

func (r *PgRepository) GetDayGroup(ctx context.Context, orgID, programID uuid.UUID, date time.Time) (*DaySlotGroup, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+dayGroupColumns+`
		FROM day_slot_groups
		WHERE program_id = $1 AND organization_id = $2 AND slot_date = $3 AND deleted_at IS NULL
	`, programID, orgID, interval.DateOf(date))
	return scanDayGroup(row)
}

func (r *PgRepository) LockDayGroup(ctx context.Context, orgID, programID uuid.UUID, date time.Time) (*DaySlotGroup, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+dayGroupColumns+`
		FROM day_slot_groups
		WHERE program_id = $1 AND organization_id = $2 AND slot_date = $3 AND deleted_at IS NULL
		FOR UPDATE
	`, programID, orgID, interval.DateOf(date))
	return scanDayGroup(row)
}

func (r *PgRepository) UpdateDayGroup(ctx context.Context, g *DaySlotGroup) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE day_slot_groups
		SET state = $3, opened_by = $4, opened_at = $5, updated_at = $6
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, g.ID, g.OrganizationID, g.State, g.OpenedBy, g.OpenedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update day group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDayGroupNotFound
	}
	return nil
}

func (r *PgRepository) ListDayGroups(ctx context.Context, orgID, programID uuid.UUID) ([]DaySlotGroup, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+dayGroupColumns+`
		FROM day_slot_groups
		WHERE program_id = $1 AND organization_id = $2 AND deleted_at IS NULL
		ORDER BY slot_date
	`, programID, orgID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDayGroup)
}

func (r *PgRepository) CloseDayGroups(ctx context.Context, orgID, programID uuid.UUID, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE day_slot_groups
		SET state = 'closed', updated_at = $3
		WHERE program_id = $1 AND organization_id = $2 AND deleted_at IS NULL AND state <> 'closed'
	`, programID, orgID, at)
	if err != nil {
		return 0, fmt.Errorf("close day groups: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) CountDayStates(ctx context.Context, orgID, programID uuid.UUID) (map[DayState]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT state, count(*)
		FROM day_slot_groups
		WHERE program_id = $1 AND organization_id = $2 AND deleted_at IS NULL
		GROUP BY state
	`, programID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[DayState]int)
	for rows.Next() {
		var state DayState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, rows.Err()
}

// Slots

func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) error {
	if len(slots) == 0 {
		return nil
	}
	_, err := r.conn(ctx).CopyFrom(ctx,
		pgx.Identifier{"slots"},
		[]string{"id", "program_id", "day_group_id", "organization_id", "specialist_id",
			"slot_date", "slot_time", "slot_end", "state", "created_at", "updated_at"},
		pgx.CopyFromSlice(len(slots), func(i int) ([]any, error) {
			s := slots[i]
			return []any{s.ID, s.ProgramID, s.DayGroupID, s.OrganizationID, s.SpecialistID,
				s.Date, pgTime(s.Start), pgTime(s.End), string(s.State), s.CreatedAt, s.UpdatedAt}, nil
		}),
	)
	if isUniqueViolation(err, "slots_program_date_time_uniq") {
		return ErrAlreadyGenerated
	}
	if err != nil {
		return fmt.Errorf("copy slots: %w", err)
	}
	return nil
}

func (r *PgRepository) CountSlots(ctx context.Context, orgID, programID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT count(*) FROM slots
		WHERE program_id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, programID, orgID).Scan(&n)
	return n, err
}

func (r *PgRepository) GetSlot(ctx context.Context, orgID, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, orgID)
	return scanSlot(row)
}

func (r *PgRepository) LockSlot(ctx context.Context, orgID, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
		FOR UPDATE
	`, id, orgID)
	return scanSlot(row)
}

func (r *PgRepository) LockSlotsForDate(ctx context.Context, orgID, programID uuid.UUID, date time.Time) ([]Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE program_id = $1 AND organization_id = $2 AND slot_date = $3 AND deleted_at IS NULL
		ORDER BY slot_time
		FOR UPDATE
	`, programID, orgID, interval.DateOf(date))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) UpdateSlot(ctx context.Context, s *Slot) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slots
		SET state = $3, blocked_from = $4, opened_by = $5, opened_at = $6, updated_at = $7
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, s.ID, s.OrganizationID, s.State, nullableString(string(s.BlockedFrom)), s.OpenedBy, s.OpenedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) ListSlots(ctx context.Context, orgID uuid.UUID, f SlotFilter) ([]Slot, error) {
	var date *time.Time
	if f.Date != nil {
		d := interval.DateOf(*f.Date)
		date = &d
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE program_id = $1
		  AND organization_id = $2
		  AND deleted_at IS NULL
		  AND ($3::date IS NULL OR slot_date = $3)
		  AND ($4::text IS NULL OR state = $4)
		ORDER BY slot_date, slot_time
	`, f.ProgramID, orgID, date, nullableString(string(f.State)))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) CountSlotStates(ctx context.Context, orgID, programID uuid.UUID) (map[SlotState]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT state, count(*)
		FROM slots
		WHERE program_id = $1 AND organization_id = $2 AND deleted_at IS NULL
		GROUP BY state
	`, programID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[SlotState]int)
	for rows.Next() {
		var state SlotState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, rows.Err()
}

func (r *PgRepository) CloseUnoccupiedSlots(ctx context.Context, orgID, programID uuid.UUID, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slots
		SET state = 'closed', blocked_from = NULL, updated_at = $3
		WHERE program_id = $1 AND organization_id = $2 AND deleted_at IS NULL
		  AND state NOT IN ('occupied', 'closed')
	`, programID, orgID, at)
	if err != nil {
		return 0, fmt.Errorf("close slots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) DiscardEmptyDayGroups(ctx context.Context, orgID, programID uuid.UUID, start, end, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE day_slot_groups g
		SET deleted_at = $5, updated_at = $5
		WHERE g.program_id = $1 AND g.organization_id = $2 AND g.deleted_at IS NULL
		  AND (g.slot_date < $3 OR g.slot_date > $4)
		  AND NOT EXISTS (
		      SELECT 1 FROM slots s
		      WHERE s.program_id = g.program_id AND s.slot_date = g.slot_date AND s.deleted_at IS NULL
		  )
	`, programID, orgID, interval.DateOf(start), interval.DateOf(end), at)
	if err != nil {
		return 0, fmt.Errorf("discard day groups: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) DiscardUnopenedSlots(ctx context.Context, orgID, programID uuid.UUID, from, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slots
		SET deleted_at = $4, updated_at = $4
		WHERE program_id = $1 AND organization_id = $2 AND deleted_at IS NULL
		  AND state = 'closed' AND opened_at IS NULL AND slot_date >= $3
	`, programID, orgID, interval.DateOf(from), at)
	if err != nil {
		return 0, fmt.Errorf("discard slots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Appointments

// LockSpecialistDay takes a transaction-scoped advisory lock so concurrent
// bookings for one specialist and date run one after another.
func (r *PgRepository) LockSpecialistDay(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time) error {
	key := specialistDayKey(orgID, specialistID, date)
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock specialist day: %w", err)
	}
	return nil
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1
		  AND specialist_id = $2
		  AND appt_date = $3
		  AND status IN ('pending', 'confirmed', 'in_progress')
		ORDER BY starts_at
	`, orgID, specialistID, interval.DateOf(date))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, a.ID, a.OrganizationID, a.SpecialistID, a.PatientID, a.BranchID, a.RoomID, a.SlotID, a.Date,
		a.Range.Start(), a.Range.End(), a.Status, nullableString(a.CancellationReason), a.CreatedBy,
		a.CreatedAt, a.UpdatedAt, a.ExpiresAt)
	if isUniqueViolation(err, "appointments_active_slot_uniq") {
		return ErrSlotUnavailable
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	return scanAppointment(row)
}

func (r *PgRepository) LockAppointment(ctx context.Context, orgID, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, id, orgID)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET slot_id = $3,
		    appt_date = $4,
		    starts_at = $5,
		    ends_at = $6,
		    status = $7,
		    cancellation_reason = $8,
		    updated_at = $9,
		    expires_at = $10
		WHERE id = $1 AND organization_id = $2
	`, a.ID, a.OrganizationID, a.SlotID, a.Date, a.Range.Start(), a.Range.End(), a.Status,
		nullableString(a.CancellationReason), a.UpdatedAt, a.ExpiresAt)
	if isUniqueViolation(err, "appointments_active_slot_uniq") {
		return ErrSlotUnavailable
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, orgID uuid.UUID, f AppointmentFilter) ([]Appointment, error) {
	var date *time.Time
	if f.Date != nil {
		d := interval.DateOf(*f.Date)
		date = &d
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1
		  AND ($2::uuid IS NULL OR specialist_id = $2)
		  AND ($3::uuid IS NULL OR patient_id = $3)
		  AND ($4::uuid IS NULL OR slot_id = $4)
		  AND ($5::date IS NULL OR appt_date = $5)
		  AND ($6::text IS NULL OR status = $6)
		ORDER BY starts_at
		LIMIT $7 OFFSET $8
	`, orgID, f.SpecialistID, f.PatientID, f.SlotID, date, nullableString(string(f.Status)), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

// Event outbox

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scheduling_events (event_type, organization_id, program_id, slot_id, appointment_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
	`, ev.EventType, ev.OrganizationID, ev.ProgramID, ev.SlotID, ev.AppointmentID, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert scheduling event: %w", err)
	}
	return nil
}

var _ Repository = (*PgRepository)(nil)
