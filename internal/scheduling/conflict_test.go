package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/specialist-scheduling/internal/interval"
)

var conflictDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func appt(t *testing.T, start, end interval.TimeOfDay, status AppointmentStatus) Appointment {
	t.Helper()
	r, err := interval.OnDate(conflictDay, start, end, time.UTC)
	require.NoError(t, err)
	return Appointment{ID: uuid.New(), Date: conflictDay, Range: r, Status: status}
}

func proposed(t *testing.T, start, end interval.TimeOfDay) interval.TimeRange {
	t.Helper()
	r, err := interval.OnDate(conflictDay, start, end, time.UTC)
	require.NoError(t, err)
	return r
}

func TestFindConflicts(t *testing.T) {
	existing := []Appointment{
		appt(t, interval.Clock(9, 0), interval.Clock(9, 30), StatusConfirmed),
		appt(t, interval.Clock(11, 0), interval.Clock(12, 0), StatusCancelled),
	}

	got := FindConflicts(existing, proposed(t, interval.Clock(9, 15), interval.Clock(9, 45)), nil)
	require.Len(t, got, 1)
	assert.Equal(t, existing[0].ID, got[0].ID)

	// touching ranges do not overlap
	assert.Empty(t, FindConflicts(existing, proposed(t, interval.Clock(9, 30), interval.Clock(10, 0)), nil))

	// cancelled appointments free their time
	assert.Empty(t, FindConflicts(existing, proposed(t, interval.Clock(11, 0), interval.Clock(11, 30)), nil))
}

func TestFindConflictsExcludesRescheduledAppointment(t *testing.T) {
	a := appt(t, interval.Clock(9, 0), interval.Clock(9, 30), StatusPending)
	existing := []Appointment{a}

	assert.Len(t, FindConflicts(existing, proposed(t, interval.Clock(9, 0), interval.Clock(9, 30)), nil), 1)
	assert.Empty(t, FindConflicts(existing, proposed(t, interval.Clock(9, 0), interval.Clock(9, 30)), &a.ID))
}

func TestConflictErrorMatchesSentinel(t *testing.T) {
	a := appt(t, interval.Clock(9, 0), interval.Clock(9, 30), StatusConfirmed)
	var err error = &ConflictError{Conflicts: []Appointment{a}}

	assert.ErrorIs(t, err, ErrSchedulingConflict)
	assert.Contains(t, err.Error(), "09:00-09:30")

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Len(t, ce.Conflicts, 1)
}

func TestErrorRefinements(t *testing.T) {
	assert.ErrorIs(t, ErrDateClosed, ErrSlotUnavailable)
	assert.ErrorIs(t, ErrDateClosed, ErrInvalidTransition)
	assert.ErrorIs(t, ErrSlotBusy, ErrInvalidTransition)
	assert.ErrorIs(t, ErrProgramClosed, ErrInvalidTransition)
	assert.NotErrorIs(t, ErrSlotBusy, ErrSlotUnavailable)
}
