package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/specialist-scheduling/internal/interval"
)

// FindConflicts returns the active appointments in existing whose range
// overlaps proposed, skipping exclude (the appointment being rescheduled).
func FindConflicts(existing []Appointment, proposed interval.TimeRange, exclude *uuid.UUID) []Appointment {
	var out []Appointment
	for _, a := range existing {
		if !a.Status.IsActive() {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if interval.Overlaps(a.Range, proposed) {
			out = append(out, a)
		}
	}
	return out
}

// ConflictDetector is the single double-booking check. Call it inside the
// transaction that writes the appointment, after LockSpecialistDay.
type ConflictDetector struct {
	repo Repository
}

func NewConflictDetector(repo Repository) *ConflictDetector {
	return &ConflictDetector{repo: repo}
}

func (d *ConflictDetector) Check(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time, proposed interval.TimeRange, exclude *uuid.UUID) ([]Appointment, error) {
	existing, err := d.repo.ListActiveAppointments(ctx, orgID, specialistID, interval.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	return FindConflicts(existing, proposed, exclude), nil
}

// Ensure is Check that turns any overlap into a *ConflictError.
func (d *ConflictDetector) Ensure(ctx context.Context, orgID, specialistID uuid.UUID, date time.Time, proposed interval.TimeRange, exclude *uuid.UUID) error {
	conflicts, err := d.Check(ctx, orgID, specialistID, date, proposed, exclude)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}
