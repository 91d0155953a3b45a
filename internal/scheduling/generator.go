package scheduling

import (
	"github.com/google/uuid"

	"github.com/hackgods/specialist-scheduling/internal/interval"
)

// SlotTimes lists the slot start times within one day of p. A slot is only
// produced when its whole interval fits before the end of the window.
func SlotTimes(p Program) []interval.TimeOfDay {
	if p.SlotIntervalMinutes <= 0 {
		return nil
	}
	var out []interval.TimeOfDay
	for t := p.WindowStart; t.Add(p.SlotIntervalMinutes) <= p.WindowEnd; t = t.Add(p.SlotIntervalMinutes) {
		out = append(out, t)
	}
	return out
}

// GenerateSlots expands p into one Closed day group per date in its range and
// one Closed slot per interval step, ordered by date then time. Nothing is persisted.
func GenerateSlots(p Program) ([]DaySlotGroup, []Slot) {
	times := SlotTimes(p)
	days := interval.Days(p.StartDate, p.EndDate)

	groups := make([]DaySlotGroup, 0, len(days))
	slots := make([]Slot, 0, len(days)*len(times))

	for _, date := range days {
		g := DaySlotGroup{
			ID:             uuid.New(),
			ProgramID:      p.ID,
			OrganizationID: p.OrganizationID,
			Date:           date,
			State:          DayClosed,
		}
		groups = append(groups, g)

		for _, t := range times {
			gid := g.ID
			slots = append(slots, Slot{
				ID:             uuid.New(),
				ProgramID:      p.ID,
				DayGroupID:     &gid,
				OrganizationID: p.OrganizationID,
				SpecialistID:   p.SpecialistID,
				Date:           date,
				Start:          t,
				End:            t.Add(p.SlotIntervalMinutes),
				State:          SlotClosed,
			})
		}
	}

	return groups, slots
}
