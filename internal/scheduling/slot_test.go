package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slotNow = time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)

func TestSlotTransitions(t *testing.T) {
	tests := []struct {
		from    SlotState
		action  SlotAction
		to      SlotState
		wantErr error
	}{
		{SlotClosed, ActionOpen, SlotAvailable, nil},
		{SlotAvailable, ActionOpen, SlotAvailable, ErrInvalidTransition},
		{SlotAvailable, ActionOccupy, SlotOccupied, nil},
		{SlotClosed, ActionOccupy, SlotClosed, ErrSlotUnavailable},
		{SlotOccupied, ActionOccupy, SlotOccupied, ErrSlotUnavailable},
		{SlotOccupied, ActionRelease, SlotAvailable, nil},
		{SlotAvailable, ActionRelease, SlotAvailable, ErrInvalidTransition},
		{SlotAvailable, ActionBlock, SlotBlocked, nil},
		{SlotClosed, ActionBlock, SlotBlocked, nil},
		{SlotOccupied, ActionBlock, SlotOccupied, ErrSlotBusy},
		{SlotBlocked, ActionBlock, SlotBlocked, ErrInvalidTransition},
		{SlotAvailable, ActionClose, SlotClosed, nil},
		{SlotClosed, ActionClose, SlotClosed, nil},
		{SlotBlocked, ActionClose, SlotClosed, nil},
		{SlotOccupied, ActionClose, SlotOccupied, ErrSlotBusy},
		{SlotAvailable, ActionUnblock, SlotAvailable, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			s := &Slot{ID: uuid.New(), State: tt.from}
			err := s.apply(tt.action, uuid.New(), slotNow)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.to, s.State)
		})
	}
}

func TestUnblockRestoresPreviousState(t *testing.T) {
	for _, prior := range []SlotState{SlotAvailable, SlotClosed} {
		s := &Slot{State: prior}
		require.NoError(t, s.apply(ActionBlock, uuid.Nil, slotNow))
		assert.Equal(t, prior, s.BlockedFrom)

		require.NoError(t, s.apply(ActionUnblock, uuid.Nil, slotNow))
		assert.Equal(t, prior, s.State)
		assert.Empty(t, s.BlockedFrom)
	}

	legacy := &Slot{State: SlotBlocked}
	require.NoError(t, legacy.apply(ActionUnblock, uuid.Nil, slotNow))
	assert.Equal(t, SlotClosed, legacy.State)
}

func TestOpenRecordsOperator(t *testing.T) {
	user := uuid.New()
	s := &Slot{State: SlotClosed}
	require.NoError(t, s.apply(ActionOpen, user, slotNow))

	require.NotNil(t, s.OpenedBy)
	assert.Equal(t, user, *s.OpenedBy)
	require.NotNil(t, s.OpenedAt)
	assert.True(t, s.OpenedAt.Equal(slotNow))
	assert.True(t, s.UpdatedAt.Equal(slotNow))
}

func TestUnknownActionIsRejected(t *testing.T) {
	s := &Slot{State: SlotClosed}
	err := s.apply(SlotAction("teleport"), uuid.Nil, slotNow)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, SlotClosed, s.State)
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name  string
		slots map[SlotState]int
		days  map[DayState]int
		want  ProgramStatus
	}{
		{"nothing open", map[SlotState]int{SlotClosed: 8}, map[DayState]int{DayClosed: 1}, ProgramScheduled},
		{"day open", map[SlotState]int{SlotClosed: 8}, map[DayState]int{DayAvailable: 1}, ProgramAuthorizeHours},
		{"slot open", map[SlotState]int{SlotClosed: 7, SlotAvailable: 1}, map[DayState]int{DayAvailable: 1}, ProgramActive},
		{"only occupied", map[SlotState]int{SlotOccupied: 1, SlotClosed: 7}, map[DayState]int{DayClosed: 1}, ProgramActive},
		{"blocked only", map[SlotState]int{SlotBlocked: 8}, map[DayState]int{DayClosed: 1}, ProgramScheduled},
		{"empty", nil, nil, ProgramScheduled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.slots, tt.days))
		})
	}
}
