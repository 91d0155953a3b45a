package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-scheduling/internal/scheduling"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: refinements come before the errors they wrap.
var errorMappings = []errorMapping{
	{scheduling.ErrProgramNotFound, http.StatusNotFound, "program_not_found"},
	{scheduling.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{scheduling.ErrDayGroupNotFound, http.StatusNotFound, "date_not_found"},
	{scheduling.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{scheduling.ErrInvalidRange, http.StatusUnprocessableEntity, "invalid_range"},
	{scheduling.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{scheduling.ErrSchedulingConflict, http.StatusConflict, "scheduling_conflict"},
	{scheduling.ErrAlreadyGenerated, http.StatusConflict, "already_generated"},
	{scheduling.ErrLocked, http.StatusConflict, "resource_locked"},
	{scheduling.ErrDateClosed, http.StatusConflict, "date_closed"},
	{scheduling.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
	{scheduling.ErrSlotBusy, http.StatusConflict, "slot_busy"},
	{scheduling.ErrProgramClosed, http.StatusConflict, "program_closed"},
	{scheduling.ErrHoldExpired, http.StatusConflict, "hold_expired"},
	{scheduling.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
}

// writeServiceError maps a scheduling error onto a status code and error body.
// Unknown errors are logged and reported as internal_error; their text is only
// exposed when dev is set.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, dev bool) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		resp := ErrorResponse{Error: m.code, Details: err.Error()}
		var ce *scheduling.ConflictError
		if errors.As(err, &ce) {
			resp.Conflicts = toAppointmentResponses(ce.Conflicts)
		}
		writeJSON(w, m.status, resp)
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	details := "unexpected error"
	if dev {
		details = err.Error()
	}
	writeError(w, http.StatusInternalServerError, "internal_error", details)
}
