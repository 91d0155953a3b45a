package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventProgramCreated           = "PROGRAM_CREATED"
	EventProgramUpdated           = "PROGRAM_UPDATED"
	EventProgramDeleted           = "PROGRAM_DELETED"
	EventProgramStatusChanged     = "PROGRAM_STATUS_CHANGED"
	EventSlotsGenerated           = "SLOTS_GENERATED"
	EventDateOpened               = "DATE_OPENED"
	EventDateClosed               = "DATE_CLOSED"
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled   = "APPOINTMENT_RESCHEDULED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentExpired       = "APPOINTMENT_EXPIRED"
)

func slotEventType(action SlotAction) string {
	return "SLOT_" + strings.ToUpper(string(action))
}

// eventRef identifies the entities an outbox row is about.
type eventRef struct {
	org         uuid.UUID
	program     *uuid.UUID
	slot        *uuid.UUID
	appointment *uuid.UUID
	actor       Actor
}

// logEvent writes an outbox row in the caller's transaction, so the row
// commits or rolls back with the change it describes.
func logEvent(ctx context.Context, repo Repository, eventType string, ref eventRef, now time.Time, payload map[string]any) error {
	var data []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		data = b
	}

	ev := EventLog{
		EventType:      eventType,
		OrganizationID: ref.org,
		ProgramID:      ref.program,
		SlotID:         ref.slot,
		AppointmentID:  ref.appointment,
		ActorID:        ref.actor.userPtr(),
		Payload:        data,
		CreatedAt:      now,
	}
	if err := repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	return nil
}

func idPtr(id uuid.UUID) *uuid.UUID { return &id }

var tracer = otel.Tracer("github.com/hackgods/specialist-scheduling/internal/scheduling")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "scheduling."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
