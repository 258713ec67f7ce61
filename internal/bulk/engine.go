// Package bulk applies one logical operation across a set of entities with
// best-effort, per-item-independent semantics. Eleven of twelve rescheduled
// is the designed success mode for front-desk work, not a degraded one.
package bulk

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/calendar"
	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/queue"
	"github.com/clinicdesk/frontdesk-core/internal/store"
)

type Kind string

const (
	// Appointment-targeted kinds.
	KindReschedule   Kind = "reschedule"
	KindCancel       Kind = "cancel"
	KindSendReminder Kind = "send-reminder-flag"
	KindExportSelect Kind = "export-select"
	// Queue-targeted kinds.
	KindStatusUpdate Kind = "status-update"
	KindDoctorChange Kind = "doctor-change"
)

var ErrUnknownKind = errors.New("unknown bulk operation kind")

// Params carries the per-kind parameters. Only the fields relevant to the
// executed kind are read.
type Params struct {
	Date        string
	Time        string
	DoctorID    *uuid.UUID
	QueueStatus model.QueueStatus
	Reason      string
	Actor       string
}

type Engine struct {
	queue    *queue.Service
	calendar *calendar.Service
	store    store.Store
	log      zerolog.Logger
}

func NewEngine(q *queue.Service, c *calendar.Service, st store.Store, log zerolog.Logger) *Engine {
	return &Engine{
		queue:    q,
		calendar: c,
		store:    st,
		log:      log,
	}
}

// Execute applies kind to every id. One item's failure never blocks or
// rolls back the others; each failure carries a typed reason. Successful
// items emit their own change events through the underlying services; there
// is no aggregate event type.
func (e *Engine) Execute(ctx context.Context, kind Kind, ids []uuid.UUID, p Params) (model.BulkResult, error) {
	apply, err := e.itemFunc(kind, p)
	if err != nil {
		return model.BulkResult{}, err
	}

	var res model.BulkResult
	for _, id := range ids {
		if err := apply(ctx, id); err != nil {
			res.Failed = append(res.Failed, model.BulkFailure{ID: id, Reason: reasonFor(err)})
			continue
		}
		res.Applied = append(res.Applied, id)
	}

	e.log.Info().
		Str("kind", string(kind)).
		Int("applied", len(res.Applied)).
		Int("failed", len(res.Failed)).
		Str("actor", p.Actor).
		Msg("bulk operation")
	return res, nil
}

func (e *Engine) itemFunc(kind Kind, p Params) (func(context.Context, uuid.UUID) error, error) {
	switch kind {
	case KindReschedule:
		return func(ctx context.Context, id uuid.UUID) error {
			_, err := e.calendar.Move(ctx, id, calendar.MoveInput{DoctorID: p.DoctorID, Date: p.Date, Time: p.Time})
			return err
		}, nil
	case KindCancel:
		return func(ctx context.Context, id uuid.UUID) error {
			_, err := e.calendar.Cancel(ctx, id, p.Reason)
			return err
		}, nil
	case KindSendReminder:
		return func(ctx context.Context, id uuid.UUID) error {
			_, err := e.calendar.MarkReminderSent(ctx, id)
			return err
		}, nil
	case KindExportSelect:
		// Export formatting is a collaborator concern; the engine only
		// verifies each selected appointment still exists.
		return func(ctx context.Context, id uuid.UUID) error {
			_, err := e.store.GetAppointment(ctx, id)
			return err
		}, nil
	case KindStatusUpdate:
		if !p.QueueStatus.Valid() {
			return nil, fmt.Errorf("%w: unknown queue status %q", model.ErrValidation, p.QueueStatus)
		}
		return func(ctx context.Context, id uuid.UUID) error {
			_, err := e.queue.Transition(ctx, id, p.QueueStatus, p.Actor)
			return err
		}, nil
	case KindDoctorChange:
		if p.DoctorID == nil {
			return nil, fmt.Errorf("%w: doctor-change needs a doctor id", model.ErrValidation)
		}
		return func(ctx context.Context, id uuid.UUID) error {
			_, err := e.queue.AssignDoctor(ctx, id, *p.DoctorID)
			return err
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

const (
	ReasonInvalidTransition = "invalid_transition"
	ReasonUnassignedDoctor  = "unassigned_doctor"
)

func reasonFor(err error) string {
	switch {
	case errors.Is(err, queue.ErrInvalidTransition):
		return ReasonInvalidTransition
	case errors.Is(err, queue.ErrUnassignedDoctor):
		return ReasonUnassignedDoctor
	default:
		return calendar.FailureReason(err)
	}
}
