package trigger

import (
	"context"
	"log/slog"
	"time"

	"urns/internal/types"
)

// Store is the slice of reminder storage the engine needs.
type Store interface {
	Get(id string) (*types.Reminder, bool)
	Update(id string, fn func(*types.Reminder)) bool
}

// Registrar is the slice of the scheduler the engine drives.
type Registrar interface {
	Register(eventID, reminderID string, dueAt time.Time, action func(ctx context.Context))
	CancelAll(reminderID string)
	Clear()
}

// Firer performs a delivery attempt for a reminder when its event comes due.
type Firer interface {
	Fire(ctx context.Context, reminderID string)
}

// Engine registers reminders with the scheduler. A reminder's primary event
// is keyed by its own ID, so re-registering replaces rather than duplicates.
// Recurring reminders chain: each occurrence re-registers the next cron tick
// before handing off to the delivery engine.
type Engine struct {
	store  Store
	sched  Registrar
	firer  Firer
	clock  types.Clock
	logger *slog.Logger
}

// NewEngine wires a trigger engine. A nil clock defaults to real UTC time.
func NewEngine(store Store, sched Registrar, firer Firer, clock types.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, sched: sched, firer: firer, clock: clock, logger: logger}
}

// Register computes the reminder's first fire time, records it on the
// reminder, and registers the primary event. One-shot reminders whose time
// has already passed fire on the next loop pass rather than erroring.
func (e *Engine) Register(rem *types.Reminder) (time.Time, error) {
	switch rem.Kind {
	case types.KindOneShot:
		if rem.When == nil {
			return time.Time{}, types.NewAppError(
				types.ErrCodeValidationInvalidWhen, "one-shot reminder has no fire time", nil)
		}
		fireAt := rem.When.UTC()
		e.setNextFireAt(rem.ID, fireAt)
		e.sched.Register(rem.ID, rem.ID, fireAt, e.oneShotAction(rem.ID))
		return fireAt, nil

	case types.KindRecurring:
		sched, err := ParseCron(rem.Cron)
		if err != nil {
			return time.Time{}, err
		}
		fireAt := NextCronFire(sched, e.clock.Now())
		e.setNextFireAt(rem.ID, fireAt)
		e.sched.Register(rem.ID, rem.ID, fireAt, e.recurringAction(rem.ID, rem.Cron))
		return fireAt, nil

	default:
		return time.Time{}, types.NewAppError(
			types.ErrCodeValidationInvalidType, "unknown schedule kind", nil)
	}
}

// Cancel drops every pending event for the reminder, including retries.
func (e *Engine) Cancel(reminderID string) {
	e.sched.CancelAll(reminderID)
}

// Clear drops every pending event for every reminder.
func (e *Engine) Clear() {
	e.sched.Clear()
}

func (e *Engine) oneShotAction(reminderID string) func(ctx context.Context) {
	return func(ctx context.Context) {
		e.firer.Fire(ctx, reminderID)
	}
}

// recurringAction fires one occurrence. It re-registers the next tick before
// delivering so a slow webhook never delays the chain, and stops silently
// once the record is gone or terminal.
func (e *Engine) recurringAction(reminderID, expr string) func(ctx context.Context) {
	return func(ctx context.Context) {
		rem, ok := e.store.Get(reminderID)
		if !ok || rem.Status.Terminal() {
			e.logger.Debug("recurring chain stopped", "reminder_id", reminderID)
			return
		}

		sched, err := ParseCron(expr)
		if err != nil {
			// The expression was validated at creation; a parse failure here
			// means the stored record was corrupted.
			e.logger.Error("stored cron expression no longer parses",
				"reminder_id", reminderID, "cron", expr, "error", err)
			return
		}

		next := NextCronFire(sched, e.clock.Now())
		e.setNextFireAt(reminderID, next)
		e.sched.Register(reminderID, reminderID, next, e.recurringAction(reminderID, expr))

		e.firer.Fire(ctx, reminderID)
	}
}

func (e *Engine) setNextFireAt(reminderID string, at time.Time) {
	e.store.Update(reminderID, func(r *types.Reminder) {
		t := at
		r.NextFireAt = &t
	})
}
