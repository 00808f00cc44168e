package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"urns/internal/config"
	"urns/internal/types"
)

// Store is the slice of reminder storage the engine needs.
type Store interface {
	Get(id string) (*types.Reminder, bool)
	Update(id string, fn func(*types.Reminder)) bool
}

// RetryScheduler registers retry sub-events for failed one-shot attempts.
type RetryScheduler interface {
	Register(eventID, reminderID string, dueAt time.Time, action func(ctx context.Context))
}

// Deliverer performs one outbound webhook attempt.
type Deliverer interface {
	Deliver(ctx context.Context, rem *types.Reminder, attempt int, firedAt time.Time) error
}

// Engine owns the reminder state machine around delivery attempts.
//
// One-shot reminders retry with a fixed backoff sequence and move to
// delivered or failed. Recurring reminders never terminate on outcome: a
// success resets the attempt counter, a failure records it and waits for
// the next cron tick.
type Engine struct {
	store      Store
	sched      RetryScheduler
	client     Deliverer
	clock      types.Clock
	logger     *slog.Logger
	maxRetries int
	backoff    []time.Duration
}

// NewEngine wires a delivery engine. A nil clock defaults to real UTC time.
func NewEngine(store Store, sched RetryScheduler, client Deliverer, cfg config.DeliveryConfig, clock types.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		sched:      sched,
		client:     client,
		clock:      clock,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}
}

// Fire performs one delivery attempt for the reminder and applies the
// outcome. Missing or terminal records are a silent no-op: the event may
// have been in flight when the reminder was cancelled or deleted.
func (e *Engine) Fire(ctx context.Context, reminderID string) {
	rem, ok := e.store.Get(reminderID)
	if !ok {
		e.logger.Debug("fire skipped, reminder gone", "reminder_id", reminderID)
		return
	}
	if rem.Status.Terminal() {
		e.logger.Debug("fire skipped, reminder terminal",
			"reminder_id", reminderID, "status", string(rem.Status))
		return
	}

	attempt := rem.Attempts + 1
	firedAt := e.clock.Now()

	err := e.client.Deliver(ctx, rem, attempt, firedAt)
	if err == nil {
		e.onSuccess(rem, attempt)
		return
	}
	e.onFailure(rem, attempt, err)
}

func (e *Engine) onSuccess(rem *types.Reminder, attempt int) {
	e.store.Update(rem.ID, func(r *types.Reminder) {
		if r.Status.Terminal() {
			return
		}
		r.LastError = ""
		switch r.Kind {
		case types.KindOneShot:
			r.Status = types.StatusDelivered
			r.Attempts = attempt
			r.NextFireAt = nil
		case types.KindRecurring:
			// The counter tracks consecutive failures; a success clears it.
			r.Attempts = 0
		}
	})

	e.logger.Info("delivery succeeded",
		"reminder_id", rem.ID,
		"app_id", rem.AppID,
		"kind", string(rem.Kind),
		"attempt", attempt,
	)
}

func (e *Engine) onFailure(rem *types.Reminder, attempt int, cause error) {
	var (
		retryAt  time.Time
		retry    bool
		terminal bool
	)

	e.store.Update(rem.ID, func(r *types.Reminder) {
		if r.Status.Terminal() {
			return
		}
		prev := r.Attempts
		r.Attempts = prev + 1
		r.LastError = cause.Error()

		if r.Kind != types.KindOneShot {
			return
		}
		if prev < e.maxRetries {
			delay := e.backoff[min(prev, len(e.backoff)-1)]
			retryAt = e.clock.Now().Add(delay)
			t := retryAt
			r.NextFireAt = &t
			retry = true
			return
		}
		r.Status = types.StatusFailed
		r.NextFireAt = nil
		terminal = true
	})

	e.logger.Warn("delivery failed",
		"reminder_id", rem.ID,
		"app_id", rem.AppID,
		"kind", string(rem.Kind),
		"attempt", attempt,
		"error", cause.Error(),
	)

	if retry {
		eventID := fmt.Sprintf("retry:%s:%d", rem.ID, attempt)
		e.sched.Register(eventID, rem.ID, retryAt, func(ctx context.Context) {
			e.Fire(ctx, rem.ID)
		})
		e.logger.Info("retry scheduled",
			"reminder_id", rem.ID,
			"event_id", eventID,
			"retry_at", retryAt.Format(time.RFC3339),
		)
		return
	}
	if terminal {
		e.logger.Error("delivery exhausted retries, reminder failed",
			"reminder_id", rem.ID,
			"app_id", rem.AppID,
			"attempts", attempt,
		)
	}
}
