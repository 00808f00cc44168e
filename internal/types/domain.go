// Package types defines the shared domain model for URNS: the Reminder
// entity, its schedule and status enums, the application error taxonomy,
// and small cross-cutting contracts (Clock, context helpers).
//
// The package is intentionally free of I/O so that every other layer can
// depend on it without dragging in transport or storage concerns.
package types

import "time"

// ScheduleKind distinguishes the two trigger families a reminder can have.
type ScheduleKind string

const (
	// KindOneShot fires exactly once at an absolute point in time.
	KindOneShot ScheduleKind = "one_shot"

	// KindRecurring fires repeatedly according to a 5-field cron
	// expression interpreted in UTC.
	KindRecurring ScheduleKind = "recurring"
)

// ReminderStatus is the lifecycle state of a reminder.
type ReminderStatus string

const (
	// StatusScheduled means the reminder has at least one future fire
	// pending (including a pending retry).
	StatusScheduled ReminderStatus = "scheduled"

	// StatusDelivered is the terminal success state, reachable only by
	// one-shot reminders.
	StatusDelivered ReminderStatus = "delivered"

	// StatusCancelled is the terminal state reached by explicit
	// cancellation.
	StatusCancelled ReminderStatus = "cancelled"

	// StatusFailed is the terminal state reached when a one-shot
	// reminder exhausts its retry budget.
	StatusFailed ReminderStatus = "failed"
)

// Terminal reports whether no further trigger events may fire for a
// reminder in this status.
func (s ReminderStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Reminder is the authoritative record for one scheduled unit of work.
//
// Invariants:
//   - ID is unique across the store for the lifetime of the process.
//   - Exactly one of When / Cron is populated, consistent with Kind.
//   - StatusDelivered is only reachable from one-shot reminders.
//   - Attempts resets to 0 on a successful recurring delivery; for
//     one-shot reminders it only increases until success or exhaustion.
//
// The store owns all Reminder records. Other components mutate them only
// through the store's Update accessor, never via retained pointers.
type Reminder struct {
	ID         string         `json:"reminder_id"`
	AppID      string         `json:"app_id"`
	Kind       ScheduleKind   `json:"type"`
	When       *time.Time     `json:"when,omitempty"`
	Cron       string         `json:"cron,omitempty"`
	WebhookURL string         `json:"webhook"`
	Payload    map[string]any `json:"payload,omitempty"`

	Status    ReminderStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`

	// NextFireAt is the store's view of the next due time. The scheduler
	// holds the live value; this field is refreshed whenever a trigger or
	// retry is (re)registered so queries stay meaningful after a fire.
	NextFireAt *time.Time `json:"next_fire_at,omitempty"`

	// IdempotencyKey is accepted at creation and stored, but duplicate
	// keys are not currently rejected or coalesced.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the reminder that is safe to hand to callers.
// The payload map is copied one level deep; payload values are treated as
// opaque and never mutated by this system.
func (r *Reminder) Clone() *Reminder {
	if r == nil {
		return nil
	}
	out := *r
	if r.When != nil {
		w := *r.When
		out.When = &w
	}
	if r.NextFireAt != nil {
		n := *r.NextFireAt
		out.NextFireAt = &n
	}
	if r.Payload != nil {
		p := make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			p[k] = v
		}
		out.Payload = p
	}
	return &out
}

// DeliveryPayload is the JSON body POSTed to a reminder's webhook target.
// The caller-supplied payload is forwarded verbatim.
type DeliveryPayload struct {
	ReminderID string         `json:"reminder_id"`
	AppID      string         `json:"app_id"`
	FiredAt    string         `json:"fired_at"` // RFC 3339, UTC
	Payload    map[string]any `json:"payload"`
}
