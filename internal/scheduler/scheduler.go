// Package scheduler implements the Scheduler Core: a single event loop that
// owns every pending trigger event (primary fires and retry sub-events) in a
// min-heap ordered by due time, and invokes each event's action exactly once
// at or after its due time.
//
// Actions run in their own goroutines so that an in-flight webhook delivery
// never blocks other due events. Cancellation removes pending events only;
// it never aborts an action that has already started -- the delivery
// engine's outcome handler re-checks record existence before writing.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"urns/internal/types"
)

// Action is the work performed when an event comes due. The context is the
// scheduler's run context; actions must honor its cancellation. Declared as
// an alias so callers can pass plain function literals through their own
// narrow interfaces.
type Action = func(ctx context.Context)

// Event is one pending fire: a due time, the owning reminder, and the action
// to run. Retry sub-events carry their own event ID (derived from the
// reminder ID and attempt number) so they can coexist with, and be cancelled
// alongside, the reminder's primary registration.
type Event struct {
	ID         string
	ReminderID string
	DueAt      time.Time
	Action     Action

	index int // heap bookkeeping
}

// eventHeap orders events by due time, earliest first. Ties break on event
// ID for determinism.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].DueAt.Equal(h[j].DueAt) {
		return h[i].ID < h[j].ID
	}
	return h[i].DueAt.Before(h[j].DueAt)
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}

// Scheduler is the single authoritative owner of pending events.
type Scheduler struct {
	mu      sync.Mutex
	heap    eventHeap
	byID    map[string]*Event
	wake    chan struct{}
	clock   types.Clock
	logger  *slog.Logger
	running bool
}

// New creates a Scheduler. A nil clock defaults to real UTC time.
func New(clock types.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		byID:   make(map[string]*Event),
		wake:   make(chan struct{}, 1),
		clock:  clock,
		logger: logger,
	}
}

// SetClock overrides the clock for testing.
func (s *Scheduler) SetClock(c types.Clock) {
	s.mu.Lock()
	s.clock = c
	s.mu.Unlock()
}

// Register inserts a pending event, replacing any existing event with the
// same ID. Replacement keeps the invariant that a reminder has at most one
// primary registration under its own identifier.
func (s *Scheduler) Register(eventID, reminderID string, dueAt time.Time, action Action) {
	s.mu.Lock()
	if old, ok := s.byID[eventID]; ok {
		heap.Remove(&s.heap, old.index)
	}
	ev := &Event{ID: eventID, ReminderID: reminderID, DueAt: dueAt, Action: action}
	heap.Push(&s.heap, ev)
	s.byID[eventID] = ev
	s.mu.Unlock()

	s.kick()
}

// Cancel removes the event with the given ID, if pending.
func (s *Scheduler) Cancel(eventID string) {
	s.mu.Lock()
	if ev, ok := s.byID[eventID]; ok {
		heap.Remove(&s.heap, ev.index)
		delete(s.byID, eventID)
	}
	s.mu.Unlock()

	s.kick()
}

// CancelAll removes every pending event tied to the reminder ID: the
// primary registration and any retry sub-events. Used on cancellation and
// deletion.
func (s *Scheduler) CancelAll(reminderID string) {
	s.mu.Lock()
	for id, ev := range s.byID {
		if ev.ReminderID == reminderID {
			heap.Remove(&s.heap, ev.index)
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()

	s.kick()
}

// Clear drops every pending event. Used by delete-all.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.heap = nil
	s.byID = make(map[string]*Event)
	s.mu.Unlock()

	s.kick()
}

// NextFireAt returns the scheduler's live view of the pending due time for
// the given event ID (typically a reminder ID). Returns false when no event
// is pending under that ID.
func (s *Scheduler) NextFireAt(eventID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byID[eventID]
	if !ok {
		return time.Time{}, false
	}
	return ev.DueAt, true
}

// Pending returns the number of pending events. Intended for tests and
// introspection.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("scheduler: loop already running")

// Run drives the event loop until ctx is cancelled. It waits for the
// earliest due event, pops every event whose due time has passed, and runs
// each action in its own goroutine. Events discovered past due (including
// anything restored after a restart) fire immediately rather than being
// dropped. At most one loop may be active per Scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("scheduler loop started")
	defer s.logger.Info("scheduler loop stopped")

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.dispatchDue(ctx, func(ev *Event) { go ev.Action(ctx) })

		wait, idle := s.nextWait()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if !idle {
			timer.Reset(wait)
		}

		if idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// DispatchDue synchronously runs every event due at or before the clock's
// current reading and returns how many fired. It exists for deterministic
// tests driving a fake clock; Run uses the same popping logic with
// per-event goroutines.
func (s *Scheduler) DispatchDue(ctx context.Context) int {
	n := 0
	s.dispatchDue(ctx, func(ev *Event) {
		ev.Action(ctx)
		n++
	})
	return n
}

// dispatchDue pops due events one at a time so that an action which
// registers new events (a recurring re-registration or a retry) observes a
// consistent heap.
func (s *Scheduler) dispatchDue(ctx context.Context, run func(*Event)) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if len(s.heap) == 0 {
			s.mu.Unlock()
			return
		}
		now := s.clock.Now()
		ev := s.heap[0]
		if ev.DueAt.After(now) {
			s.mu.Unlock()
			return
		}
		heap.Pop(&s.heap)
		delete(s.byID, ev.ID)
		s.mu.Unlock()

		s.logger.Debug("event due",
			"event_id", ev.ID,
			"reminder_id", ev.ReminderID,
			"due_at", ev.DueAt.Format(time.RFC3339),
		)
		run(ev)
	}
}

// nextWait computes how long the loop may sleep before the earliest event
// is due. idle is true when no events are pending.
func (s *Scheduler) nextWait() (wait time.Duration, idle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap) == 0 {
		return 0, true
	}
	wait = s.heap[0].DueAt.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	return wait, false
}

// kick nudges the run loop to re-evaluate its wait after a mutation.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
