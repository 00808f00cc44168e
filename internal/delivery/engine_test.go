package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urns/internal/config"
	"urns/internal/types"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeStore struct {
	recs map[string]*types.Reminder
}

func newFakeStore(recs ...*types.Reminder) *fakeStore {
	s := &fakeStore{recs: make(map[string]*types.Reminder)}
	for _, r := range recs {
		s.recs[r.ID] = r
	}
	return s
}

func (s *fakeStore) Get(id string) (*types.Reminder, bool) {
	r, ok := s.recs[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *fakeStore) Update(id string, fn func(*types.Reminder)) bool {
	r, ok := s.recs[id]
	if !ok {
		return false
	}
	fn(r)
	return true
}

type retryCall struct {
	eventID    string
	reminderID string
	dueAt      time.Time
	action     func(ctx context.Context)
}

type fakeRetryScheduler struct {
	calls []retryCall
}

func (f *fakeRetryScheduler) Register(eventID, reminderID string, dueAt time.Time, action func(ctx context.Context)) {
	f.calls = append(f.calls, retryCall{eventID, reminderID, dueAt, action})
}

type fakeDeliverer struct {
	err      error
	attempts []int
}

func (f *fakeDeliverer) Deliver(ctx context.Context, rem *types.Reminder, attempt int, firedAt time.Time) error {
	f.attempts = append(f.attempts, attempt)
	return f.err
}

func deliveryConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Backoff:    []time.Duration{2 * time.Second, 8 * time.Second, 30 * time.Second},
		UserAgent:  "URNS-Webhook/1.0",
	}
}

func newTestEngine(store Store, sched RetryScheduler, client Deliverer, clock types.Clock) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, sched, client, deliveryConfig(), clock, logger)
}

func oneShot(id string) *types.Reminder {
	return &types.Reminder{
		ID:         id,
		AppID:      "app_1",
		Kind:       types.KindOneShot,
		WebhookURL: "https://receiver.example.com/hook",
		Status:     types.StatusScheduled,
	}
}

func recurring(id string) *types.Reminder {
	return &types.Reminder{
		ID:         id,
		AppID:      "app_1",
		Kind:       types.KindRecurring,
		Cron:       "*/5 * * * *",
		WebhookURL: "https://receiver.example.com/hook",
		Status:     types.StatusScheduled,
	}
}

func TestEngine_Fire_OneShotSuccess(t *testing.T) {
	rem := oneShot("rem_1")
	next := time.Now().UTC()
	rem.NextFireAt = &next
	store := newFakeStore(rem)
	sched := &fakeRetryScheduler{}
	client := &fakeDeliverer{}
	engine := newTestEngine(store, sched, client, fixedClock{time.Now().UTC()})

	engine.Fire(context.Background(), "rem_1")

	assert.Equal(t, []int{1}, client.attempts)
	assert.Equal(t, types.StatusDelivered, rem.Status)
	assert.Equal(t, 1, rem.Attempts)
	assert.Empty(t, rem.LastError)
	assert.Nil(t, rem.NextFireAt)
	assert.Empty(t, sched.calls)
}

func TestEngine_Fire_OneShotFailureSchedulesRetry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rem := oneShot("rem_1")
	store := newFakeStore(rem)
	sched := &fakeRetryScheduler{}
	client := &fakeDeliverer{err: errors.New("webhook returned status 500")}
	engine := newTestEngine(store, sched, client, fixedClock{now})

	engine.Fire(context.Background(), "rem_1")

	assert.Equal(t, types.StatusScheduled, rem.Status)
	assert.Equal(t, 1, rem.Attempts)
	assert.Contains(t, rem.LastError, "status 500")

	require.Len(t, sched.calls, 1)
	call := sched.calls[0]
	assert.Equal(t, "retry:rem_1:1", call.eventID)
	assert.Equal(t, "rem_1", call.reminderID)
	assert.True(t, call.dueAt.Equal(now.Add(2*time.Second)))
	require.NotNil(t, rem.NextFireAt)
	assert.True(t, rem.NextFireAt.Equal(call.dueAt))
}

func TestEngine_Fire_OneShotBackoffSequenceThenFailed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rem := oneShot("rem_1")
	store := newFakeStore(rem)
	sched := &fakeRetryScheduler{}
	client := &fakeDeliverer{err: errors.New("connection refused")}
	engine := newTestEngine(store, sched, client, fixedClock{now})

	// First attempt plus three retries, all failing.
	engine.Fire(context.Background(), "rem_1")
	engine.Fire(context.Background(), "rem_1")
	engine.Fire(context.Background(), "rem_1")
	engine.Fire(context.Background(), "rem_1")

	assert.Equal(t, []int{1, 2, 3, 4}, client.attempts)
	assert.Equal(t, types.StatusFailed, rem.Status)
	assert.Equal(t, 4, rem.Attempts)
	assert.Nil(t, rem.NextFireAt)

	require.Len(t, sched.calls, 3)
	assert.Equal(t, "retry:rem_1:1", sched.calls[0].eventID)
	assert.Equal(t, "retry:rem_1:2", sched.calls[1].eventID)
	assert.Equal(t, "retry:rem_1:3", sched.calls[2].eventID)
	assert.True(t, sched.calls[0].dueAt.Equal(now.Add(2*time.Second)))
	assert.True(t, sched.calls[1].dueAt.Equal(now.Add(8*time.Second)))
	assert.True(t, sched.calls[2].dueAt.Equal(now.Add(30*time.Second)))

	// A fire against a failed reminder is a no-op.
	engine.Fire(context.Background(), "rem_1")
	assert.Equal(t, []int{1, 2, 3, 4}, client.attempts)
}

func TestEngine_Fire_RecurringSuccessResetsAttempts(t *testing.T) {
	rem := recurring("rem_1")
	rem.Attempts = 2
	rem.LastError = "webhook returned status 503"
	store := newFakeStore(rem)
	sched := &fakeRetryScheduler{}
	client := &fakeDeliverer{}
	engine := newTestEngine(store, sched, client, fixedClock{time.Now().UTC()})

	engine.Fire(context.Background(), "rem_1")

	assert.Equal(t, []int{3}, client.attempts)
	assert.Equal(t, types.StatusScheduled, rem.Status)
	assert.Equal(t, 0, rem.Attempts)
	assert.Empty(t, rem.LastError)
}

func TestEngine_Fire_RecurringFailureWaitsForNextTick(t *testing.T) {
	rem := recurring("rem_1")
	store := newFakeStore(rem)
	sched := &fakeRetryScheduler{}
	client := &fakeDeliverer{err: errors.New("webhook returned status 500")}
	engine := newTestEngine(store, sched, client, fixedClock{time.Now().UTC()})

	engine.Fire(context.Background(), "rem_1")

	// No retry sub-event: the next cron occurrence is the retry.
	assert.Empty(t, sched.calls)
	assert.Equal(t, types.StatusScheduled, rem.Status)
	assert.Equal(t, 1, rem.Attempts)
	assert.Contains(t, rem.LastError, "status 500")
}

func TestEngine_Fire_MissingReminderIsNoOp(t *testing.T) {
	store := newFakeStore()
	sched := &fakeRetryScheduler{}
	client := &fakeDeliverer{}
	engine := newTestEngine(store, sched, client, nil)

	engine.Fire(context.Background(), "rem_gone")

	assert.Empty(t, client.attempts)
	assert.Empty(t, sched.calls)
}

func TestEngine_Fire_CancelledReminderIsNoOp(t *testing.T) {
	rem := oneShot("rem_1")
	rem.Status = types.StatusCancelled
	store := newFakeStore(rem)
	client := &fakeDeliverer{}
	engine := newTestEngine(store, &fakeRetryScheduler{}, client, nil)

	engine.Fire(context.Background(), "rem_1")

	assert.Empty(t, client.attempts)
	assert.Equal(t, types.StatusCancelled, rem.Status)
}

func TestEngine_RetryActionFiresAgain(t *testing.T) {
	rem := oneShot("rem_1")
	store := newFakeStore(rem)
	sched := &fakeRetryScheduler{}
	client := &fakeDeliverer{err: errors.New("boom")}
	engine := newTestEngine(store, sched, client, fixedClock{time.Now().UTC()})

	engine.Fire(context.Background(), "rem_1")
	require.Len(t, sched.calls, 1)

	// Flip the receiver to healthy, then run the scheduled retry action.
	client.err = nil
	sched.calls[0].action(context.Background())

	assert.Equal(t, []int{1, 2}, client.attempts)
	assert.Equal(t, types.StatusDelivered, rem.Status)
	assert.Equal(t, 2, rem.Attempts)
}
