// Package handlers contains the HTTP handler implementations for the URNS API.
//
// This file implements the reminder management surface:
//   - Create (one-shot and cron schedules), Get, List
//   - Cancel one (terminal mark, record kept) and clear all
//   - Route registration
package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"urns/internal/core"
	"urns/internal/trigger"
	"urns/internal/types"
)

// Wire values for the creation request's schedule type.
const (
	scheduleTypeTime = "time"
	scheduleTypeCron = "cron"
)

// --- Service Interfaces ---
//
// Defined locally following the handler injection pattern: the handler
// depends on the narrow slices of the store and trigger engine it uses.

// ReminderStore is the data access contract for reminder operations.
// Mirrors the concrete store.MemoryStore methods used by this handler.
type ReminderStore interface {
	Create(rec *types.Reminder) string
	Get(id string) (*types.Reminder, bool)
	List(appID string) []*types.Reminder
	Update(id string, fn func(*types.Reminder)) bool
	DeleteAll(appID string) []string
}

// ScheduleRegistrar translates a stored reminder into scheduler events.
type ScheduleRegistrar interface {
	Register(rem *types.Reminder) (time.Time, error)
	Cancel(reminderID string)
	Clear()
}

// FireTimeSource reports the scheduler's live view of a pending due time.
type FireTimeSource interface {
	NextFireAt(eventID string) (time.Time, bool)
}

// --- Request/Response Models ---

// NotifyTarget names the webhook endpoint deliveries are POSTed to.
type NotifyTarget struct {
	Webhook string `json:"webhook" validate:"required,http_url"`
}

// CreateReminderRequest is the request body for POST /reminders. Exactly one
// of when/cron is consulted, selected by type; the other field is ignored.
type CreateReminderRequest struct {
	AppID          string         `json:"app_id" validate:"required"`
	Type           string         `json:"type" validate:"required,oneof=time cron"`
	When           string         `json:"when,omitempty"`
	Cron           string         `json:"cron,omitempty"`
	Notify         NotifyTarget   `json:"notify"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// CreateReminderResponse is the body returned on successful creation.
type CreateReminderResponse struct {
	ReminderID string `json:"reminder_id"`
	Status     string `json:"status"`
}

// CancelReminderResponse is the body returned by DELETE /reminders/{id}.
type CancelReminderResponse struct {
	ReminderID string `json:"reminder_id"`
	Status     string `json:"status"`
}

// ClearRemindersResponse is the body returned by DELETE /reminders.
type ClearRemindersResponse struct {
	Status  string `json:"status"`
	Cleared int    `json:"cleared"`
}

// ReminderView is the external representation of a stored reminder.
type ReminderView struct {
	ReminderID     string         `json:"reminder_id"`
	AppID          string         `json:"app_id"`
	Type           string         `json:"type"`
	When           string         `json:"when,omitempty"`
	Cron           string         `json:"cron,omitempty"`
	Notify         NotifyTarget   `json:"notify"`
	Payload        map[string]any `json:"payload,omitempty"`
	Status         string         `json:"status"`
	Attempts       int            `json:"attempts"`
	LastError      string         `json:"last_error,omitempty"`
	NextFireAt     string         `json:"next_fire_at,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ReminderHandler serves the reminder management endpoints.
type ReminderHandler struct {
	store     ReminderStore
	registrar ScheduleRegistrar
	fireTimes FireTimeSource
	validator *core.Validator
	logger    *slog.Logger
}

// NewReminderHandler creates a ReminderHandler with its dependencies.
func NewReminderHandler(
	store ReminderStore,
	registrar ScheduleRegistrar,
	fireTimes FireTimeSource,
	v *core.Validator,
	l *slog.Logger,
) *ReminderHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ReminderHandler{
		store:     store,
		registrar: registrar,
		fireTimes: fireTimes,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts reminder routes on the provided chi.Router.
func (h *ReminderHandler) RegisterRoutes(r chi.Router) {
	r.Route("/reminders", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Delete("/", h.Clear)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Cancel)
		})
	})
}

// --- Handler Methods ---

// Create handles POST /reminders.
//
// The schedule spec is fully validated before anything is stored or
// registered: a rejected request leaves no state behind.
func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateReminderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	req.AppID = strings.TrimSpace(req.AppID)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	rem := &types.Reminder{
		AppID:          req.AppID,
		WebhookURL:     req.Notify.Webhook,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
	}

	switch req.Type {
	case scheduleTypeTime:
		if strings.TrimSpace(req.When) == "" {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				`when is required for type "time"`, nil))
			return
		}
		fireAt, err := trigger.ParseWhen(req.When)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		rem.Kind = types.KindOneShot
		rem.When = &fireAt

	case scheduleTypeCron:
		if strings.TrimSpace(req.Cron) == "" {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				`cron is required for type "cron"`, nil))
			return
		}
		if _, err := trigger.ParseCron(req.Cron); err != nil {
			core.Error(w, r, err)
			return
		}
		rem.Kind = types.KindRecurring
		rem.Cron = strings.TrimSpace(req.Cron)
	}

	rem.ID = h.store.Create(rem)

	fireAt, err := h.registrar.Register(rem)
	if err != nil {
		// The spec was validated above; registration can only fail on a
		// store/scheduler defect.
		h.logger.Error("failed to register validated reminder",
			"reminder_id", rem.ID, "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to schedule reminder", err))
		return
	}

	h.logger.Info("reminder created",
		"reminder_id", rem.ID,
		"app_id", rem.AppID,
		"type", req.Type,
		"next_fire_at", fireAt.Format(time.RFC3339),
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: CreateReminderResponse{
		ReminderID: rem.ID,
		Status:     string(types.StatusScheduled),
	}})
}

// Get handles GET /reminders/{id}.
func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rem, ok := h.store.Get(id)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.view(rem)})
}

// List handles GET /reminders with an optional app_id filter.
func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("app_id")

	recs := h.store.List(appID)
	views := make([]ReminderView, 0, len(recs))
	for _, rem := range recs {
		views = append(views, h.view(rem))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: views})
}

// Cancel handles DELETE /reminders/{id}. The record is marked cancelled and
// kept queryable; every pending event for it (primary and retries) is
// removed. Cancelling an already-terminal reminder changes nothing and
// reports the existing status.
func (h *ReminderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rem, ok := h.store.Get(id)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil))
		return
	}

	h.registrar.Cancel(id)

	status := rem.Status
	h.store.Update(id, func(rec *types.Reminder) {
		if rec.Status.Terminal() {
			status = rec.Status
			return
		}
		rec.Status = types.StatusCancelled
		rec.NextFireAt = nil
		status = rec.Status
	})

	h.logger.Info("reminder cancelled", "reminder_id", id, "status", string(status))

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CancelReminderResponse{
		ReminderID: id,
		Status:     string(status),
	}})
}

// Clear handles DELETE /reminders: removes every record and every pending
// event.
func (h *ReminderHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.registrar.Clear()
	removed := h.store.DeleteAll("")

	h.logger.Info("all reminders cleared", "count", len(removed))

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ClearRemindersResponse{
		Status:  "cleared",
		Cleared: len(removed),
	}})
}

// view maps a stored reminder to its external representation, consulting the
// scheduler for the live next fire time and falling back to the value stored
// on the record (covering in-flight retry windows).
func (h *ReminderHandler) view(rem *types.Reminder) ReminderView {
	v := ReminderView{
		ReminderID:     rem.ID,
		AppID:          rem.AppID,
		Notify:         NotifyTarget{Webhook: rem.WebhookURL},
		Payload:        rem.Payload,
		Status:         string(rem.Status),
		Attempts:       rem.Attempts,
		LastError:      rem.LastError,
		IdempotencyKey: rem.IdempotencyKey,
		CreatedAt:      rem.CreatedAt,
		UpdatedAt:      rem.UpdatedAt,
	}

	switch rem.Kind {
	case types.KindOneShot:
		v.Type = scheduleTypeTime
		if rem.When != nil {
			v.When = rem.When.UTC().Format(time.RFC3339)
		}
	case types.KindRecurring:
		v.Type = scheduleTypeCron
		v.Cron = rem.Cron
	}

	if next, ok := h.fireTimes.NextFireAt(rem.ID); ok {
		v.NextFireAt = next.UTC().Format(time.RFC3339)
	} else if rem.NextFireAt != nil && !rem.Status.Terminal() {
		v.NextFireAt = rem.NextFireAt.UTC().Format(time.RFC3339)
	}

	return v
}
