package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/crucial707/resource-scheduler/internal/middleware"
	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/crucial707/resource-scheduler/internal/recurrence"
	"github.com/crucial707/resource-scheduler/internal/repo"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProviderSupport reports which provider/resource type pairs can be scheduled.
type ProviderSupport interface {
	Supports(p models.Provider, rt models.ResourceType) bool
}

// ScheduleHandler serves the workspace-scoped schedule CRUD and run history.
type ScheduleHandler struct {
	Repo      *repo.ScheduleRepo
	Runs      *repo.RunRepo
	Providers ProviderSupport
	Logger    *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (h *ScheduleHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *ScheduleHandler) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.NewNop()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, _, err := recurrence.ParseLocalTime(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("iana_tz", func(fl validator.FieldLevel) bool {
		_, err := recurrence.LoadLocation(fl.Field().String())
		return err == nil
	})
	return v
}

// validationFields turns validator errors into the {"field": "message"} map.
func validationFields(err error) map[string]string {
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fields
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = "required"
		case "oneof":
			fields[fe.Field()] = "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
		case "max":
			fields[fe.Field()] = "must be at most " + fe.Param() + " characters"
		case "hhmm":
			fields[fe.Field()] = recurrenceMessage(recurrence.ErrInvalidTime)
		case "iana_tz":
			fields[fe.Field()] = recurrenceMessage(recurrence.ErrInvalidTimezone)
		default:
			fields[fe.Field()] = "invalid"
		}
	}
	return fields
}

var (
	readOnlyFields = map[string]bool{
		"id": true, "workspace_id": true, "last_run_at": true, "last_run_status": true,
		"last_run_error": true, "next_run_at": true, "created_at": true, "updated_at": true,
	}
	immutableFields = map[string]bool{
		"provider": true, "resource_type": true, "resource_id": true, "action": true,
	}
)

// decodeStrict decodes a JSON body, rejecting unknown fields. It writes the error
// response itself and reports whether decoding succeeded.
func decodeStrict(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		JSONError(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		name = strings.Trim(name, `"`)
		msg := "unknown field"
		switch {
		case readOnlyFields[name]:
			msg = "read-only"
		case immutableFields[name]:
			msg = "cannot be changed; create a new schedule instead"
		}
		JSONValidationError(w, "validation failed", map[string]string{name: msg}, http.StatusBadRequest)
		return false
	}
	JSONError(w, "invalid JSON", http.StatusBadRequest)
	return false
}

func workspace(w http.ResponseWriter, r *http.Request) (string, bool) {
	ws, ok := middleware.WorkspaceID(r.Context())
	if !ok {
		JSONError(w, "missing workspace", http.StatusUnauthorized)
	}
	return ws, ok
}

func scheduleID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		JSONError(w, "invalid schedule id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// pagination reads limit (default 50, max 100) and offset; invalid values fall back to defaults.
func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// ListSchedules returns a page of the workspace's schedules (query: limit, offset).
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	list, err := h.Repo.List(r.Context(), ws, limit, offset)
	if err != nil {
		writeStoreError(w, r, h.logger(), err)
		return
	}
	total, err := h.Repo.Count(r.Context(), ws)
	if err != nil {
		writeStoreError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  list,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetSchedule returns one schedule.
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}
	s, err := h.Repo.Get(r.Context(), ws, id)
	if err != nil {
		writeStoreError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type createScheduleInput struct {
	Provider     string `json:"provider" validate:"required"`
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceID   string `json:"resource_id" validate:"required,max=512"`
	ResourceName string `json:"resource_name" validate:"max=255"`
	Action       string `json:"action" validate:"required,oneof=start stop"`
	ScheduleType string `json:"schedule_type" validate:"required,oneof=daily weekdays weekends"`
	ScheduleTime string `json:"schedule_time" validate:"required,hhmm"`
	Timezone     string `json:"timezone" validate:"required,iana_tz"`
	IsEnabled    *bool  `json:"is_enabled"`
}

// CreateSchedule creates a schedule and returns it with next_run_at. is_enabled defaults to true.
func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	var input createScheduleInput
	if !decodeStrict(w, r, &input) {
		return
	}
	input.ResourceID = strings.TrimSpace(input.ResourceID)

	fields := validationFields(validate.Struct(input))
	p, rt := models.Provider(input.Provider), models.ResourceType(input.ResourceType)
	if input.Provider != "" && input.ResourceType != "" && !h.Providers.Supports(p, rt) {
		fields["resource_type"] = "not supported for provider " + input.Provider
	}
	if len(fields) > 0 {
		JSONValidationError(w, "validation failed", fields, http.StatusBadRequest)
		return
	}

	enabled := true
	if input.IsEnabled != nil {
		enabled = *input.IsEnabled
	}
	s := &models.Schedule{
		WorkspaceID:  ws,
		Provider:     p,
		ResourceType: rt,
		ResourceID:   input.ResourceID,
		ResourceName: input.ResourceName,
		Action:       models.Action(input.Action),
		ScheduleType: recurrence.Pattern(input.ScheduleType),
		ScheduleTime: input.ScheduleTime,
		Timezone:     input.Timezone,
		IsEnabled:    enabled,
	}
	created, err := h.Repo.Create(r.Context(), s, h.now())
	if err != nil {
		writeStoreError(w, r, h.logger(), err)
		return
	}
	h.logger().Info("schedule created",
		zap.String("workspace_id", ws),
		zap.String("schedule_id", created.ID),
		zap.String("resource_id", created.ResourceID),
		zap.String("action", string(created.Action)))
	writeJSON(w, http.StatusCreated, created)
}

type patchScheduleInput struct {
	ScheduleType *string `json:"schedule_type" validate:"omitempty,oneof=daily weekdays weekends"`
	ScheduleTime *string `json:"schedule_time" validate:"omitempty,hhmm"`
	Timezone     *string `json:"timezone" validate:"omitempty,iana_tz"`
	ResourceName *string `json:"resource_name" validate:"omitempty,max=255"`
	IsEnabled    *bool   `json:"is_enabled"`
}

// UpdateSchedule applies a partial update. Only the recurrence, resource_name and
// is_enabled can change; anything else is rejected.
func (h *ScheduleHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}
	var input patchScheduleInput
	if !decodeStrict(w, r, &input) {
		return
	}
	if fields := validationFields(validate.Struct(input)); len(fields) > 0 {
		JSONValidationError(w, "validation failed", fields, http.StatusBadRequest)
		return
	}

	patch := models.SchedulePatch{
		ScheduleTime: input.ScheduleTime,
		Timezone:     input.Timezone,
		ResourceName: input.ResourceName,
		IsEnabled:    input.IsEnabled,
	}
	if input.ScheduleType != nil {
		p := recurrence.Pattern(*input.ScheduleType)
		patch.ScheduleType = &p
	}
	if patch.Empty() {
		JSONError(w, "no fields to update", http.StatusBadRequest)
		return
	}

	s, err := h.Repo.Update(r.Context(), ws, id, patch, h.now())
	if err != nil {
		writeStoreError(w, r, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeleteSchedule deletes a schedule. Its run history is kept.
func (h *ScheduleHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}
	if err := h.Repo.Delete(r.Context(), ws, id); err != nil {
		writeStoreError(w, r, h.logger(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRuns returns a page of a schedule's execution history, newest first. History
// outlives the schedule, so the 404 only applies when there is neither.
func (h *ScheduleHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspace(w, r)
	if !ok {
		return
	}
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	runs, err := h.Runs.ListBySchedule(r.Context(), ws, id, limit, offset)
	if err != nil {
		writeStoreError(w, r, h.logger(), err)
		return
	}
	if len(runs) == 0 && offset == 0 {
		if _, err := h.Repo.Get(r.Context(), ws, id); err != nil {
			writeStoreError(w, r, h.logger(), err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  runs,
		"limit":  limit,
		"offset": offset,
	})
}
