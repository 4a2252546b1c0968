package models

import (
	"time"

	"github.com/crucial707/resource-scheduler/internal/recurrence"
)

// Provider identifies a cloud control plane.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
)

// ResourceType is a provider-specific kind of resource.
type ResourceType string

const (
	ResourceEC2        ResourceType = "ec2"
	ResourceRDS        ResourceType = "rds"
	ResourceVM         ResourceType = "vm"
	ResourceAppService ResourceType = "app_service"
)

// Action is what a schedule does to its resource.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Valid reports whether a is start or stop.
func (a Action) Valid() bool {
	return a == ActionStart || a == ActionStop
}

// RunStatus is the outcome of one execution attempt.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Schedule is a recurring start/stop of one cloud resource.
// The last_run_* and next_run_at fields are owned by the scheduler; claimed_until is never serialized.
type Schedule struct {
	ID           string             `json:"id"`
	WorkspaceID  string             `json:"workspace_id"`
	Provider     Provider           `json:"provider"`
	ResourceType ResourceType       `json:"resource_type"`
	ResourceID   string             `json:"resource_id"`
	ResourceName string             `json:"resource_name"`
	Action       Action             `json:"action"`
	ScheduleType recurrence.Pattern `json:"schedule_type"`
	ScheduleTime string             `json:"schedule_time"` // HH:MM, local to Timezone
	Timezone     string             `json:"timezone"`
	IsEnabled    bool               `json:"is_enabled"`

	LastRunAt     *time.Time `json:"last_run_at"`
	LastRunStatus *RunStatus `json:"last_run_status"`
	LastRunError  *string    `json:"last_run_error"`
	NextRunAt     *time.Time `json:"next_run_at"`
	ClaimedUntil  *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rule parses the schedule's recurrence fields.
func (s *Schedule) Rule() (recurrence.Rule, error) {
	return recurrence.Parse(s.ScheduleType, s.ScheduleTime, s.Timezone)
}

// SchedulePatch holds the tenant-editable fields; nil means unchanged.
type SchedulePatch struct {
	ScheduleType *recurrence.Pattern `json:"schedule_type"`
	ScheduleTime *string             `json:"schedule_time"`
	Timezone     *string             `json:"timezone"`
	ResourceName *string             `json:"resource_name"`
	IsEnabled    *bool               `json:"is_enabled"`
}

// Empty reports whether the patch changes nothing.
func (p SchedulePatch) Empty() bool {
	return p.ScheduleType == nil && p.ScheduleTime == nil && p.Timezone == nil &&
		p.ResourceName == nil && p.IsEnabled == nil
}
