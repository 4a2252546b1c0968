package models

import "time"

// Run is one row of the append-only execution history.
type Run struct {
	ID           int64        `json:"id"`
	ScheduleID   string       `json:"schedule_id"`
	WorkspaceID  string       `json:"workspace_id"`
	Provider     Provider     `json:"provider"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Action       Action       `json:"action"`
	Status       RunStatus    `json:"status"`
	Error        string       `json:"error,omitempty"`
	ScheduledFor time.Time    `json:"scheduled_for"` // the occurrence that fired
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	InstanceID   string       `json:"instance_id,omitempty"`
}

// Duration is how long the provider call took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
