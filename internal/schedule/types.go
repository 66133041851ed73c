package schedule

import (
	"encoding/json"
	"time"

	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
)

// Frequency says when a schedule fires. Type "cron" takes a raw five-field
// expression; the named types are built from the minute/hour/weekday/day
// fields.
type Frequency struct {
	Type    string `json:"type"`
	Cron    string `json:"cron,omitempty"`
	Minute  int    `json:"minute,omitempty"`
	Hour    int    `json:"hour,omitempty"`
	Weekday int    `json:"weekday,omitempty"`
	Day     int    `json:"day,omitempty"`
}

// JobTemplate is the submit request a schedule replays on every firing.
// Details are kept raw; full schema validation happens at fire time, exactly
// as if an operator had submitted the job by hand.
type JobTemplate struct {
	Type        jobs.Type        `json:"type"`
	Scope       jobs.TargetScope `json:"scope"`
	RequestedBy string           `json:"requested_by,omitempty"`
	Details     json.RawMessage  `json:"details,omitempty"`
}

// Schedule is one recurring job definition.
type Schedule struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Enabled   bool        `json:"enabled"`
	Frequency Frequency   `json:"frequency"`
	Job       JobTemplate `json:"job"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	LastRun   *time.Time  `json:"last_run,omitempty"`
	NextRun   *time.Time  `json:"next_run,omitempty"`
	LastJobID string      `json:"last_job_id,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}
