// Package model defines the canonical entities the dashboard UI consumes,
// independent of gateway-native record shapes.
package model

import (
	"time"
)

// Task lanes, derived from session state and never mutated out of band
const (
	LaneInbox      = "inbox"
	LaneAssigned   = "assigned"
	LaneInProgress = "in_progress"
	LaneReview     = "review"
	LaneDone       = "done"
)

// Worker statuses derived from recent session activity
const (
	WorkerIdle    = "idle"
	WorkerBusy    = "busy"
	WorkerOffline = "offline"
)

// Task is the canonical unit of agent work shown on the board.
// Checklist, comments and deliverables are populated lazily by callers
// outside the sync core; the mapper always leaves them empty.
type Task struct {
	ID            string     `json:"id"`
	Kind          string     `json:"type"`
	Prompt        string     `json:"prompt"`
	Lane          string     `json:"lane"`
	Priority      int        `json:"priority"`
	Assignee      string     `json:"assignedWorker"`
	Model         string     `json:"model"`
	ContextTokens int        `json:"contextTokens"`
	Team          string     `json:"team,omitempty"`
	Labels        []string   `json:"labels"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	Checklist     []string   `json:"checklist"`
	Comments      []string   `json:"comments"`
	Deliverables  []string   `json:"deliverables"`
}

// Worker is one entry per distinct agent identifier seen across sessions
type Worker struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Model          string    `json:"model"`
	Status         string    `json:"status"`
	CurrentTask    string    `json:"currentTask,omitempty"`
	SessionCount   int       `json:"sessionCount"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Activity classification values
const (
	ActivityStarted   = "task:started"
	ActivityCompleted = "task:completed"
	ActivityFailed    = "task:failed"
)

// Activity is one feed entry derived from a cron run
type Activity struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	TaskID     string    `json:"taskId"`
	Actor      string    `json:"actor"`
	Summary    string    `json:"summary"`
	DurationMs int64     `json:"durationMs,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RoutineSchedule is the parsed, display-friendly schedule of a routine
type RoutineSchedule struct {
	Minute     int    `json:"minute"`
	Hour       int    `json:"hour"`
	DaysOfWeek []int  `json:"daysOfWeek"`
	Timezone   string `json:"timezone"`
}

// Routine is the canonical view of a gateway cron job
type Routine struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Enabled         bool            `json:"enabled"`
	Schedule        RoutineSchedule `json:"schedule"`
	Prompt          string          `json:"prompt"`
	Model           string          `json:"model,omitempty"`
	LastStatus      string          `json:"lastStatus,omitempty"`
	LastTriggeredAt *time.Time      `json:"lastTriggeredAt,omitempty"`
	NextRunAt       *time.Time      `json:"nextRunAt,omitempty"`
}

// TaskStats summarizes tasks per lane
type TaskStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Assigned   int `json:"assigned"`
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	QueueDepth int `json:"queueDepth"`
}

// WorkerStats summarizes workers per status
type WorkerStats struct {
	Total int `json:"total"`
	Idle  int `json:"idle"`
	Busy  int `json:"busy"`
}

// Dashboard is the composed model returned by one aggregation pass.
// It is a view recomputed on every pass, not stored state.
type Dashboard struct {
	Tasks       []Task            `json:"tasks"`
	TasksByLane map[string][]Task `json:"tasksByLane"`
	Workers     []Worker          `json:"workers"`
	Activity    []Activity        `json:"activity"`
	Routines    []Routine         `json:"routines"`
	Stats       struct {
		Tasks   TaskStats   `json:"tasks"`
		Workers WorkerStats `json:"workers"`
	} `json:"stats"`
	Timestamp time.Time `json:"timestamp"`
}
