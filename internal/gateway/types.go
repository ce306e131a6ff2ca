package gateway

import (
	"time"
)

// Session is a gateway-native agent session record
type Session struct {
	SessionID     string    `json:"sessionId"`
	AgentID       string    `json:"agentId"`
	Key           string    `json:"key"`
	Kind          string    `json:"kind"` // interactive | cron | spawn
	Model         string    `json:"model"`
	ContextTokens int       `json:"contextTokens"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Team          string    `json:"team,omitempty"`
	Flags         []string  `json:"flags,omitempty"`
}

// CronSchedule is the schedule portion of a gateway cron job
type CronSchedule struct {
	Kind string `json:"kind"`
	Expr string `json:"expr"`
	TZ   string `json:"tz,omitempty"`
}

// CronPayload is the payload portion of a gateway cron job
type CronPayload struct {
	Kind  string `json:"kind"`
	Text  string `json:"text,omitempty"`
	Model string `json:"model,omitempty"`
}

// CronJobState tracks the last execution of a cron job
type CronJobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
}

// CronJob is a gateway-native recurring directive
type CronJob struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	AgentID  string       `json:"agentId,omitempty"`
	Enabled  bool         `json:"enabled"`
	Schedule CronSchedule `json:"schedule"`
	Payload  CronPayload  `json:"payload"`
	State    CronJobState `json:"state"`
}

// CronRun is one materialized execution of a cron job
type CronRun struct {
	ID         string     `json:"id"`
	CronID     string     `json:"cronId"`
	Status     string     `json:"status"` // pending | completed | failed | error
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// SessionsResult is the response of the sessions.list method
type SessionsResult struct {
	Sessions []Session `json:"sessions"`
}

// CronListResult is the response of the cron.list method
type CronListResult struct {
	Jobs []CronJob `json:"jobs"`
}

// CronRunsResult is the response of the cron.runs method
type CronRunsResult struct {
	Runs []CronRun `json:"runs"`
}

// CronJobResult is the response of cron.add / cron.update / cron.run
type CronJobResult struct {
	Job   *CronJob `json:"job"`
	RunID string   `json:"runId,omitempty"`
}
