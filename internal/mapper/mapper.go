// Package mapper translates gateway-native records into the canonical
// dashboard model. Every function here is pure and total: absent or
// malformed input data yields a conservative default, never a panic.
package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/florawren/clawboard/internal/cron"
	"github.com/florawren/clawboard/internal/gateway"
	"github.com/florawren/clawboard/internal/model"
)

// activeWindow is how recently a session must have been touched to count
// as actively working
const activeWindow = 5 * time.Minute

// maxActivityEntries caps the activity feed built from cron runs
const maxActivityEntries = 50

// DeriveLane derives the board lane for a session. Cron sessions are always
// assigned; otherwise recency and context size decide.
func DeriveLane(s gateway.Session, now time.Time) string {
	if s.Kind == "cron" {
		return model.LaneAssigned
	}
	age := now.Sub(s.UpdatedAt)
	if age < activeWindow && s.ContextTokens > 0 {
		return model.LaneInProgress
	}
	if s.ContextTokens > 0 {
		return model.LaneReview
	}
	return model.LaneInbox
}

// DerivePriority maps a model name to a numeric priority. The opus check
// runs before sonnet: a name containing both is still priority 9.
func DerivePriority(modelName string) int {
	m := strings.ToLower(modelName)
	if strings.Contains(m, "opus") {
		return 9
	}
	if strings.Contains(m, "sonnet") {
		return 6
	}
	return 3
}

// SessionToTask converts one gateway session into a canonical task.
// Checklist, comments and deliverables stay empty; they are fetched lazily
// by callers outside the sync core.
func SessionToTask(s gateway.Session, now time.Time) model.Task {
	lane := DeriveLane(s, now)

	prompt := s.Key
	if prompt == "" {
		prompt = "Untitled session"
	}

	kind := s.Kind
	if kind == "" {
		kind = "session"
	}

	task := model.Task{
		ID:            s.SessionID,
		Kind:          kind,
		Prompt:        prompt,
		Lane:          lane,
		Priority:      DerivePriority(s.Model),
		Assignee:      s.AgentID,
		Model:         s.Model,
		ContextTokens: s.ContextTokens,
		Team:          s.Team,
		Labels:        []string{s.Model},
		CreatedAt:     s.UpdatedAt,
		Checklist:     []string{},
		Comments:      []string{},
		Deliverables:  []string{},
	}

	if lane == model.LaneInProgress {
		started := s.UpdatedAt
		task.StartedAt = &started
	}

	return task
}

// WorkersFromSessions derives one worker per distinct agent identifier.
// Workers come from sessions and nowhere else.
func WorkersFromSessions(sessions []gateway.Session, now time.Time) []model.Worker {
	order := []string{}
	grouped := map[string][]gateway.Session{}
	for _, s := range sessions {
		if s.AgentID == "" {
			continue
		}
		if _, seen := grouped[s.AgentID]; !seen {
			order = append(order, s.AgentID)
		}
		grouped[s.AgentID] = append(grouped[s.AgentID], s)
	}

	workers := make([]model.Worker, 0, len(order))
	for _, id := range order {
		workers = append(workers, AgentToWorker(id, grouped[id], now))
	}
	return workers
}

// AgentToWorker builds the worker entry for one agent from its sessions
func AgentToWorker(agentID string, sessions []gateway.Session, now time.Time) model.Worker {
	w := model.Worker{
		ID:           agentID,
		Name:         agentID,
		Status:       model.WorkerIdle,
		SessionCount: len(sessions),
	}

	for _, s := range sessions {
		if w.Model == "" {
			w.Model = s.Model
		}
		if s.UpdatedAt.After(w.LastActivityAt) {
			w.LastActivityAt = s.UpdatedAt
		}
		if now.Sub(s.UpdatedAt) < activeWindow && s.ContextTokens > 0 {
			w.Status = model.WorkerBusy
			if w.CurrentTask == "" {
				w.CurrentTask = s.SessionID
			}
		}
	}

	return w
}

// CronRunToActivity classifies one cron run into a feed entry
func CronRunToActivity(run gateway.CronRun, jobName string) model.Activity {
	var kind string
	switch run.Status {
	case "failed", "error":
		kind = model.ActivityFailed
	case "completed":
		kind = model.ActivityCompleted
	default:
		kind = model.ActivityStarted
	}

	summary := fmt.Sprintf("%s: %s", jobName, run.Status)
	if run.Error != "" {
		summary = fmt.Sprintf("%s: %s (%s)", jobName, run.Status, run.Error)
	}

	return model.Activity{
		ID:         run.ID,
		Type:       kind,
		TaskID:     run.CronID,
		Actor:      "cron",
		Summary:    summary,
		DurationMs: run.DurationMs,
		CreatedAt:  run.StartedAt,
	}
}

// CronJobToRoutine maps a gateway cron job into the canonical routine view.
// The schedule expression is parsed positionally; a malformed expression
// falls back to 09:00 on weekdays rather than failing the mapping.
func CronJobToRoutine(job gateway.CronJob, now time.Time) model.Routine {
	r := model.Routine{
		ID:         job.ID,
		Name:       job.Name,
		Enabled:    job.Enabled,
		Schedule:   ParseRoutineSchedule(job.Schedule.Expr, job.Schedule.TZ),
		Prompt:     job.Payload.Text,
		Model:      job.Payload.Model,
		LastStatus: job.State.LastStatus,
	}

	if job.State.LastRunAtMs > 0 {
		last := time.UnixMilli(job.State.LastRunAtMs).UTC()
		r.LastTriggeredAt = &last
	}

	if sched, err := cron.Parse(job.Schedule.Expr); err == nil {
		loc := loadLocation(job.Schedule.TZ)
		next := sched.Next(now.In(loc))
		if !next.IsZero() {
			r.NextRunAt = &next
		}
	}

	return r
}

// ParseRoutineSchedule extracts minute, hour and day-of-week from a 5-field
// cron expression. A wildcard day-of-week expands to all seven days.
func ParseRoutineSchedule(expr, tz string) model.RoutineSchedule {
	if tz == "" {
		tz = "UTC"
	}

	// Default: 09:00 on weekdays
	fallback := model.RoutineSchedule{
		Minute:     0,
		Hour:       9,
		DaysOfWeek: []int{1, 2, 3, 4, 5},
		Timezone:   tz,
	}

	sched, err := cron.Parse(expr)
	if err != nil {
		return fallback
	}

	minutes := sched.Minutes()
	hours := sched.Hours()
	if len(minutes) == 0 || len(hours) == 0 {
		return fallback
	}

	return model.RoutineSchedule{
		Minute:     minutes[0],
		Hour:       hours[0],
		DaysOfWeek: sched.DaysOfWeek(),
		Timezone:   tz,
	}
}

// BuildRoutineExpr is the inverse mapping used when creating or updating a
// cron job from a routine schedule
func BuildRoutineExpr(s model.RoutineSchedule) string {
	dow := "*"
	if len(s.DaysOfWeek) > 0 && len(s.DaysOfWeek) < 7 {
		parts := make([]string, len(s.DaysOfWeek))
		for i, d := range s.DaysOfWeek {
			parts[i] = fmt.Sprintf("%d", d)
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d * * %s", s.Minute, s.Hour, dow)
}

// BuildDashboard composes one aggregation pass into the dashboard model
func BuildDashboard(sessions []gateway.Session, jobs []gateway.CronJob, runs []gateway.CronRun, now time.Time) model.Dashboard {
	tasks := make([]model.Task, 0, len(sessions))
	for _, s := range sessions {
		tasks = append(tasks, SessionToTask(s, now))
	}

	workers := WorkersFromSessions(sessions, now)

	jobNames := make(map[string]string, len(jobs))
	for _, j := range jobs {
		jobNames[j.ID] = j.Name
	}

	limit := len(runs)
	if limit > maxActivityEntries {
		limit = maxActivityEntries
	}
	activity := make([]model.Activity, 0, limit)
	for _, run := range runs[:limit] {
		name, ok := jobNames[run.CronID]
		if !ok {
			name = "Unknown cron"
		}
		activity = append(activity, CronRunToActivity(run, name))
	}

	routines := make([]model.Routine, 0, len(jobs))
	for _, j := range jobs {
		routines = append(routines, CronJobToRoutine(j, now))
	}

	byLane := map[string][]model.Task{}
	for _, t := range tasks {
		byLane[t.Lane] = append(byLane[t.Lane], t)
	}

	d := model.Dashboard{
		Tasks:       tasks,
		TasksByLane: byLane,
		Workers:     workers,
		Activity:    activity,
		Routines:    routines,
		Timestamp:   now,
	}

	d.Stats.Tasks = model.TaskStats{
		Total:     len(tasks),
		Pending:   len(byLane[model.LaneInbox]),
		Assigned:  len(byLane[model.LaneAssigned]),
		Running:   len(byLane[model.LaneInProgress]),
		Completed: len(byLane[model.LaneDone]),
	}
	d.Stats.Tasks.QueueDepth = d.Stats.Tasks.Pending + d.Stats.Tasks.Assigned

	d.Stats.Workers.Total = len(workers)
	for _, w := range workers {
		switch w.Status {
		case model.WorkerBusy:
			d.Stats.Workers.Busy++
		case model.WorkerIdle:
			d.Stats.Workers.Idle++
		}
	}

	return d
}

// loadLocation resolves a timezone name, defaulting to UTC on any failure
func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
