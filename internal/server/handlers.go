package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/florawren/clawboard/internal/gateway"
	"github.com/florawren/clawboard/internal/mapper"
	"github.com/florawren/clawboard/internal/model"
	"github.com/florawren/clawboard/internal/notify"
)

const maxBodySize = 1 << 20 // 1 MB

// ── Auth ────────────────────────────────────────────────────────────

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}

	if !s.authn.VerifyPassword(req.Password) {
		s.logger.Warn("login rejected")
		sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid password"})
		return
	}

	token, err := s.authn.IssueSession()
	if err != nil {
		s.logger.Error("failed to issue session", "error", err)
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "session error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(24 * time.Hour / time.Second),
	})
	sendJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	sendJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ── Dashboard & health ──────────────────────────────────────────────

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.agg.Dashboard(r.Context())
	if err != nil {
		s.logger.Error("dashboard aggregation failed", "error", err)
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	sendJSON(w, http.StatusOK, dashboard)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.gw.HealthCheck(r.Context()))
}

// ── Routines ────────────────────────────────────────────────────────

// routineForm is the UI-facing create/update payload
type routineForm struct {
	Name     string                 `json:"name"`
	Prompt   string                 `json:"prompt"`
	Enabled  *bool                  `json:"enabled,omitempty"`
	Schedule *model.RoutineSchedule `json:"schedule,omitempty"`
}

func (s *Server) handleRoutinesList(w http.ResponseWriter, r *http.Request) {
	var res gateway.CronListResult
	if err := s.gw.Call(r.Context(), "cron.list", nil, &res); err != nil {
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	now := time.Now()
	routines := make([]model.Routine, 0, len(res.Jobs))
	for _, job := range res.Jobs {
		routines = append(routines, mapper.CronJobToRoutine(job, now))
	}
	sendJSON(w, http.StatusOK, map[string][]model.Routine{"routines": routines})
}

func (s *Server) handleRoutineCreate(w http.ResponseWriter, r *http.Request) {
	var form routineForm
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&form); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}

	schedule := model.RoutineSchedule{Minute: 0, Hour: 9, Timezone: "UTC"}
	if form.Schedule != nil {
		schedule = *form.Schedule
	}
	if schedule.Timezone == "" {
		schedule.Timezone = "UTC"
	}

	params := map[string]any{
		"name": form.Name,
		"schedule": gateway.CronSchedule{
			Kind: "cron",
			Expr: mapper.BuildRoutineExpr(schedule),
			TZ:   schedule.Timezone,
		},
		"payload": gateway.CronPayload{
			Kind:  "prompt",
			Text:  form.Prompt,
			Model: s.config.RoutineModel,
		},
		"enabled": true,
	}

	var res gateway.CronJobResult
	if err := s.gw.Call(r.Context(), "cron.add", params, &res); err != nil {
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	sendJSON(w, http.StatusCreated, routineResponse(res))
}

func (s *Server) handleRoutineUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	var form routineForm
	if err := json.Unmarshal(body, &form); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}

	params := map[string]any{"id": id}

	// A body carrying only "enabled" is a toggle
	if _, hasEnabled := raw["enabled"]; hasEnabled && len(raw) == 1 && form.Enabled != nil {
		params["enabled"] = *form.Enabled
	} else {
		if form.Name != "" {
			params["name"] = form.Name
		}
		if form.Schedule != nil {
			tz := form.Schedule.Timezone
			if tz == "" {
				tz = "UTC"
			}
			params["schedule"] = gateway.CronSchedule{
				Kind: "cron",
				Expr: mapper.BuildRoutineExpr(*form.Schedule),
				TZ:   tz,
			}
		}
		if form.Prompt != "" {
			params["payload"] = gateway.CronPayload{
				Kind:  "prompt",
				Text:  form.Prompt,
				Model: s.config.RoutineModel,
			}
		}
		if form.Enabled != nil {
			params["enabled"] = *form.Enabled
		}
	}

	var res gateway.CronJobResult
	if err := s.gw.Call(r.Context(), "cron.update", params, &res); err != nil {
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	sendJSON(w, http.StatusOK, routineResponse(res))
}

func (s *Server) handleRoutineDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.gw.Call(r.Context(), "cron.remove", map[string]any{"id": id}, nil); err != nil {
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	sendJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRoutineTrigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var res gateway.CronJobResult
	if err := s.gw.Call(r.Context(), "cron.run", map[string]any{"id": id}, &res); err != nil {
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	resp := routineResponse(res)
	resp["runId"] = res.RunID
	sendJSON(w, http.StatusOK, resp)
}

func routineResponse(res gateway.CronJobResult) map[string]any {
	resp := map[string]any{"routine": nil}
	if res.Job != nil {
		routine := mapper.CronJobToRoutine(*res.Job, time.Now())
		resp["routine"] = routine
	}
	return resp
}

// ── Realtime handshake ──────────────────────────────────────────────

// wsTokenResponse is the handshake payload. A null wsUrl tells the client
// there is no realtime transport and to operate in polling mode.
type wsTokenResponse struct {
	Token     *string `json:"token"`
	WSURL     *string `json:"wsUrl"`
	ExpiresIn int     `json:"expiresIn"`
}

func (s *Server) handleWSToken(w http.ResponseWriter, r *http.Request) {
	if s.config.WSURL == "" {
		sendJSON(w, http.StatusOK, wsTokenResponse{})
		return
	}

	token, err := s.authn.IssueHandshake()
	if err != nil {
		s.logger.Error("failed to issue handshake token", "error", err)
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "handshake error"})
		return
	}

	wsURL := s.config.WSURL
	sendJSON(w, http.StatusOK, wsTokenResponse{
		Token:     &token,
		WSURL:     &wsURL,
		ExpiresIn: int(s.authn.HandshakeTTL() / time.Second),
	})
}

// ── Signed passthrough proxy ────────────────────────────────────────

// handleProxy forwards /api/cluster/* to the gateway with auth attached.
// The session cookie was already validated by the middleware.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/cluster")

	// Reject path traversal attempts
	for _, seg := range strings.Split(rest, "/") {
		if seg == ".." || seg == "." {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid path"})
			return
		}
	}

	path := rest
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
			return
		}
		body = data
	}

	resp, err := s.gw.Do(r.Context(), r.Method, path, body)
	if err != nil {
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// ── Notifications ───────────────────────────────────────────────────

func (s *Server) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	opts := notify.ListOptions{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.Limit = limit
	}

	notifications, err := s.notifications.List(opts)
	if err != nil {
		s.logger.Error("failed to load notifications", "error", err)
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load notifications"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (s *Server) handleNotificationsPatchAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}

	if body.Action != "read-all" {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown action"})
		return
	}

	count, err := s.notifications.MarkAllRead()
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to update"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"ok": true, "count": count})
}

func (s *Server) handleNotificationsDeleteAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.notifications.DeleteAll()
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to delete notifications"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"ok": true, "count": count})
}

func (s *Server) handleNotificationPatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return
	}

	updated, err := s.notifications.MarkRead(id)
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to update"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"ok": updated})
}

func (s *Server) handleNotificationDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return
	}

	deleted, err := s.notifications.Delete(id)
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to delete"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"ok": deleted})
}
