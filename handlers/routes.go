// Package handlers exposes the todo service over HTTP.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"todoshare/auth"
	"todoshare/service"
	"todoshare/utils"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Handler needs. Activity and Throttle may be
// nil, which disables them.
type Deps struct {
	Credentials *auth.Credentials
	Tokens      *auth.TokenService
	Tasks       *service.TaskService
	DB          Pinger
	Activity    *utils.ActivityTracker
	Throttle    *utils.LoginThrottle
	Logger      *slog.Logger
}

type Handler struct {
	credentials *auth.Credentials
	tokens      *auth.TokenService
	tasks       *service.TaskService
	db          Pinger
	activity    *utils.ActivityTracker
	throttle    *utils.LoginThrottle
	logger      *slog.Logger
}

func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		credentials: d.Credentials,
		tokens:      d.Tokens,
		tasks:       d.Tasks,
		db:          d.DB,
		activity:    d.Activity,
		throttle:    d.Throttle,
		logger:      logger,
	}
}

// Routes returns the full middleware-wrapped router.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/{$}", h.Register)
	mux.HandleFunc("POST /auth/token", h.Login)
	mux.HandleFunc("GET /{$}", h.requireUser(h.Me))

	mux.HandleFunc("POST /todo/{$}", h.requireUser(h.CreateTask))
	mux.HandleFunc("GET /todo/{$}", h.requireUser(h.ListTasks))
	mux.HandleFunc("PUT /todo/{task_id}", h.requireUser(h.UpdateTask))
	mux.HandleFunc("DELETE /todo/{task_id}", h.requireUser(h.DeleteTask))

	mux.HandleFunc("GET /healthz", h.Health)

	return withRequestID(h.logRequests(h.recoverPanics(mux)))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
