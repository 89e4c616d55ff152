package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/delayq/internal/daemon"
)

// Controller is the part of the daemon the control API drives.
type Controller interface {
	Lifecycle() *daemon.Lifecycle
	Status() daemon.Status
}

// NewControlRouter exposes the lifecycle transitions over HTTP. Handlers only
// flip lifecycle flags; the loop acts on them at its next tick.
func NewControlRouter(ctl Controller, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("control")

	rtr := chi.NewRouter()
	rtr.Use(middleware.Recoverer)

	rtr.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	rtr.Get("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctl.Status())
	})

	transition := func(name string, apply func(*daemon.Lifecycle)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			log.Info("lifecycle request", zap.String("action", name), zap.String("remote", r.RemoteAddr))
			apply(ctl.Lifecycle())
			writeJSON(w, http.StatusAccepted, ctl.Status())
		}
	}
	rtr.Post("/v1/pause", transition("pause", (*daemon.Lifecycle).Pause))
	rtr.Post("/v1/resume", transition("resume", (*daemon.Lifecycle).Resume))
	rtr.Post("/v1/reconnect", transition("reconnect", (*daemon.Lifecycle).RequestReconnect))
	rtr.Post("/v1/stop", func(w http.ResponseWriter, r *http.Request) {
		immediate, _ := strconv.ParseBool(r.URL.Query().Get("immediate"))
		if immediate {
			transition("immediate stop", (*daemon.Lifecycle).Stop)(w, r)
			return
		}
		transition("graceful stop", (*daemon.Lifecycle).Shutdown)(w, r)
	})
	return rtr
}
