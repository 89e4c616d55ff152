package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/delayq/internal/domain"
)

// Scheduler is the producer side of the deferred index.
type Scheduler interface {
	EnqueueAt(ctx context.Context, ts domain.Timestamp, rec domain.Record) error
	RemoveDelayed(ctx context.Context, rec domain.Record) (int, error)
	DelayedScheduleSize(ctx context.Context) (int64, error)
	DelayedTimestampSize(ctx context.Context, ts domain.Timestamp) (int64, error)
	Ping(ctx context.Context) error
}

type delayedRequest struct {
	Queue    string         `json:"queue"`
	Class    string         `json:"class"`
	Args     map[string]any `json:"args"`
	RunAt    int64          `json:"run_at"`
	DelaySec int64          `json:"delay_sec"`
}

func (d delayedRequest) record() domain.Record {
	return domain.Record{Queue: d.Queue, Class: d.Class, Args: d.Args}
}

// NewProducerRouter serves the API producers use to schedule delayed jobs.
func NewProducerRouter(s Scheduler, log *zap.Logger, now func() time.Time) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	log = log.Named("api")

	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID, middleware.Recoverer)

	rtr.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	rtr.Post("/v1/delayed", func(w http.ResponseWriter, r *http.Request) {
		var req delayedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.RunAt != 0 && req.DelaySec != 0 {
			writeError(w, http.StatusBadRequest, errors.New("set run_at or delay_sec, not both"))
			return
		}
		if req.DelaySec < 0 {
			writeError(w, http.StatusBadRequest, errors.New("delay_sec must not be negative"))
			return
		}
		ts := domain.Timestamp(req.RunAt)
		if req.RunAt == 0 {
			ts = domain.TimestampOf(now().Add(time.Duration(req.DelaySec) * time.Second))
		}

		err := s.EnqueueAt(r.Context(), ts, req.record())
		var me *domain.MalformedError
		switch {
		case errors.As(err, &me):
			writeError(w, http.StatusBadRequest, err)
			return
		case err != nil:
			log.Error("schedule delayed job", zap.Error(err))
			writeError(w, statusFor(err), err)
			return
		}
		log.Info("scheduled delayed job",
			zap.String("queue", req.Queue),
			zap.String("class", req.Class),
			zap.Int64("timestamp", int64(ts)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "scheduled", "timestamp": int64(ts)})
	})

	rtr.Delete("/v1/delayed", func(w http.ResponseWriter, r *http.Request) {
		var req delayedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		n, err := s.RemoveDelayed(r.Context(), req.record())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	})

	rtr.Get("/v1/delayed", func(w http.ResponseWriter, r *http.Request) {
		n, err := s.DelayedScheduleSize(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"timestamps": n})
	})

	rtr.Get("/v1/delayed/{ts}", func(w http.ResponseWriter, r *http.Request) {
		ts, err := strconv.ParseInt(chi.URLParam(r, "ts"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		n, err := s.DelayedTimestampSize(r.Context(), domain.Timestamp(ts))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"jobs": n})
	})

	return rtr
}

func statusFor(err error) int {
	if domain.IsUnavailable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
