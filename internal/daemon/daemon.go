// Package daemon runs the scheduler poll loop: drain the delayed queue, sleep,
// repeat, while honouring stop, pause, resume and reconnect requests.
package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SirClappington/delayq/internal/domain"
	"github.com/SirClappington/delayq/internal/drain"
	"github.com/SirClappington/delayq/internal/recurring"
)

const DefaultInterval = 5 * time.Second

type State string

const (
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

type Drainer interface {
	DrainAll(ctx context.Context) (drain.Result, error)
}

type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Gate decides whether this process may drain on the current tick.
type Gate interface {
	Acquire(ctx context.Context) (bool, error)
}

type Daemon struct {
	drainer   Drainer
	store     Reconnector
	life      *Lifecycle
	interval  time.Duration
	log       *zap.Logger
	signals   bool
	gate      Gate
	recurring *recurring.Runner
	now       func() time.Time
	id        string

	phase    atomic.Value // State
	ticks    atomic.Int64
	drains   atomic.Int64
	enqueued atomic.Int64

	mu      sync.Mutex
	lastErr string
}

type Option func(*Daemon)

// WithInterval sets the sleep between ticks. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(dm *Daemon) {
		if d > 0 {
			dm.interval = d
		}
	}
}

func WithLogger(log *zap.Logger) Option { return func(d *Daemon) { d.log = log } }

// WithSignals installs OS signal handlers for the duration of Run.
func WithSignals(enabled bool) Option { return func(d *Daemon) { d.signals = enabled } }

func WithLeaderGate(g Gate) Option { return func(d *Daemon) { d.gate = g } }

func WithRecurring(r *recurring.Runner) Option { return func(d *Daemon) { d.recurring = r } }

func WithClock(now func() time.Time) Option { return func(d *Daemon) { d.now = now } }

func WithInstanceID(id string) Option { return func(d *Daemon) { d.id = id } }

func New(drainer Drainer, store Reconnector, opts ...Option) *Daemon {
	d := &Daemon{
		drainer:  drainer,
		store:    store,
		life:     NewLifecycle(),
		interval: DefaultInterval,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.id == "" {
		d.id = uuid.NewString()
	}
	d.log = d.log.Named("daemon").With(zap.String("instance", d.id))
	d.phase.Store(StateStarting)
	return d
}

func (d *Daemon) Lifecycle() *Lifecycle { return d.life }

func (d *Daemon) InstanceID() string { return d.id }

func (d *Daemon) State() State {
	phase := d.phase.Load().(State)
	if phase != StateRunning {
		return phase
	}
	switch {
	case !d.life.Running():
		return StateShuttingDown
	case d.life.Paused():
		return StatePaused
	}
	return StateRunning
}

// Run blocks until the loop stops. Cancelling ctx is a graceful stop; a drain
// pass already underway still completes. The returned error is nil on a
// requested stop and non-nil when the store broke its contract or failed in
// a way a reconnect cannot fix.
func (d *Daemon) Run(ctx context.Context) error {
	if d.signals {
		stop := d.handleSignals()
		defer stop()
	}
	defer context.AfterFunc(ctx, d.life.Shutdown)()

	work := context.WithoutCancel(ctx)
	d.phase.Store(StateRunning)
	defer d.phase.Store(StateStopped)
	d.log.Info("scheduler started", zap.Duration("interval", d.interval))

	for {
		if !d.life.Running() {
			d.log.Info("scheduler stopping", zap.Bool("immediate", d.life.Immediate()))
			return nil
		}
		if err := d.tick(work); err != nil {
			d.setLastErr(err)
			d.log.Error("scheduler stopped on error", zap.Error(err))
			return err
		}
		d.sleep()
	}
}

func (d *Daemon) tick(ctx context.Context) error {
	d.ticks.Add(1)

	if d.life.takeReconnect() && !d.reconnect(ctx) {
		return nil
	}
	if d.life.Paused() {
		d.log.Debug("paused, not looking for jobs")
		return nil
	}
	if d.gate != nil {
		ok, err := d.gate.Acquire(ctx)
		if err != nil {
			d.setLastErr(err)
			d.log.Warn("leader check failed", zap.Error(err))
			return nil
		}
		if !ok {
			d.log.Debug("not the leader, not looking for jobs")
			return nil
		}
	}

	d.log.Debug("looking for jobs")
	res, err := d.drainer.DrainAll(ctx)
	d.drains.Add(1)
	d.enqueued.Add(int64(res.Enqueued))
	unavailable := domain.IsUnavailable(err)
	if err := d.handle(err); err != nil {
		return err
	}

	// the reconnect has to happen first; recurring entries stay due meanwhile
	if d.recurring != nil && !unavailable {
		n, err := d.recurring.Run(ctx, d.now())
		d.enqueued.Add(int64(n))
		return d.handle(err)
	}
	return nil
}

// handle applies the tick error policy. It returns the error only when the
// loop must end.
func (d *Daemon) handle(err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsIntegrity(err):
		return err
	case domain.IsUnavailable(err):
		d.setLastErr(err)
		d.log.Warn("store unavailable, reconnecting before next tick", zap.Error(err))
		d.life.RequestReconnect()
		return nil
	case domain.IsMalformed(err):
		d.setLastErr(err)
		return nil
	}
	return err
}

func (d *Daemon) reconnect(ctx context.Context) bool {
	d.log.Info("reconnecting to store")
	if err := d.store.Reconnect(ctx); err != nil {
		d.setLastErr(err)
		d.log.Warn("reconnect failed", zap.Error(err))
		d.life.reconnect.Store(true)
		return false
	}
	d.log.Info("reconnected to store")
	return true
}

func (d *Daemon) sleep() {
	d.log.Debug("waiting", zap.Duration("interval", d.interval))
	t := time.NewTimer(d.interval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-d.life.wake:
	}
}

func (d *Daemon) setLastErr(err error) {
	d.mu.Lock()
	d.lastErr = err.Error()
	d.mu.Unlock()
}

type Status struct {
	Instance  string `json:"instance"`
	State     State  `json:"state"`
	Paused    bool   `json:"paused"`
	Interval  string `json:"interval"`
	Ticks     int64  `json:"ticks"`
	Drains    int64  `json:"drains"`
	Enqueued  int64  `json:"enqueued"`
	LastError string `json:"last_error,omitempty"`
}

func (d *Daemon) Status() Status {
	d.mu.Lock()
	lastErr := d.lastErr
	d.mu.Unlock()
	return Status{
		Instance:  d.id,
		State:     d.State(),
		Paused:    d.life.Paused(),
		Interval:  d.interval.String(),
		Ticks:     d.ticks.Load(),
		Drains:    d.drains.Load(),
		Enqueued:  d.enqueued.Load(),
		LastError: lastErr,
	}
}
