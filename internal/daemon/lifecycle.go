package daemon

import "sync/atomic"

// Lifecycle holds the flags signal handlers and the control API flip. Each
// flag is independent; the loop reads them once per tick. Repeated requests
// collapse into the latest value.
type Lifecycle struct {
	running   atomic.Bool
	paused    atomic.Bool
	immediate atomic.Bool
	reconnect atomic.Bool

	wake chan struct{}
}

func NewLifecycle() *Lifecycle {
	l := &Lifecycle{wake: make(chan struct{}, 1)}
	l.running.Store(true)
	return l
}

// Shutdown asks the loop to exit at the top of its next tick.
func (l *Lifecycle) Shutdown() {
	l.running.Store(false)
	l.notify()
}

// Stop is the immediate stop. Nothing runs jobs here, so it exits the loop
// the same way Shutdown does.
func (l *Lifecycle) Stop() {
	l.immediate.Store(true)
	l.Shutdown()
}

func (l *Lifecycle) Pause() {
	l.paused.Store(true)
	l.notify()
}

func (l *Lifecycle) Resume() {
	l.paused.Store(false)
	l.notify()
}

// RequestReconnect makes the loop reconnect the store before its next drain.
func (l *Lifecycle) RequestReconnect() {
	l.reconnect.Store(true)
	l.notify()
}

func (l *Lifecycle) Running() bool   { return l.running.Load() }
func (l *Lifecycle) Paused() bool    { return l.paused.Load() }
func (l *Lifecycle) Immediate() bool { return l.immediate.Load() }

func (l *Lifecycle) takeReconnect() bool { return l.reconnect.Swap(false) }

func (l *Lifecycle) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
