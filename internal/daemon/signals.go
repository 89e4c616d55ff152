package daemon

import (
	"os"
	"os/signal"

	"go.uber.org/zap"
)

// handleSignals routes OS signals to lifecycle transitions until the returned
// stop func is called. Handlers only flip flags; the loop does the work.
func (d *Daemon) handleSignals() (stop func()) {
	sigs := make([]os.Signal, 0, len(signalActions))
	for s := range signalActions {
		sigs = append(sigs, s)
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-ch:
				d.onSignal(s)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func (d *Daemon) onSignal(s os.Signal) {
	action, ok := signalActions[s]
	if !ok {
		return
	}
	d.log.Info("received signal", zap.String("signal", s.String()), zap.String("action", action.name))
	action.apply(d.life)
}

type signalAction struct {
	name  string
	apply func(*Lifecycle)
}

var (
	gracefulStop  = signalAction{"graceful stop", (*Lifecycle).Shutdown}
	immediateStop = signalAction{"immediate stop", (*Lifecycle).Stop}
	pause         = signalAction{"pause", (*Lifecycle).Pause}
	resume        = signalAction{"resume", (*Lifecycle).Resume}
	connLost      = signalAction{"reconnect", (*Lifecycle).RequestReconnect}
)
