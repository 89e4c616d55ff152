//go:build !windows

package daemon

import (
	"os"
	"syscall"
)

var signalActions = map[os.Signal]signalAction{
	syscall.SIGQUIT: gracefulStop,
	syscall.SIGINT:  immediateStop,
	syscall.SIGTERM: immediateStop,
	syscall.SIGUSR2: pause,
	syscall.SIGCONT: resume,
	syscall.SIGPIPE: connLost,
}
