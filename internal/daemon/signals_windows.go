//go:build windows

package daemon

import "os"

// Only interrupt is deliverable on Windows; pause, resume and reconnect are
// reachable through the control API.
var signalActions = map[os.Signal]signalAction{
	os.Interrupt: immediateStop,
}
