package uci

import (
	"os"
	"syscall"
)

// terminateSignal returns the signal used for the SIGTERM escalation step of shutdown (§4.1).
func terminateSignal() os.Signal {
	return syscall.SIGTERM
}
