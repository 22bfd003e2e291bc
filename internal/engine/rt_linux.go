//go:build linux

package engine

import (
	"runtime"

	"go.viam.com/rdk/logging"
	"golang.org/x/sys/unix"
)

const controlThreadRTPriority = 50

// lockControlThread pins the Control Loop goroutine to its OS thread,
// locks the process address space into RAM, and requests SCHED_FIFO
// for the thread. Any of the three can fail without privileges; the
// loop then runs at normal priority with a logged warning.
func lockControlThread(logger logging.Logger) {
	runtime.LockOSThread()

	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		logger.Warnw("could not lock memory, page faults may add control jitter", "error", err)
	}

	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: controlThreadRTPriority,
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		logger.Warnw("could not acquire real-time priority, continuing at normal priority", "error", err)
	} else {
		logger.Infof("control thread running SCHED_FIFO priority %d", controlThreadRTPriority)
	}
}
