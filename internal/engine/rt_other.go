//go:build !linux

package engine

import (
	"runtime"

	"go.viam.com/rdk/logging"
)

// lockControlThread pins the Control Loop goroutine to its OS thread.
// Real-time scheduling and memory locking are only wired up on Linux.
func lockControlThread(logger logging.Logger) {
	runtime.LockOSThread()
	logger.Debug("real-time scheduling not available on this platform, control thread at normal priority")
}
