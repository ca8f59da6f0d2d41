// Package signaler provides a helper to wait on operating system interrupt
// signals for daemon shutdown handling
package signaler

import (
	"os"
	"os/signal"
	"syscall"
)

// WaitForInterrupt registers interest in shutdown signals and returns the
// channel they will be delivered on
func WaitForInterrupt() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c,
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGABRT,
		syscall.SIGQUIT)
	return c
}
