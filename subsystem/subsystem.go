// Package subsystem holds the lifecycle errors and messages shared by the
// service's managers
package subsystem

import "errors"

const (
	// MsgStarting message to log when a subsystem is starting up
	MsgStarting = "starting..."
	// MsgStarted message to log when a subsystem has started
	MsgStarted = "started."
	// MsgShuttingDown message to log when a subsystem is shutting down
	MsgShuttingDown = "shutting down..."
	// MsgShutdown message to log when a subsystem has shutdown
	MsgShutdown = "shutdown."
)

var (
	// ErrAlreadyStarted is returned when a subsystem is already started
	ErrAlreadyStarted = errors.New("subsystem already started")
	// ErrNotStarted is returned when a subsystem has not been started
	ErrNotStarted = errors.New("subsystem not started")
	// ErrNil is returned when a subsystem has not been set up
	ErrNil = errors.New("subsystem not setup")
	// ErrNilConfig is returned when a subsystem receives no config
	ErrNilConfig = errors.New("received nil config")
)
