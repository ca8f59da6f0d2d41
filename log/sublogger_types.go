package log

import "io"

// Global vars related to the logger package
var (
	subLoggers = map[string]*SubLogger{}

	Global          *SubLogger
	ConfigMgr       *SubLogger
	DatabaseMgr     *SubLogger
	RegistrySys     *SubLogger
	WatcherMgr      *SubLogger
	FanoutMgr       *SubLogger
	SubscriptionMgr *SubLogger
	QuerySys        *SubLogger
	MDNSMgr         *SubLogger

	RESTSys      *SubLogger
	WebsocketMgr *SubLogger
)

// SubLogger defines a logging sub system with independent levels and output
type SubLogger struct {
	name   string
	output io.Writer
	Levels
}

func (sl *SubLogger) getFields() *logFields {
	if sl == nil {
		return nil
	}
	if globalLogConfig.Enabled != nil && !*globalLogConfig.Enabled {
		return nil
	}
	return &logFields{
		info:   sl.Info,
		warn:   sl.Warn,
		debug:  sl.Debug,
		error:  sl.Error,
		name:   sl.name,
		output: sl.output,
		logger: logger,
	}
}
