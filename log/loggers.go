package log

import (
	"fmt"
	"log"
	"time"
)

// Info takes a pointer subLogger struct and string and submits it for writing
func Info(sl *SubLogger, data string) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stage(fields.logger.InfoHeader, data)
}

// Infoln takes a pointer subLogger struct and interface and submits it for writing
func Infoln(sl *SubLogger, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stageln(fields.logger.InfoHeader, v...)
}

// Infof takes a pointer subLogger struct, string and interface, formats and
// submits it for writing
func Infof(sl *SubLogger, data string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stagef(fields.logger.InfoHeader, data, v...)
}

// Debug takes a pointer subLogger struct and string and submits it for writing
func Debug(sl *SubLogger, data string) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stage(fields.logger.DebugHeader, data)
}

// Debugln takes a pointer subLogger struct and interface and submits it for writing
func Debugln(sl *SubLogger, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stageln(fields.logger.DebugHeader, v...)
}

// Debugf takes a pointer subLogger struct, string and interface, formats and
// submits it for writing
func Debugf(sl *SubLogger, data string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stagef(fields.logger.DebugHeader, data, v...)
}

// Warn takes a pointer subLogger struct and string and submits it for writing
func Warn(sl *SubLogger, data string) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stage(fields.logger.WarnHeader, data)
}

// Warnln takes a pointer subLogger struct and interface and submits it for writing
func Warnln(sl *SubLogger, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stageln(fields.logger.WarnHeader, v...)
}

// Warnf takes a pointer subLogger struct, string and interface, formats and
// submits it for writing
func Warnf(sl *SubLogger, data string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stagef(fields.logger.WarnHeader, data, v...)
}

// Error takes a pointer subLogger struct and string and submits it for writing
func Error(sl *SubLogger, data string) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stage(fields.logger.ErrorHeader, data)
}

// Errorln takes a pointer subLogger struct and interface and submits it for writing
func Errorln(sl *SubLogger, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stageln(fields.logger.ErrorHeader, v...)
}

// Errorf takes a pointer subLogger struct, string and interface, formats and
// submits it for writing
func Errorf(sl *SubLogger, data string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	fields := sl.getFields()
	if fields == nil {
		return
	}
	fields.stagef(fields.logger.ErrorHeader, data, v...)
}

func displayError(err error) {
	if err != nil {
		log.Printf("Logger write error: %v\n", err)
	}
}

// enabled checks if the log level is enabled
func (l *logFields) enabled(header string) bool {
	switch header {
	case l.logger.InfoHeader:
		return l.info
	case l.logger.WarnHeader:
		return l.warn
	case l.logger.ErrorHeader:
		return l.error
	case l.logger.DebugHeader:
		return l.debug
	}
	return false
}

// stage writes out a log event
func (l *logFields) stage(header, data string) {
	if l == nil || l.output == nil || !l.enabled(header) {
		return
	}
	msg := header + time.Now().Format(l.logger.TimestampFormat)
	if l.logger.ShowLogSystemName {
		msg += l.name + l.logger.Spacer
	}
	_, err := l.output.Write([]byte(msg + data + "\n"))
	displayError(err)
}

// stageln writes out a log event
func (l *logFields) stageln(header string, data ...interface{}) {
	if l == nil {
		return
	}
	l.stage(header, fmt.Sprint(data...))
}

// stagef formats then writes out a log event
func (l *logFields) stagef(header, data string, v ...interface{}) {
	if l == nil {
		return
	}
	l.stage(header, fmt.Sprintf(data, v...))
}
