package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	errSubloggerConfigIsNil  = errors.New("sublogger config is nil")
	errUnhandledOutputWriter = errors.New("unhandled output writer")
)

func getWriters(s *SubLoggerConfig) (io.Writer, error) {
	if s == nil {
		return nil, errSubloggerConfigIsNil
	}
	mw, err := MultiWriter()
	if err != nil {
		return nil, err
	}
	outputWriters := strings.Split(s.Output, "|")
	for x := range outputWriters {
		var writer io.Writer
		switch strings.ToLower(outputWriters[x]) {
		case "stdout", "console":
			writer = os.Stdout
		case "stderr":
			writer = os.Stderr
		case "file":
			if globalLogFile == nil {
				continue
			}
			writer = globalLogFile
		default:
			return nil, fmt.Errorf("%w: %s", errUnhandledOutputWriter, outputWriters[x])
		}
		err = mw.Add(writer)
		if err != nil {
			return nil, err
		}
	}
	return mw, nil
}

// GenDefaultSettings returns a struct with known sane/working logger settings
func GenDefaultSettings() Config {
	enabled := true
	showName := true
	return Config{
		Enabled: &enabled,
		SubLoggerConfig: SubLoggerConfig{
			Level:  "INFO|DEBUG|WARN|ERROR",
			Output: "console",
		},
		AdvancedSettings: advancedSettings{
			ShowLogSystemName: &showName,
			Spacer:            spacer,
			TimeStampFormat:   timestampFormat,
			Headers: headers{
				Info:  "[INFO]",
				Warn:  "[WARN]",
				Debug: "[DEBUG]",
				Error: "[ERROR]",
			},
		},
	}
}

func newLogger(c *Config) Logger {
	l := Logger{
		TimestampFormat: c.AdvancedSettings.TimeStampFormat,
		Spacer:          c.AdvancedSettings.Spacer,
		InfoHeader:      c.AdvancedSettings.Headers.Info,
		WarnHeader:      c.AdvancedSettings.Headers.Warn,
		DebugHeader:     c.AdvancedSettings.Headers.Debug,
		ErrorHeader:     c.AdvancedSettings.Headers.Error,
	}
	if c.AdvancedSettings.ShowLogSystemName != nil {
		l.ShowLogSystemName = *c.AdvancedSettings.ShowLogSystemName
	}
	return l
}

func configureSubLogger(subLogger, levels string, output io.Writer) error {
	logPtr, found := subLoggers[subLogger]
	if !found {
		return fmt.Errorf("sub logger %v not found", subLogger)
	}
	logPtr.output = output
	logPtr.Levels = splitLevel(levels)
	return nil
}

// SetupSubLoggers configures all sub loggers with provided configuration
// values
func SetupSubLoggers(s []SubLoggerConfig) {
	for x := range s {
		output, err := getWriters(&s[x])
		if err != nil {
			continue
		}
		err = configureSubLogger(strings.ToUpper(s[x].Name), s[x].Level, output)
		if err != nil {
			continue
		}
	}
}

// SetupGlobalLogger applies the supplied configuration to every registered
// sub logger and opens the shared log file when requested
func SetupGlobalLogger(c *Config) error {
	if c == nil {
		return errSubloggerConfigIsNil
	}

	mu.Lock()
	globalLogConfig = c
	fillDefaults(globalLogConfig)

	if globalLogConfig.LoggerFileConfig != nil &&
		globalLogConfig.LoggerFileConfig.FileName != "" {
		f, err := os.OpenFile(globalLogConfig.LoggerFileConfig.FileName,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			0o644)
		if err != nil {
			mu.Unlock()
			return err
		}
		globalLogFile = f
	}

	for x := range subLoggers {
		subLoggers[x].Levels = splitLevel(globalLogConfig.Level)
		subLoggers[x].output, _ = getWriters(&globalLogConfig.SubLoggerConfig)
	}

	logger = newLogger(globalLogConfig)
	mu.Unlock()

	SetupSubLoggers(c.SubLoggers)
	return nil
}

// CloseLogger releases the shared log file if one was opened
func CloseLogger() error {
	mu.Lock()
	defer mu.Unlock()
	if globalLogFile == nil {
		return nil
	}
	err := globalLogFile.Close()
	globalLogFile = nil
	return err
}

func fillDefaults(c *Config) {
	def := GenDefaultSettings()
	if c.Level == "" {
		c.Level = def.Level
	}
	if c.Output == "" {
		c.Output = def.Output
	}
	if c.AdvancedSettings.Spacer == "" {
		c.AdvancedSettings.Spacer = def.AdvancedSettings.Spacer
	}
	if c.AdvancedSettings.TimeStampFormat == "" {
		c.AdvancedSettings.TimeStampFormat = def.AdvancedSettings.TimeStampFormat
	}
	if c.AdvancedSettings.ShowLogSystemName == nil {
		c.AdvancedSettings.ShowLogSystemName = def.AdvancedSettings.ShowLogSystemName
	}
	if (c.AdvancedSettings.Headers == headers{}) {
		c.AdvancedSettings.Headers = def.AdvancedSettings.Headers
	}
}

func splitLevel(level string) (l Levels) {
	enabledLevels := strings.Split(level, "|")
	for x := range enabledLevels {
		switch enabledLevels[x] {
		case "DEBUG":
			l.Debug = true
		case "INFO":
			l.Info = true
		case "WARN":
			l.Warn = true
		case "ERROR":
			l.Error = true
		}
	}
	return
}

func registerNewSubLogger(subLogger string) *SubLogger {
	temp := SubLogger{
		name:   strings.ToUpper(subLogger),
		output: os.Stdout,
	}
	temp.Levels = splitLevel("INFO|WARN|DEBUG|ERROR")
	subLoggers[temp.name] = &temp
	return &temp
}

// NewSubLogger allows external packages to register a new sub logger
func NewSubLogger(name string) (*SubLogger, error) {
	if name == "" {
		return nil, errEmptyLoggerName
	}
	name = strings.ToUpper(name)
	if _, ok := subLoggers[name]; ok {
		return nil, fmt.Errorf("'%v' %w", name, ErrSubLoggerAlreadyRegistered)
	}
	return registerNewSubLogger(name), nil
}

var (
	// ErrSubLoggerAlreadyRegistered defines an error for when a sub logger is
	// registered twice
	ErrSubLoggerAlreadyRegistered = errors.New("sub logger already registered")
	errEmptyLoggerName            = errors.New("cannot have empty logger name")
)

// register all loggers at package init()
func init() {
	Global = registerNewSubLogger("LOG")

	ConfigMgr = registerNewSubLogger("CONFIG")
	DatabaseMgr = registerNewSubLogger("DATABASE")
	RegistrySys = registerNewSubLogger("REGISTRY")
	WatcherMgr = registerNewSubLogger("WATCHER")
	FanoutMgr = registerNewSubLogger("FANOUT")
	SubscriptionMgr = registerNewSubLogger("SUBSCRIPTION")
	QuerySys = registerNewSubLogger("QUERY")
	MDNSMgr = registerNewSubLogger("MDNS")

	RESTSys = registerNewSubLogger("REST")
	WebsocketMgr = registerNewSubLogger("WEBSOCKET")
}
