package config

import (
	"sync"

	"go.uber.org/zap/zapcore"

	"go.viam.com/edukit/logging"
)

// Size and count limits for the rotating log file.
const (
	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
)

var globalLogger struct {
	// Initialized once at startup.
	logger           logging.Logger
	cmdLineDebugFlag bool

	mu                  sync.Mutex
	fileConfigDebugFlag bool
}

// InitLoggingSettings initializes the global logging settings.
func InitLoggingSettings(logger logging.Logger, cmdLineDebugFlag bool) {
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.logger = logger
	globalLogger.cmdLineDebugFlag = cmdLineDebugFlag
	refreshLogLevelInLock()
	logger.Info("Log level initialized: ", logging.GlobalLogLevel.Level())
}

// UpdateFileConfigDebug is used to update the debug flag whenever the config file is read.
func UpdateFileConfigDebug(fileDebug bool) {
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.fileConfigDebugFlag = fileDebug
	refreshLogLevelInLock()
}

func refreshLogLevelInLock() {
	newLevel := zapcore.InfoLevel
	if globalLogger.cmdLineDebugFlag || globalLogger.fileConfigDebugFlag {
		newLevel = zapcore.DebugLevel
	}
	if logging.GlobalLogLevel.Level() == newLevel {
		return
	}
	logging.GlobalLogLevel.SetLevel(newLevel)
	if globalLogger.logger != nil {
		globalLogger.logger.Info("New log level: ", newLevel)
	}
}

// AddLogFileAppender adds a rotating file appender to logger when the config names a log file.
// The returned function closes the file.
func AddLogFileAppender(logger logging.Logger, cfg *Config) func() error {
	if cfg.LogFile == "" {
		return func() error { return nil }
	}
	appender := logging.NewFileAppender(cfg.LogFile, logFileMaxSizeMB, logFileMaxBackups)
	logger.AddAppender(appender)
	return appender.Close
}
