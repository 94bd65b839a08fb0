package bridge

import (
	"os"
	"path/filepath"

	"github.com/mattermost/logr/v2"
	"github.com/mattermost/logr/v2/formatters"
	"github.com/mattermost/logr/v2/targets"
)

// Logger interface for logging operations
type Logger interface {
	LogDebug(message string, keyValuePairs ...any)
	LogInfo(message string, keyValuePairs ...any)
	LogWarn(message string, keyValuePairs ...any)
	LogError(message string, keyValuePairs ...any)
}

// logrLogger adapts a logr.Logger to the Logger interface.
type logrLogger struct {
	logger logr.Logger
}

// NewLogrLogger wraps a logr.Logger in the Logger interface.
func NewLogrLogger(logger logr.Logger) Logger {
	return &logrLogger{logger: logger}
}

func (l *logrLogger) LogDebug(message string, keyValuePairs ...any) {
	l.logger.Debug(message, fieldsFromPairs(keyValuePairs)...)
}

func (l *logrLogger) LogInfo(message string, keyValuePairs ...any) {
	l.logger.Info(message, fieldsFromPairs(keyValuePairs)...)
}

func (l *logrLogger) LogWarn(message string, keyValuePairs ...any) {
	l.logger.Warn(message, fieldsFromPairs(keyValuePairs)...)
}

func (l *logrLogger) LogError(message string, keyValuePairs ...any) {
	l.logger.Error(message, fieldsFromPairs(keyValuePairs)...)
}

// fieldsFromPairs converts alternating key/value arguments into logr fields.
// A trailing key without a value is logged as-is under the "extra" key.
func fieldsFromPairs(keyValuePairs []any) []logr.Field {
	fields := make([]logr.Field, 0, len(keyValuePairs)/2+1)
	for i := 0; i+1 < len(keyValuePairs); i += 2 {
		key, ok := keyValuePairs[i].(string)
		if !ok {
			key = "unknown"
		}
		fields = append(fields, logr.Any(key, keyValuePairs[i+1]))
	}
	if len(keyValuePairs)%2 == 1 {
		fields = append(fields, logr.Any("extra", keyValuePairs[len(keyValuePairs)-1]))
	}
	return fields
}

// CreateLogger creates and configures a Logr instance for the bridge. Console
// output goes to stdout; setting BRIDGE_LOG_FILESPEC adds a rotating JSON
// file target for transaction debugging.
func CreateLogger() (logr.Logger, error) {
	lgr, err := logr.New(
		logr.MaxQueueSize(1000),
	)
	if err != nil {
		return logr.Logger{}, err
	}

	filter := logr.NewCustomFilter(logr.Debug, logr.Info, logr.Warn, logr.Error, logr.Fatal, logr.Panic)

	consoleTarget := targets.NewWriterTarget(os.Stdout)
	if err := lgr.AddTarget(consoleTarget, "console", filter, &formatters.Plain{Delim: " | "}, 100); err != nil {
		return logr.Logger{}, err
	}

	filespec := os.Getenv("BRIDGE_LOG_FILESPEC")
	if filespec == "" {
		return lgr.NewLogger(), nil
	}

	logPath := filepath.Dir(filespec)
	if logPath != "" && logPath != "." {
		// Ensure log directory exists
		if err := os.MkdirAll(logPath, 0755); err != nil {
			return logr.Logger{}, err
		}
	}

	jsonFormatter := &formatters.JSON{
		EnableCaller: true,
	}

	fileOptions := targets.FileOptions{
		Filename:   filespec,
		MaxSize:    100, // 100MB
		MaxBackups: 5,
		MaxAge:     5, // 5 days
		Compress:   true,
	}
	fileTarget := targets.NewFileTarget(fileOptions)

	if err := lgr.AddTarget(fileTarget, "bridge-transactions", filter, jsonFormatter, 100); err != nil {
		return logr.Logger{}, err
	}

	return lgr.NewLogger(), nil
}
