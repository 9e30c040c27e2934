package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type contextKey string

const loggerContextKey contextKey = "logger.logger"

var defaultLogger = logrus.New()
var defaultEntry = logrus.NewEntry(defaultLogger)

func NewContextWithFields(parent context.Context, fields logrus.Fields) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, loggerContextKey, For(parent).WithFields(fields))
}

func SetLoggerOptions(optionsFunc func(logger *logrus.Logger)) {
	optionsFunc(defaultLogger)
}

// InitWithDefaults configures the shared logger for a command line process. Debug
// output switches to a human readable formatter; otherwise entries are emitted as JSON
// so they can be shipped as-is.
func InitWithDefaults(debug bool) {
	SetLoggerOptions(func(l *logrus.Logger) {
		l.SetOutput(os.Stderr)
		if debug {
			l.SetLevel(logrus.DebugLevel)
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			return
		}
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&logrus.JSONFormatter{})
	})
}

func For(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return defaultEntry
	}

	value := ctx.Value(loggerContextKey)
	if logger, ok := value.(*logrus.Entry); ok {
		return logger.WithContext(ctx)
	}

	return defaultEntry.WithContext(ctx)
}
