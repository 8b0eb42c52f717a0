package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aldar.app/internal/apperr"
)

var (
	loggerMu   sync.RWMutex
	loggerOnce sync.Once
	logger     zerolog.Logger
)

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("service", "aldar-api").Logger()
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerOnce.Do(func() {
		loggerMu.Lock()
		logger = newLogger(os.Stdout)
		loggerMu.Unlock()
	})
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	return &l
}

// SetOutput redirects the shared logger and returns a func restoring stdout.
func SetOutput(w io.Writer) (restore func()) {
	Logger()
	loggerMu.Lock()
	logger = newLogger(w)
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = newLogger(os.Stdout)
		loggerMu.Unlock()
	}
}

// Named builds the request scoped logger declared by an endpoint.
// Every endpoint must declare the log file its records are routed to.
func Named(name, file string) (zerolog.Logger, error) {
	file = strings.TrimSpace(file)
	if file == "" {
		return zerolog.Nop(), apperr.Config("logger file name is not configured for " + name)
	}
	if name == "" {
		name = strings.TrimSuffix(file, ".log")
	}
	return Logger().With().Str("logger", name).Str("log_file", file).Logger(), nil
}
