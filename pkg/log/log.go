package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
	once   sync.Once
)

// Init configures the process logger. Called once at startup; before that,
// L() returns a plain JSON stdout logger. Stdlib log output is redirected
// through the configured logger so third-party log.Printf calls come out
// structured too.
func Init(level, service string, pretty bool) {
	once.Do(func() {
		var w io.Writer = os.Stdout
		if pretty {
			w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		}

		logger := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
		if service != "" {
			logger = logger.With().Str(FieldService, service).Logger()
		}
		global = logger

		stdlog.SetFlags(0)
		stdlog.SetOutput(global)
	})
}

// L returns the process logger.
func L() zerolog.Logger {
	return global
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
