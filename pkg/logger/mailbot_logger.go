// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config for logger
type Config struct {
	Level   string
	Service string
	// Console switches to human readable output.
	Console bool
	Output  io.Writer
}

var once sync.Once

// Init installs the global logger. Only the first call has an effect.
func Init(cfg Config) {
	once.Do(func() {
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		if cfg.Console {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
		if cfg.Service == "" {
			cfg.Service = "mailbot"
		}

		zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
		zerolog.TimeFieldFormat = time.RFC3339Nano
		zerolog.DurationFieldUnit = time.Millisecond

		log.Logger = zerolog.New(out).With().
			Timestamp().
			Str("service", cfg.Service).
			Logger()
	})
}

// ParseLevel parses a string level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// WithField returns a child logger with one extra field.
func WithField(key string, value any) zerolog.Logger {
	return log.With().Interface(key, value).Logger()
}

// WithError returns a child logger carrying err.
func WithError(err error) zerolog.Logger {
	return log.With().Err(err).Logger()
}

// =============================================================================
// Printf-style helpers
// =============================================================================

func Debug(format string, args ...any) { log.Debug().Msg(sprintf(format, args...)) }

func Info(format string, args ...any) { log.Info().Msg(sprintf(format, args...)) }

func Warn(format string, args ...any) { log.Warn().Msg(sprintf(format, args...)) }

func Error(format string, args ...any) { log.Error().Msg(sprintf(format, args...)) }

// Fatal logs and exits the process.
func Fatal(format string, args ...any) { log.Fatal().Msg(sprintf(format, args...)) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
