package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/spacetimedb/core/pkg/algebra"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with a component name
// ("engine", "controller", "scheduler", ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithReplica creates a child logger tagged with a replica id. Every
// pkg/replica.Context carries one of these as its own logger (§4.5).
func WithReplica(id algebra.ReplicaId) zerolog.Logger {
	return Logger.With().Str("replica_id", id.String()).Logger()
}

// WithModule creates a child logger tagged with a module's program hash.
func WithModule(hash algebra.Hash) zerolog.Logger {
	return Logger.With().Str("program_hash", hash.String()).Logger()
}

// WithReducer creates a child logger tagged with the reducer name a host
// worker is currently invoking.
func WithReducer(name string) zerolog.Logger {
	return Logger.With().Str("reducer", name).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
