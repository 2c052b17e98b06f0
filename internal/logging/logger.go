// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the package-level zerolog logger that cmd/nanny
// and anything else wanting direct zerolog ergonomics uses, as opposed
// to the Logger capability interface in capability.go that the core
// state machines depend on. Its fields are exactly the three knobs
// internal/config.LoggingConfig exposes to an operator; Output has no
// config-file equivalent and exists only so tests can capture output
// instead of writing to os.Stderr.
type Config struct {
	// Level is one of trace, debug, info, warn, error, fatal, panic,
	// disabled. Default: info.
	Level string

	// Format is "json" or "console". Default: json.
	Format string

	// Caller includes the calling file:line in every event. Default:
	// false — every event loop already tags its own lines with a
	// logicalId/balancer field, which locates the problem faster than
	// a source line does.
	Caller bool

	// Output is the destination writer. Default: os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the configuration used before Init is called
// and for any field a caller leaves at its zero value.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: os.Stderr}
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

//nolint:gochecknoinits // a usable logger must exist before cmd/nanny calls Init
func init() {
	initLogger(DefaultConfig())
}

// Init configures the global logger. cmd/nanny calls this exactly
// once, immediately after loading Config; it is safe to call again
// (tests do) and simply reconfigures in place.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

func initLogger(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.ErrorFieldName = "error"
	zerolog.CallerFieldName = "caller"

	output := cfg.Output
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log = ctx.Logger()
}

// parseLevel converts a config string into a zerolog.Level, defaulting
// to info for anything it doesn't recognize.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Raw returns the global zerolog.Logger, for New (capability.go) to
// adapt or for code that wants to chain zerolog calls directly.
func Raw() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug, Info, Warn, and Error start a new event at the matching
// level. They mirror the four levels the Logger capability interface
// exposes to the core state machines, for call sites (cmd/nanny's own
// startup/shutdown logging) that want zerolog's fluent event builder
// instead of the Fields map the capability interface takes.
func Debug() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Debug()
}

func Info() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Info()
}

func Warn() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Warn()
}

func Error() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Error()
}

// Fatal starts a fatal-level event; zerolog calls os.Exit(1) once the
// event is emitted via Msg/Msgf. Reserved for cmd/nanny's own
// unrecoverable startup/shutdown failures — the Logger capability
// interface deliberately has no equivalent, since the core state
// machines must never exit the process on their own.
func Fatal() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Fatal()
}
