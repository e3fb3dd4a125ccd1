package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a zerolog logger from the given configuration.
// The returned logger carries the service name and version on every event.
func NewLogger(cfg LoggingConfig, serviceName, serviceVersion string) (zerolog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return zerolog.Nop(), err
	}

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", serviceVersion).
		Logger()

	return logger, nil
}

func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", output, err)
		}
		return f, nil
	}
}

// WithRunID returns a logger that tags every event with the run ID.
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithInstance returns a logger that tags every event with the component
// instance name and type.
func WithInstance(logger zerolog.Logger, name, componentType string) zerolog.Logger {
	return logger.With().
		Str("instance", name).
		Str("component_type", componentType).
		Logger()
}

// WithOperation returns a logger that tags every event with the operation
// ID and type.
func WithOperation(logger zerolog.Logger, opID, opType string) zerolog.Logger {
	return logger.With().
		Str("operation_id", opID).
		Str("operation_type", opType).
		Logger()
}

// WithProvider returns a logger that tags every event with the provider's
// component type.
func WithProvider(logger zerolog.Logger, componentType string) zerolog.Logger {
	return logger.With().Str("provider", componentType).Logger()
}
