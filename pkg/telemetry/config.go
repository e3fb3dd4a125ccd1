package telemetry

import "time"

// Config holds the configuration for all telemetry components.
type Config struct {
	// ServiceName identifies this service in logs, traces, and metrics.
	ServiceName string `yaml:"service_name" json:"service_name"`

	// ServiceVersion is the version reported with telemetry data.
	ServiceVersion string `yaml:"service_version" json:"service_version"`

	// Environment is the deployment environment (production, staging, dev).
	Environment string `yaml:"environment" json:"environment"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Tracing configures distributed tracing.
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" json:"level"`

	// Format is either "json" or "console".
	Format string `yaml:"format" json:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `yaml:"output" json:"output"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns tracing on or off.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Exporter selects the span exporter: "otlp", "stdout", or "none".
	Exporter string `yaml:"exporter" json:"exporter"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure" json:"insecure"`

	// Headers are added to every OTLP export request.
	Headers map[string]string `yaml:"headers" json:"headers"`

	// SamplingRate is the fraction of traces to sample (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`

	// MaxExportBatchSize limits the number of spans per export batch.
	MaxExportBatchSize int `yaml:"max_export_batch_size" json:"max_export_batch_size"`

	// ExportTimeout bounds a single export call.
	ExportTimeout time.Duration `yaml:"export_timeout" json:"export_timeout"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns the metrics endpoint on or off.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Address is the listen address for the metrics HTTP server.
	Address string `yaml:"address" json:"address"`

	// Path is the HTTP path serving metrics.
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns a telemetry configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "stackform",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9464",
			Path:    "/metrics",
		},
	}
}
