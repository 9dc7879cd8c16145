// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the hardening engine.
package telemetry

import "time"

// Config groups the telemetry configuration.
type Config struct {
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is console or json.
	Format string `yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus registry and listener.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool `yaml:"enabled"`

	// ListenAddress serves /metrics when non-empty (e.g. ":9477").
	ListenAddress string `yaml:"listen_address"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled"`

	// Exporter is stdout or otlp.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC endpoint when Exporter is otlp.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure"`

	// ExportTimeout bounds span export.
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// DefaultConfig returns the telemetry defaults for an interactive run.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stderr"},
		Metrics: MetricsConfig{Namespace: "fortress"},
		Tracing: TracingConfig{Exporter: "stdout", ExportTimeout: 10 * time.Second},
	}
}
