package config

import (
	"log/slog"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/telemetry"
)

// EnvPrefix prefixes every environment variable, e.g. TEMEASURE_CONFIG.
const EnvPrefix = "TEMEASURE"

// Env holds environment overrides. Command-line flags win over these; these
// win over the config file.
type Env struct {
	Config       string `envconfig:"CONFIG"`
	DB           string `envconfig:"DB"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT"`
	OTELInsecure bool   `envconfig:"OTEL_INSECURE"`
}

// LoadEnv reads TEMEASURE_* variables.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, fault.Wrap(fault.InvalidParameter, err, "read environment")
	}
	return env, nil
}

// Level parses LogLevel. Unknown names fall back to info.
func (e Env) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(e.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Telemetry returns the OTEL exporter configuration.
func (e Env) Telemetry() telemetry.Config {
	return telemetry.Config{
		Enabled:  e.OTELEnabled,
		Endpoint: e.OTELEndpoint,
		Insecure: e.OTELInsecure,
	}
}

// Apply overrides file settings with non-empty environment values.
func (e Env) Apply(f *File) {
	if e.DB != "" {
		f.Database = e.DB
	}
}
