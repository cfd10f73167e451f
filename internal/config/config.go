// Package config loads service configuration from the environment, with
// an optional YAML file overlay.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/AMOEBA/internal/errors"
)

// Config holds everything the service needs at startup.
type Config struct {
	Environment string `env:"ENV" envDefault:"development" yaml:"environment"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080" yaml:"port"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s" yaml:"read_timeout"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s" yaml:"write_timeout"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s" yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout"`
	} `yaml:"http"`
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info" yaml:"level"`
		Format string `env:"LOG_FORMAT" envDefault:"json" yaml:"format"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr" yaml:"output"`
	} `yaml:"logging"`
	Optimization struct {
		// Defaults applied to jobs that do not override them.
		MaxIterations int     `env:"OPT_MAX_ITERATIONS" envDefault:"1000" yaml:"max_iterations"`
		Reflection    float64 `env:"OPT_REFLECTION" envDefault:"1.0" yaml:"reflection"`
		Expansion     float64 `env:"OPT_EXPANSION" envDefault:"2.0" yaml:"expansion"`
		Contraction   float64 `env:"OPT_CONTRACTION" envDefault:"0.5" yaml:"contraction"`
		Tolerance     float64 `env:"OPT_TOLERANCE" envDefault:"1e-6" yaml:"tolerance"`
		Scale         float64 `env:"OPT_SCALE" envDefault:"1.0" yaml:"scale"`
	} `yaml:"optimization"`
}

// Load builds the configuration from environment variables. If CONFIG_FILE
// is set, the named YAML file is applied on top, so file values win over
// the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing environment")
	}

	if path, ok := os.LookupEnv("CONFIG_FILE"); ok && path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	// Development gets verbose logging unless told otherwise.
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// applyFile overlays the YAML file at path onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parsing config file %s", path)
	}
	return nil
}
