package halogate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the gateway's process configuration: which services resolve
// where, how long a request may run before the connection is closed, and
// the admin surface's health/metrics exposure.
type Config struct {
	ConfigVersion string `json:"config_version" yaml:"config_version" toml:"config_version" validate:"required,oneof=v1"`
	Name          string `json:"name" yaml:"name" toml:"name" validate:"required"`
	Debug         bool   `json:"debug" yaml:"debug" toml:"debug"`

	Listen  ListenConfig         `json:"listen" yaml:"listen" toml:"listen"`
	Admin   AdminConfig          `json:"admin" yaml:"admin" toml:"admin"`
	Breaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker" toml:"circuit_breaker"`
	Tracing TracingConfig        `json:"tracing" yaml:"tracing" toml:"tracing"`

	// Services maps a URL's first path segment to the upstream's absolute
	// base URL (§4.1's resolver table).
	Services map[string]string `json:"services" yaml:"services" toml:"services" validate:"required,min=1"`
}

// ListenConfig.RequestTimeout is given in config files as a plain
// nanosecond count (time.Duration's wire representation in JSON/YAML/TOML);
// the "15s"-style default tag is parsed separately by creasty/defaults,
// which special-cases time.Duration fields.
type ListenConfig struct {
	Addr           string        `json:"addr" yaml:"addr" toml:"addr" default:"0.0.0.0:8080" validate:"required"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout" default:"15s"`
}

type AdminConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled" default:"true"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr" default:"127.0.0.1:9090"`
	Metrics bool   `json:"metrics" yaml:"metrics" toml:"metrics" default:"true"`
}

// CircuitBreakerConfig is disabled (Enabled false) unless explicitly
// configured — the resolver table's services are trusted by default.
// IdleTTL bounds how long a breaker for an upstream with no recent traffic
// stays in the registry before eviction.
type CircuitBreakerConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	Threshold    int           `json:"threshold" yaml:"threshold" toml:"threshold" default:"5"`
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout" toml:"reset_timeout" default:"30s"`
	IdleTTL      time.Duration `json:"idle_ttl" yaml:"idle_ttl" toml:"idle_ttl" default:"10m"`
}

// TracingConfig controls the OTLP/HTTP trace exporter (internal/tracing).
// Disabled by default: a gateway with no collector configured should not
// block on a dial it will never complete.
type TracingConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint" default:"localhost:4318"`
}

// LoadConfig reads, unmarshals (by file extension), defaults, and
// validates a Config. Defaulting runs before validation so a field left at
// its zero value by the operator still satisfies a "required" tag if the
// default fills it in.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read configuration file: %w", err)
	}

	var cfg Config

	switch filepath.Ext(path) {
	case ".json":
		if err = json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("cannot parse configuration file: %w", err)
		}
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("cannot parse configuration file: %w", err)
		}
	case ".toml":
		if err = toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("cannot parse configuration file: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unknown configuration file extension: %s", filepath.Ext(path))
	}

	if err = defaults.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("cannot apply configuration defaults: %w", err)
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get(strings.TrimPrefix(filepath.Ext(path), "."))
		if name == "" || name == "-" {
			return strings.ToLower(fld.Name)
		}

		return strings.ToLower(strings.Split(name, ",")[0])
	})

	if err = v.Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", formatValidationError(err))
	}

	return cfg, nil
}

func formatValidationError(err error) error {
	var ves validator.ValidationErrors

	if ok := errors.As(err, &ves); !ok {
		return err
	}

	var messages []string

	for _, fe := range ves {
		path := strings.TrimPrefix(fe.Namespace(), "Config.")

		messages = append(messages, fmt.Sprintf(
			"%s: %s",
			path,
			humanMessage(fe),
		))
	}

	return errors.New(strings.Join(messages, "\n"))
}

func humanMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"

	case "min":
		return fmt.Sprintf("must have at least %s item(s)", fe.Param())

	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())

	default:
		return fmt.Sprintf("validation failed on '%s'", fe.Tag())
	}
}
