package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix marks environment variables read into the configuration.
// A double underscore separates nesting levels:
// BQ_INGEST_SINK__HEC__TOKEN sets sink.hec.token.
const EnvPrefix = "BQ_INGEST_"

// flagKeys maps command line flags onto configuration keys. Flags not
// listed here are not configuration.
var flagKeys = map[string]string{
	"log-level":          "log_level",
	"name":               "input.name",
	"query":              "input.query",
	"time-field":         "input.time_field",
	"checkpoint-field":   "input.checkpoint_field",
	"checkpoint-start":   "input.checkpoint_start",
	"blacklist":          "input.blacklist",
	"format":             "input.format",
	"checkpoint-order":   "input.checkpoint_order",
	"checkpoint-binding": "input.checkpoint_binding",
	"driver":             "warehouse.driver",
	"dsn":                "warehouse.dsn",
	"project-id":         "warehouse.project_id",
	"location":           "warehouse.location",
	"credentials-file":   "warehouse.credentials_file",
	"store":              "checkpoint.store",
	"checkpoint-dir":     "checkpoint.dir",
	"sink":               "sink.type",
}

// FlagKey returns the configuration key bound to a flag, or "".
func FlagKey(flag string) string {
	return flagKeys[flag]
}

// Load builds the configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key := flagKeys[f.Name]
			if !f.Changed || key == "" {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Input.Blacklist = trimList(cfg.Input.Blacklist)
	cfg.Sink.Kafka.Brokers = trimList(cfg.Sink.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey transforms BQ_INGEST_CHECKPOINT__REDIS__ADDR into
// checkpoint.redis.addr.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func trimList(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// CredentialsJSON returns the service account document, reading
// CredentialsFile when no inline credentials are set.
func (w WarehouseConfig) CredentialsJSON() ([]byte, error) {
	if w.Credentials != "" {
		return []byte(w.Credentials), nil
	}
	if w.CredentialsFile == "" {
		return nil, nil
	}
	b, err := os.ReadFile(w.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", w.CredentialsFile, err)
	}
	return b, nil
}
