package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, parses, and validates a run configuration file. Unknown YAML
// keys are rejected so a typo cannot silently drop a setting.
func Load(path string) (*RunConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	var cfg RunConfig
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	log.Debug().
		Str("profile", cfg.Profile).
		Int("hosts", len(cfg.Hosts)).
		Int("phases", len(cfg.Phases)).
		Msg("run configuration loaded")
	return &cfg, nil
}

// Validate checks structural constraints plus the cross-field rules the
// struct tags cannot express.
func Validate(cfg *RunConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	// Phase names must parse; building the plan checks them all plus the
	// credential-pair invariants.
	if _, err := cfg.Plan(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		if _, dup := seen[h.Name]; dup {
			return fmt.Errorf("duplicate host name %q", h.Name)
		}
		seen[h.Name] = struct{}{}
	}

	return nil
}
