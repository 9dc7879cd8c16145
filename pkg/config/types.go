// Package config loads and validates the run configuration: the fleet, the
// security profile, the credential pair, and the engine budgets.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fortress-sh/fortress/pkg/hardening"
	"github.com/fortress-sh/fortress/pkg/inventory"
	"github.com/fortress-sh/fortress/pkg/probe"
	"github.com/fortress-sh/fortress/pkg/runner"
	"github.com/fortress-sh/fortress/pkg/telemetry"
)

// Duration wraps time.Duration with YAML string parsing ("30s", "10m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// HostConfig is one fleet member record.
type HostConfig struct {
	// Name is the fleet-unique identifier.
	Name string `yaml:"name" validate:"required"`

	// Address is the resolved network address supplied by the compute layer.
	Address string `yaml:"address" validate:"required"`

	// Labels are opaque operator tags.
	Labels map[string]string `yaml:"labels,omitempty"`
}

// CredentialConfig is one access path declaration.
type CredentialConfig struct {
	// Port is the SSH port.
	Port int `yaml:"port" validate:"required,min=1,max=65535"`

	// Principal is the login user.
	Principal string `yaml:"principal" validate:"required"`

	// IdentityFile is the private key path.
	IdentityFile string `yaml:"identity_file" validate:"required"`

	// Elevate requests remote privilege escalation.
	Elevate bool `yaml:"elevate"`
}

// Credential converts to the engine representation.
func (c CredentialConfig) Credential() inventory.Credential {
	return inventory.Credential{
		Port:         c.Port,
		Principal:    c.Principal,
		IdentityFile: c.IdentityFile,
		Elevate:      c.Elevate,
	}
}

// CredentialsConfig is the per-run credential pair.
type CredentialsConfig struct {
	// Initial is the factory-default access path.
	Initial CredentialConfig `yaml:"initial" validate:"required"`

	// Hardened is the post-migration access path.
	Hardened CredentialConfig `yaml:"hardened" validate:"required"`
}

// BudgetConfig is one probe retry budget.
type BudgetConfig struct {
	// Retries after the first attempt.
	Retries int `yaml:"retries" validate:"min=0"`

	// Delay between attempts.
	Delay Duration `yaml:"delay"`
}

// Budget converts to the probe representation.
func (b BudgetConfig) Budget() probe.Budget {
	return probe.Budget{Retries: b.Retries, Delay: b.Delay.Std()}
}

// ProbeConfig groups the probe budgets.
type ProbeConfig struct {
	// ConnectTimeout bounds each SSH dial.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// Gate is the budget for entering a phase.
	Gate BudgetConfig `yaml:"gate"`

	// Migration is the budget for confirming the hardened path. Tuned to
	// observed sshd restart latency, never hard-coded at call sites.
	Migration BudgetConfig `yaml:"migration"`
}

// RunConfig is the full run configuration document.
type RunConfig struct {
	// Profile names the security profile.
	Profile string `yaml:"profile" validate:"required"`

	// Hosts is the fleet. The list is the explicit, complete target set for
	// this run; there is no implicit default.
	Hosts []HostConfig `yaml:"hosts" validate:"required,min=1,dive"`

	// Credentials is the per-run access pair.
	Credentials CredentialsConfig `yaml:"credentials" validate:"required"`

	// Phases maps phase name to its ordered configuration units.
	Phases map[string][]runner.ConfigurationUnit `yaml:"phases" validate:"required"`

	// SearchRoots are unit search locations, most-specific first.
	SearchRoots []string `yaml:"search_roots" validate:"required,min=1"`

	// Engine overrides the execution engine binary.
	Engine string `yaml:"engine"`

	// Concurrency bounds the worker pool.
	Concurrency int `yaml:"concurrency" validate:"min=0"`

	// UnitTimeout bounds each unit execution.
	UnitTimeout Duration `yaml:"unit_timeout"`

	// Probe groups the reachability budgets.
	Probe ProbeConfig `yaml:"probe"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// InventoryHosts converts the fleet records to engine hosts.
func (c *RunConfig) InventoryHosts() []inventory.Host {
	hosts := make([]inventory.Host, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		hosts = append(hosts, inventory.Host{Name: h.Name, Address: h.Address, Labels: h.Labels})
	}
	return hosts
}

// Plan builds the hardening plan from the profile's phase map.
func (c *RunConfig) Plan() (*hardening.Plan, error) {
	units := make(map[hardening.Phase][]runner.ConfigurationUnit, len(c.Phases))
	for name, list := range c.Phases {
		phase, err := hardening.ParsePhase(name)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", c.Profile, err)
		}
		units[phase] = list
	}
	return hardening.NewPlan(
		c.Profile,
		c.Credentials.Initial.Credential(),
		c.Credentials.Hardened.Credential(),
		units,
	)
}

// MachineOptions builds the machine budgets, falling back to defaults for
// anything unset.
func (c *RunConfig) MachineOptions() hardening.Options {
	opts := hardening.DefaultOptions()
	if c.UnitTimeout > 0 {
		opts.UnitTimeout = c.UnitTimeout.Std()
	}
	if c.Probe.Gate.Retries > 0 || c.Probe.Gate.Delay > 0 {
		opts.GateBudget = c.Probe.Gate.Budget()
	}
	if c.Probe.Migration.Retries > 0 || c.Probe.Migration.Delay > 0 {
		opts.MigrationBudget = c.Probe.Migration.Budget()
	}
	return opts
}
