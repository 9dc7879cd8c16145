// Package hardening implements the lockout-safe state machine that walks a
// host through the hardening sequence, and the fleet orchestrator that runs
// it across many hosts concurrently.
package hardening

import (
	"fmt"

	"github.com/fortress-sh/fortress/pkg/inventory"
	"github.com/fortress-sh/fortress/pkg/runner"
)

// Phase is one step in the fixed hardening sequence. Ordering is total and a
// host's phase cursor only ever moves forward.
type Phase int

const (
	// PhaseBaseline applies base system configuration (users, packages,
	// updates) over the factory-default access path.
	PhaseBaseline Phase = iota

	// PhaseFirewall installs the packet filter. It must not touch the SSH
	// port; that belongs to the migration phase.
	PhaseFirewall

	// PhaseSSHMigration moves the access path to the hardened credential.
	// The only phase whose post-credential differs from its pre-credential.
	PhaseSSHMigration

	// PhaseIntrusionPrevention deploys brute-force protection over the
	// hardened access path.
	PhaseIntrusionPrevention

	// PhaseVerification re-checks the final state and gathers evidence.
	PhaseVerification

	// PhaseDone is the terminal phase of a fully hardened host.
	PhaseDone
)

// Sequence is the ordered list of executable phases. PhaseDone is terminal
// and owns no units.
var Sequence = []Phase{
	PhaseBaseline,
	PhaseFirewall,
	PhaseSSHMigration,
	PhaseIntrusionPrevention,
	PhaseVerification,
}

// String returns the phase's wire/report name.
func (p Phase) String() string {
	switch p {
	case PhaseBaseline:
		return "baseline"
	case PhaseFirewall:
		return "firewall"
	case PhaseSSHMigration:
		return "ssh_migration"
	case PhaseIntrusionPrevention:
		return "intrusion_prevention"
	case PhaseVerification:
		return "verification"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParsePhase maps a report name back to a Phase.
func ParsePhase(s string) (Phase, error) {
	for p := PhaseBaseline; p <= PhaseDone; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Next returns the following phase. PhaseDone is its own successor.
func (p Phase) Next() Phase {
	if p >= PhaseDone {
		return PhaseDone
	}
	return p + 1
}

// Terminal reports whether the phase ends the sequence.
func (p Phase) Terminal() bool {
	return p == PhaseDone
}

// Plan binds the phase sequence to a profile's configuration units and the
// run's credential pair. It is immutable once built.
type Plan struct {
	profile  string
	initial  inventory.Credential
	hardened inventory.Credential
	units    map[Phase][]runner.ConfigurationUnit
}

// NewPlan builds a plan for profile. units maps each executable phase to its
// ordered configuration units; phases absent from the map own no units, which
// is legal (a verification-only phase, for instance). The credential pair
// must be valid, and hardened must actually differ from initial, otherwise
// the migration phase would be a no-op that still reports success.
func NewPlan(profile string, initial, hardened inventory.Credential, units map[Phase][]runner.ConfigurationUnit) (*Plan, error) {
	if profile == "" {
		return nil, fmt.Errorf("profile name is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial credential: %w", err)
	}
	if err := hardened.Validate(); err != nil {
		return nil, fmt.Errorf("hardened credential: %w", err)
	}
	if initial == hardened {
		return nil, fmt.Errorf("hardened credential must differ from initial credential")
	}
	for phase := range units {
		if phase.Terminal() {
			return nil, fmt.Errorf("phase %s cannot own units", phase)
		}
	}

	copied := make(map[Phase][]runner.ConfigurationUnit, len(units))
	for phase, list := range units {
		copied[phase] = append([]runner.ConfigurationUnit(nil), list...)
	}

	return &Plan{
		profile:  profile,
		initial:  initial,
		hardened: hardened,
		units:    copied,
	}, nil
}

// Profile returns the profile name the plan was built from.
func (p *Plan) Profile() string { return p.profile }

// Initial returns the factory-default credential.
func (p *Plan) Initial() inventory.Credential { return p.initial }

// Hardened returns the post-migration credential.
func (p *Plan) Hardened() inventory.Credential { return p.hardened }

// Units returns the ordered configuration units for phase.
func (p *Plan) Units(phase Phase) []runner.ConfigurationUnit {
	return p.units[phase]
}

// CredentialBefore returns the credential that must be valid to enter phase.
func (p *Plan) CredentialBefore(phase Phase) inventory.Credential {
	if phase > PhaseSSHMigration {
		return p.hardened
	}
	return p.initial
}

// CredentialAfter returns the credential that becomes valid once phase
// completes. Only PhaseSSHMigration changes it.
func (p *Plan) CredentialAfter(phase Phase) inventory.Credential {
	if phase >= PhaseSSHMigration {
		return p.hardened
	}
	return p.initial
}
