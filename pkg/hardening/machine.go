package hardening

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fortress-sh/fortress/pkg/inventory"
	"github.com/fortress-sh/fortress/pkg/probe"
	"github.com/fortress-sh/fortress/pkg/runner"
	"github.com/fortress-sh/fortress/pkg/telemetry"
)

// Prober is the reachability check the machine gates every phase with.
type Prober interface {
	Probe(ctx context.Context, address string, cred inventory.Credential, budget probe.Budget) (probe.Result, error)
}

// UnitRunner executes one configuration unit against one inventory.
type UnitRunner interface {
	Run(ctx context.Context, unit runner.ConfigurationUnit, inv inventory.Inventory, timeout time.Duration) (runner.ExecutionResult, error)
}

// Evidence is one piece of collected proof for the audit report.
type Evidence struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// EvidenceCollector gathers proof of the final state during verification.
type EvidenceCollector interface {
	Collect(ctx context.Context, host inventory.Host, cred inventory.Credential) ([]Evidence, error)
}

// PhaseResult is the recorded outcome of one phase on one host.
type PhaseResult struct {
	// Phase identifies the phase.
	Phase Phase `json:"phase"`

	// Units are the per-unit execution results in declared order. Empty when
	// the pre-probe failed, because no unit is ever invoked then.
	Units []runner.ExecutionResult `json:"units"`

	// Duration is the phase wall time including gate probes.
	Duration time.Duration `json:"duration"`
}

// HostRun is one host's complete, immutable run record.
type HostRun struct {
	// Host is the processed host.
	Host inventory.Host `json:"host"`

	// FinalPhase is where the cursor stopped; PhaseDone when hardened.
	FinalPhase Phase `json:"final_phase"`

	// Completed reports whether the cursor reached the terminal phase.
	Completed bool `json:"completed"`

	// Halt is set when the run stopped early.
	Halt *Halt `json:"halt,omitempty"`

	// Phases are the per-phase results in execution order.
	Phases []PhaseResult `json:"phases"`

	// FinalReachable is the result of the closing probe at the credential
	// the run ended on.
	FinalReachable bool `json:"final_reachable"`

	// Evidence is the proof collected during verification.
	Evidence []Evidence `json:"evidence,omitempty"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Options bounds the machine's per-call budgets.
type Options struct {
	// UnitTimeout bounds each configuration unit execution.
	UnitTimeout time.Duration

	// GateBudget is the probe budget for entering a phase.
	GateBudget probe.Budget

	// MigrationBudget is the probe budget for confirming the hardened path
	// after migration. Typically more generous than GateBudget because the
	// access daemon needs a moment to come back on the new port.
	MigrationBudget probe.Budget
}

// DefaultOptions returns budgets sized around typical sshd restart latency.
// All of them are run-config overridable.
func DefaultOptions() Options {
	return Options{
		UnitTimeout:     10 * time.Minute,
		GateBudget:      probe.Budget{Retries: 2, Delay: 3 * time.Second},
		MigrationBudget: probe.Budget{Retries: 10, Delay: 3 * time.Second},
	}
}

// Machine walks one host through the hardening sequence. It is stateless
// across hosts and safe for concurrent use by the fleet orchestrator.
type Machine struct {
	plan      *Plan
	prober    Prober
	runner    UnitRunner
	collector EvidenceCollector
	opts      Options
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
}

// NewMachine builds a machine for plan. collector may be nil, in which case
// verification skips evidence gathering. metrics and tracer may be nil.
func NewMachine(plan *Plan, prober Prober, unitRunner UnitRunner, collector EvidenceCollector, opts Options, metrics *telemetry.Metrics, tracer *telemetry.Tracer) (*Machine, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is required")
	}
	if prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	if unitRunner == nil {
		return nil, fmt.Errorf("unit runner is required")
	}
	if opts.UnitTimeout <= 0 {
		return nil, fmt.Errorf("unit timeout must be positive")
	}
	return &Machine{
		plan:      plan,
		prober:    prober,
		runner:    unitRunner,
		collector: collector,
		opts:      opts,
		metrics:   metrics,
		tracer:    tracer,
	}, nil
}

// Plan returns the plan the machine executes.
func (m *Machine) Plan() *Plan { return m.plan }

// HardenHost runs the full phase sequence against one host. It always
// returns a HostRun; failures are recorded on it, never raised, so one bad
// host can never abort the fleet.
func (m *Machine) HardenHost(ctx context.Context, host inventory.Host) *HostRun {
	run := &HostRun{
		Host:       host,
		FinalPhase: PhaseBaseline,
		StartedAt:  time.Now(),
	}
	hostLog := log.With().Str("host", host.Name).Str("address", host.Address).Logger()

	for _, phase := range Sequence {
		halt := m.runPhase(ctx, run, phase, hostLog)
		if halt != nil {
			run.Halt = halt
			run.CompletedAt = time.Now()
			m.metrics.RecordHalt(string(halt.Reason))
			hostLog.Error().
				Str("phase", phase.String()).
				Str("reason", string(halt.Reason)).
				Str("severity", halt.Reason.Severity()).
				Str("detail", halt.Detail).
				Msg("host halted")
			return run
		}
		// The cursor never rewinds; it advances only here, after the phase's
		// post-credential is known good.
		run.FinalPhase = phase.Next()
	}

	run.Completed = true
	m.finalCheck(ctx, run, hostLog)
	run.CompletedAt = time.Now()
	hostLog.Info().
		Bool("reachable", run.FinalReachable).
		Dur("duration", run.CompletedAt.Sub(run.StartedAt)).
		Msg("host fully hardened")
	return run
}

// runPhase executes one phase and returns a Halt when the host must stop.
func (m *Machine) runPhase(ctx context.Context, run *HostRun, phase Phase, hostLog zerolog.Logger) (halt *Halt) {
	started := time.Now()
	result := PhaseResult{Phase: phase}
	ctx, span := m.tracer.StartPhaseSpan(ctx, phase.String())
	defer func() {
		result.Duration = time.Since(started)
		run.Phases = append(run.Phases, result)
		m.metrics.ObservePhase(phase.String(), result.Duration)
		span.End(halt != nil)
	}()

	cpre := m.plan.CredentialBefore(phase)
	cpost := m.plan.CredentialAfter(phase)

	hostLog.Info().
		Str("phase", phase.String()).
		Int("port", cpre.Port).
		Int("units", len(m.plan.Units(phase))).
		Msg("entering phase")

	// Gate: the host must answer at the phase's pre-credential before any
	// unit runs. Running units against a dead host wastes the timeout budget
	// and turns a connectivity diagnosis into execution noise.
	gate, err := m.prober.Probe(ctx, run.Host.Address, cpre, m.opts.GateBudget)
	if err != nil {
		return m.haltForError(phase, err)
	}
	if !gate.Reachable {
		return &Halt{
			Reason: HaltPreconditionUnreachable,
			Phase:  phase,
			Detail: fmt.Sprintf("no session at port %d after %d attempts: %s", cpre.Port, gate.Attempts, gate.LastError),
		}
	}

	// A fresh inventory per phase: the credential can change between phases,
	// so connection descriptors are never reused.
	inv, err := inventory.Build(run.Host, cpre)
	if err != nil {
		return &Halt{Reason: HaltInvalidInput, Phase: phase, Detail: err.Error()}
	}

	for _, unit := range m.plan.Units(phase) {
		if err := ctx.Err(); err != nil {
			return &Halt{Reason: HaltCancelled, Phase: phase, Detail: err.Error()}
		}

		unitResult, err := m.runner.Run(ctx, unit, inv, m.opts.UnitTimeout)
		if err != nil {
			return m.haltForError(phase, err)
		}
		result.Units = append(result.Units, unitResult)
		m.metrics.RecordUnit(string(unitResult.Status))

		switch unitResult.Status {
		case runner.StatusUnitNotFound:
			// A missing required unit is a packaging defect, not a transient
			// condition. Fatal for this host.
			return &Halt{
				Reason: HaltUnitNotFound,
				Phase:  phase,
				Detail: fmt.Sprintf("required unit %q missing from all search roots", unit.Name),
				Result: &unitResult,
			}
		case runner.StatusExecutionFailed:
			return &Halt{
				Reason: HaltExecutionFailed,
				Phase:  phase,
				Detail: fmt.Sprintf("unit %q failed (%s, exit %d)", unit.Name, unitResult.Reason, unitResult.ExitCode),
				Result: &unitResult,
			}
		}
	}

	// Credential migration gate. Confirm the new path is live before the
	// cursor advances; old-path access is never torn down by this engine
	// before this probe succeeds, which is the core safety invariant.
	if cpost != cpre {
		confirm, err := m.prober.Probe(ctx, run.Host.Address, cpost, m.opts.MigrationBudget)
		if err != nil {
			return m.haltForError(phase, err)
		}
		if !confirm.Reachable {
			// The migration unit claimed success but the hardened path is
			// dead, and the old path may already be disabled. Out-of-band
			// intervention required.
			return &Halt{
				Reason: HaltMigrationVerificationFailed,
				Phase:  phase,
				Detail: fmt.Sprintf("hardened path port %d dead after %d attempts (%s); old path may be disabled, intervene out-of-band",
					cpost.Port, confirm.Attempts, confirm.LastError),
			}
		}
		hostLog.Info().
			Int("old_port", cpre.Port).
			Int("new_port", cpost.Port).
			Int("attempts", confirm.Attempts).
			Msg("hardened access path confirmed live")
	}

	if phase == PhaseVerification && m.collector != nil {
		evidence, err := m.collector.Collect(ctx, run.Host, cpost)
		if err != nil {
			// Evidence is audit material, not a gate; its absence is logged,
			// not fatal.
			hostLog.Warn().Err(err).Msg("evidence collection failed")
		} else {
			run.Evidence = append(run.Evidence, evidence...)
		}
	}

	return nil
}

// finalCheck re-probes the final access path for the report.
func (m *Machine) finalCheck(ctx context.Context, run *HostRun, hostLog zerolog.Logger) {
	final, err := m.prober.Probe(ctx, run.Host.Address, m.plan.Hardened(), m.opts.GateBudget)
	if err != nil {
		hostLog.Warn().Err(err).Msg("final reachability check aborted")
		return
	}
	run.FinalReachable = final.Reachable
}

// haltForError maps an infrastructure error (cancellation, programmer error)
// to a Halt.
func (m *Machine) haltForError(phase Phase, err error) *Halt {
	if ctxErr := contextError(err); ctxErr != nil {
		return &Halt{Reason: HaltCancelled, Phase: phase, Detail: ctxErr.Error()}
	}
	return &Halt{Reason: HaltInvalidInput, Phase: phase, Detail: err.Error()}
}

func contextError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
