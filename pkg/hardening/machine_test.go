package hardening

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortress-sh/fortress/pkg/inventory"
	"github.com/fortress-sh/fortress/pkg/probe"
	"github.com/fortress-sh/fortress/pkg/runner"
)

var (
	testInitial  = inventory.Credential{Port: 22, Principal: "root"}
	testHardened = inventory.Credential{Port: 6677, Principal: "admin"}
)

func testPlan(t *testing.T) *Plan {
	t.Helper()
	plan, err := NewPlan("default", testInitial, testHardened, map[Phase][]runner.ConfigurationUnit{
		PhaseBaseline:            {{Name: "baseline"}},
		PhaseFirewall:            {{Name: "firewall"}},
		PhaseSSHMigration:        {{Name: "sshd"}},
		PhaseIntrusionPrevention: {{Name: "fail2ban"}},
		PhaseVerification:        {{Name: "verify"}},
	})
	require.NoError(t, err)
	return plan
}

type probeCall struct {
	port   int
	budget probe.Budget
}

// fakeProber answers per port and records every call.
type fakeProber struct {
	mu    sync.Mutex
	calls []probeCall

	// deadPorts lists ports that never answer.
	deadPorts map[int]bool
	err       error
}

func (p *fakeProber) Probe(_ context.Context, _ string, cred inventory.Credential, budget probe.Budget) (probe.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, probeCall{port: cred.Port, budget: budget})
	p.mu.Unlock()
	if p.err != nil {
		return probe.Result{}, p.err
	}
	if p.deadPorts[cred.Port] {
		return probe.Result{Reachable: false, Attempts: budget.Retries + 1, LastError: "connection refused"}, nil
	}
	return probe.Result{Reachable: true, Attempts: 1}, nil
}

type unitCall struct {
	unit string
	port int
}

// fakeRunner succeeds by default; outcomes and hooks are scripted per unit.
type fakeRunner struct {
	mu    sync.Mutex
	calls []unitCall

	results map[string]runner.ExecutionResult
	after   map[string]func()
}

func (r *fakeRunner) Run(_ context.Context, unit runner.ConfigurationUnit, inv inventory.Inventory, _ time.Duration) (runner.ExecutionResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, unitCall{unit: unit.Name, port: inv.Port()})
	r.mu.Unlock()

	if hook, ok := r.after[unit.Name]; ok {
		hook()
	}
	if result, ok := r.results[unit.Name]; ok {
		result.Unit = unit.Name
		return result, nil
	}
	return runner.ExecutionResult{Unit: unit.Name, Status: runner.StatusSuccess}, nil
}

func (r *fakeRunner) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.calls))
	for i, c := range r.calls {
		names[i] = c.unit
	}
	return names
}

type fakeCollector struct {
	evidence []Evidence
	err      error
	called   bool
}

func (c *fakeCollector) Collect(context.Context, inventory.Host, inventory.Credential) ([]Evidence, error) {
	c.called = true
	return c.evidence, c.err
}

func newTestMachine(t *testing.T, prober Prober, unitRunner UnitRunner, collector EvidenceCollector) *Machine {
	t.Helper()
	opts := DefaultOptions()
	opts.GateBudget = probe.Budget{Retries: 1, Delay: time.Millisecond}
	opts.MigrationBudget = probe.Budget{Retries: 3, Delay: time.Millisecond}
	m, err := NewMachine(testPlan(t), prober, unitRunner, collector, opts, nil, nil)
	require.NoError(t, err)
	return m
}

func testHost() inventory.Host {
	return inventory.Host{Name: "web1", Address: "203.0.113.10"}
}

func TestHardenHostFullSuccess(t *testing.T) {
	prober := &fakeProber{}
	unitRunner := &fakeRunner{}
	collector := &fakeCollector{evidence: []Evidence{{Name: "sshd_config", Content: "Port 6677"}}}
	m := newTestMachine(t, prober, unitRunner, collector)

	run := m.HardenHost(context.Background(), testHost())

	assert.True(t, run.Completed)
	assert.Equal(t, PhaseDone, run.FinalPhase)
	assert.Nil(t, run.Halt)
	assert.True(t, run.FinalReachable)
	require.Len(t, run.Phases, len(Sequence))

	// Declared order within the host, old credential up to and including
	// migration, hardened afterwards.
	require.Equal(t, []unitCall{
		{"baseline", 22},
		{"firewall", 22},
		{"sshd", 22},
		{"fail2ban", 6677},
		{"verify", 6677},
	}, unitRunner.calls)

	assert.True(t, collector.called)
	require.Len(t, run.Evidence, 1)
	assert.Equal(t, "sshd_config", run.Evidence[0].Name)
}

func TestHardenHostRepeatRunSucceeds(t *testing.T) {
	// Units are idempotent, so re-running the full sequence against an
	// already hardened host must succeed end to end again.
	prober := &fakeProber{}
	unitRunner := &fakeRunner{}
	m := newTestMachine(t, prober, unitRunner, nil)

	first := m.HardenHost(context.Background(), testHost())
	second := m.HardenHost(context.Background(), testHost())

	assert.True(t, first.Completed)
	assert.True(t, second.Completed)
	assert.Len(t, unitRunner.calls, 2*len(Sequence))
}

func TestHardenHostMigrationGateUsesMigrationBudget(t *testing.T) {
	prober := &fakeProber{}
	m := newTestMachine(t, prober, &fakeRunner{}, nil)

	m.HardenHost(context.Background(), testHost())

	var migrationGates int
	for _, call := range prober.calls {
		if call.port == 6677 && call.budget.Retries == 3 {
			migrationGates++
		}
	}
	assert.Equal(t, 1, migrationGates)
}

func TestHardenHostUnreachableRunsNoUnits(t *testing.T) {
	prober := &fakeProber{deadPorts: map[int]bool{22: true}}
	unitRunner := &fakeRunner{}
	m := newTestMachine(t, prober, unitRunner, nil)

	run := m.HardenHost(context.Background(), testHost())

	assert.False(t, run.Completed)
	assert.Equal(t, PhaseBaseline, run.FinalPhase)
	require.NotNil(t, run.Halt)
	assert.Equal(t, HaltPreconditionUnreachable, run.Halt.Reason)
	assert.Equal(t, PhaseBaseline, run.Halt.Phase)

	// The gate failed, so not a single unit may have been invoked.
	assert.Empty(t, unitRunner.calls)
	require.Len(t, run.Phases, 1)
	assert.Empty(t, run.Phases[0].Units)
}

func TestHardenHostUnitFailureFreezesCursor(t *testing.T) {
	prober := &fakeProber{}
	unitRunner := &fakeRunner{results: map[string]runner.ExecutionResult{
		"firewall": {Status: runner.StatusExecutionFailed, Reason: runner.ReasonNonZeroExit, ExitCode: 1, Stderr: "iptables: permission denied"},
	}}
	m := newTestMachine(t, prober, unitRunner, nil)

	run := m.HardenHost(context.Background(), testHost())

	assert.False(t, run.Completed)
	assert.Equal(t, PhaseFirewall, run.FinalPhase)
	require.NotNil(t, run.Halt)
	assert.Equal(t, HaltExecutionFailed, run.Halt.Reason)
	assert.Equal(t, PhaseFirewall, run.Halt.Phase)
	require.NotNil(t, run.Halt.Result)
	assert.Equal(t, 1, run.Halt.Result.ExitCode)
	assert.Contains(t, run.Halt.Result.Stderr, "iptables")

	// Migration must never have been attempted.
	assert.Equal(t, []string{"baseline", "firewall"}, unitRunner.executed())
}

func TestHardenHostUnitNotFoundIsFatal(t *testing.T) {
	prober := &fakeProber{}
	unitRunner := &fakeRunner{results: map[string]runner.ExecutionResult{
		"fail2ban": {Status: runner.StatusUnitNotFound},
	}}
	m := newTestMachine(t, prober, unitRunner, nil)

	run := m.HardenHost(context.Background(), testHost())

	require.NotNil(t, run.Halt)
	assert.Equal(t, HaltUnitNotFound, run.Halt.Reason)
	assert.Equal(t, PhaseIntrusionPrevention, run.Halt.Phase)
	assert.Contains(t, run.Halt.Detail, "fail2ban")
	assert.NotContains(t, unitRunner.executed(), "verify")
}

func TestHardenHostMigrationVerificationFailure(t *testing.T) {
	prober := &fakeProber{deadPorts: map[int]bool{6677: true}}
	unitRunner := &fakeRunner{}
	m := newTestMachine(t, prober, unitRunner, nil)

	run := m.HardenHost(context.Background(), testHost())

	assert.False(t, run.Completed)
	require.NotNil(t, run.Halt)
	assert.Equal(t, HaltMigrationVerificationFailed, run.Halt.Reason)
	assert.Equal(t, PhaseSSHMigration, run.Halt.Phase)
	assert.Contains(t, run.Halt.Detail, "6677")
	assert.Equal(t, "critical", run.Halt.Reason.Severity())

	// The cursor froze at the migration phase even though its unit reported
	// success, and nothing ran on the hardened path.
	assert.Equal(t, PhaseSSHMigration, run.FinalPhase)
	assert.Equal(t, []string{"baseline", "firewall", "sshd"}, unitRunner.executed())
}

func TestHardenHostCancellationObservedBetweenUnits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	prober := &fakeProber{}
	unitRunner := &fakeRunner{after: map[string]func(){"baseline": cancel}}
	m := newTestMachine(t, prober, unitRunner, nil)

	run := m.HardenHost(ctx, testHost())

	require.NotNil(t, run.Halt)
	assert.Equal(t, HaltCancelled, run.Halt.Reason)

	// The in-flight unit ran to completion; no later unit was started.
	assert.Equal(t, []string{"baseline"}, unitRunner.executed())
	require.NotEmpty(t, run.Phases)
	require.Len(t, run.Phases[0].Units, 1)
	assert.Equal(t, runner.StatusSuccess, run.Phases[0].Units[0].Status)
}

func TestHardenHostProberCancellation(t *testing.T) {
	prober := &fakeProber{err: fmt.Errorf("dialing: %w", context.Canceled)}
	m := newTestMachine(t, prober, &fakeRunner{}, nil)

	run := m.HardenHost(context.Background(), testHost())

	require.NotNil(t, run.Halt)
	assert.Equal(t, HaltCancelled, run.Halt.Reason)
}

func TestHardenHostEvidenceFailureIsNotFatal(t *testing.T) {
	collector := &fakeCollector{err: fmt.Errorf("sftp subsystem unavailable")}
	m := newTestMachine(t, &fakeProber{}, &fakeRunner{}, collector)

	run := m.HardenHost(context.Background(), testHost())

	assert.True(t, run.Completed)
	assert.Nil(t, run.Halt)
	assert.Empty(t, run.Evidence)
}

func TestNewMachineValidation(t *testing.T) {
	plan := testPlan(t)
	opts := DefaultOptions()

	_, err := NewMachine(nil, &fakeProber{}, &fakeRunner{}, nil, opts, nil, nil)
	assert.Error(t, err)

	_, err = NewMachine(plan, nil, &fakeRunner{}, nil, opts, nil, nil)
	assert.Error(t, err)

	_, err = NewMachine(plan, &fakeProber{}, nil, nil, opts, nil, nil)
	assert.Error(t, err)

	opts.UnitTimeout = 0
	_, err = NewMachine(plan, &fakeProber{}, &fakeRunner{}, nil, opts, nil, nil)
	assert.Error(t, err)
}
