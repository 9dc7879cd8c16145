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

func testFleet(n int) []inventory.Host {
	hosts := make([]inventory.Host, n)
	for i := range hosts {
		hosts[i] = inventory.Host{
			Name:    fmt.Sprintf("node%02d", i),
			Address: fmt.Sprintf("203.0.113.%d", 10+i),
		}
	}
	return hosts
}

func TestOrchestratorRunAggregates(t *testing.T) {
	unitRunner := &fakeRunner{}
	m := newTestMachine(t, &fakeProber{}, unitRunner, nil)
	o, err := NewOrchestrator(m, 3, nil, nil)
	require.NoError(t, err)

	hosts := testFleet(5)
	report := o.Run(context.Background(), hosts)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "default", report.Profile)
	assert.Equal(t, 5, report.Summary.Total)
	assert.Equal(t, 5, report.Summary.Hardened)
	assert.Zero(t, report.Summary.Halted)
	for _, host := range hosts {
		require.Contains(t, report.Hosts, host.Name)
		assert.True(t, report.Hosts[host.Name].Completed)
	}
}

func TestOrchestratorMixedOutcomes(t *testing.T) {
	// node00 never answers at the factory-default port.
	prober := &deadHostProber{dead: "203.0.113.10"}
	m := newTestMachine(t, prober, &fakeRunner{}, nil)
	o, err := NewOrchestrator(m, 2, nil, nil)
	require.NoError(t, err)

	report := o.Run(context.Background(), testFleet(4))

	assert.Equal(t, 4, report.Summary.Total)
	assert.Equal(t, 3, report.Summary.Hardened)
	assert.Equal(t, 1, report.Summary.Halted)
	assert.Equal(t, 1, report.Summary.ByReason[HaltPreconditionUnreachable])

	flagged := report.HostsByHaltReason(HaltPreconditionUnreachable)
	require.Len(t, flagged, 1)
	assert.Equal(t, "node00", flagged[0].Host.Name)
}

func TestOrchestratorBoundedConcurrency(t *testing.T) {
	unitRunner := &countingRunner{}
	m := newTestMachine(t, &fakeProber{}, unitRunner, nil)
	o, err := NewOrchestrator(m, 2, nil, nil)
	require.NoError(t, err)

	o.Run(context.Background(), testFleet(8))

	assert.LessOrEqual(t, unitRunner.max(), 2)
}

func TestOrchestratorSequentialWithinHost(t *testing.T) {
	unitRunner := &fakeRunner{}
	m := newTestMachine(t, &fakeProber{}, unitRunner, nil)
	o, err := NewOrchestrator(m, 4, nil, nil)
	require.NoError(t, err)

	report := o.Run(context.Background(), testFleet(6))

	// Per-host unit order is recorded on the run itself; concurrency across
	// hosts must never reorder units within one host.
	want := []string{"baseline", "firewall", "sshd", "fail2ban", "verify"}
	for _, run := range report.SortedHosts() {
		var got []string
		for _, phase := range run.Phases {
			for _, unit := range phase.Units {
				got = append(got, unit.Unit)
			}
		}
		assert.Equal(t, want, got, "host %s", run.Host.Name)
	}
}

func TestOrchestratorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newTestMachine(t, &fakeProber{}, &fakeRunner{}, nil)
	o, err := NewOrchestrator(m, 2, nil, nil)
	require.NoError(t, err)

	report := o.Run(ctx, testFleet(3))

	// Every host still gets a report entry; none completed.
	assert.Equal(t, 3, report.Summary.Total)
	assert.Zero(t, report.Summary.Hardened)
	assert.Equal(t, 3, report.Summary.ByReason[HaltCancelled])
}

func TestNewOrchestratorDefaults(t *testing.T) {
	m := newTestMachine(t, &fakeProber{}, &fakeRunner{}, nil)

	o, err := NewOrchestrator(m, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, o.concurrency)

	_, err = NewOrchestrator(nil, 1, nil, nil)
	assert.Error(t, err)
}

// deadHostProber marks one address unreachable at any credential.
type deadHostProber struct {
	dead string
}

func (p *deadHostProber) Probe(_ context.Context, address string, _ inventory.Credential, budget probe.Budget) (probe.Result, error) {
	if address == p.dead {
		return probe.Result{Reachable: false, Attempts: budget.Retries + 1, LastError: "connection refused"}, nil
	}
	return probe.Result{Reachable: true, Attempts: 1}, nil
}

// countingRunner tracks how many unit executions overlap in time.
type countingRunner struct {
	mu     sync.Mutex
	active int
	peak   int
}

func (r *countingRunner) Run(_ context.Context, unit runner.ConfigurationUnit, _ inventory.Inventory, _ time.Duration) (runner.ExecutionResult, error) {
	r.mu.Lock()
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return runner.ExecutionResult{Unit: unit.Name, Status: runner.StatusSuccess}, nil
}

func (r *countingRunner) max() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}
