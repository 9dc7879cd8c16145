package hardening

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fortress-sh/fortress/pkg/inventory"
	"github.com/fortress-sh/fortress/pkg/telemetry"
)

// DefaultConcurrency bounds the worker pool when the run config does not.
const DefaultConcurrency = 4

// Orchestrator runs the machine across a fleet with bounded parallelism.
// Hosts share no mutable state; the report is assembled by a single
// aggregator receiving completed host runs over a channel, so no lock guards
// the fleet report.
type Orchestrator struct {
	machine     *Machine
	concurrency int
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
}

// NewOrchestrator creates an orchestrator over machine. concurrency <= 0
// falls back to DefaultConcurrency.
func NewOrchestrator(machine *Machine, concurrency int, metrics *telemetry.Metrics, tracer *telemetry.Tracer) (*Orchestrator, error) {
	if machine == nil {
		return nil, fmt.Errorf("machine is required")
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		machine:     machine,
		concurrency: concurrency,
		metrics:     metrics,
		tracer:      tracer,
	}, nil
}

// Run hardens every host and returns the aggregated fleet report. A
// cancelled ctx stops remaining work between units; hosts already finished
// keep their results. Run itself never fails: per-host failures live in the
// report.
func (o *Orchestrator) Run(ctx context.Context, hosts []inventory.Host) *FleetReport {
	runID := uuid.New().String()
	startedAt := time.Now()

	workers := o.concurrency
	if len(hosts) < workers {
		workers = len(hosts)
	}

	log.Info().
		Str("run_id", runID).
		Str("profile", o.machine.Plan().Profile()).
		Int("hosts", len(hosts)).
		Int("workers", workers).
		Msg("starting hardening run")

	work := make(chan inventory.Host, len(hosts))
	for _, host := range hosts {
		work <- host
	}
	close(work)

	results := make(chan *HostRun, len(hosts))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range work {
				o.metrics.HostStarted()
				hostCtx, span := o.tracer.StartHostSpan(ctx, runID, host.Name)
				run := o.machine.HardenHost(hostCtx, host)
				span.End(run.Completed)
				o.metrics.HostFinished(run.Completed)
				results <- run
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single aggregator: the only reader of results, the only writer of the
	// report.
	var runs []*HostRun
	for run := range results {
		runs = append(runs, run)
	}

	report := Aggregate(runID, o.machine.Plan().Profile(), startedAt, runs)

	log.Info().
		Str("run_id", runID).
		Int("hardened", report.Summary.Hardened).
		Int("halted", report.Summary.Halted).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("hardening run finished")

	return report
}
