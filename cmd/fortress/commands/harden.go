package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fortress-sh/fortress/pkg/config"
	"github.com/fortress-sh/fortress/pkg/hardening"
	"github.com/fortress-sh/fortress/pkg/probe"
	"github.com/fortress-sh/fortress/pkg/runner"
	"github.com/fortress-sh/fortress/pkg/stores"
	"github.com/fortress-sh/fortress/pkg/telemetry"
	"github.com/fortress-sh/fortress/pkg/units"
)

func newHardenCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "harden",
		Short: "Run the hardening sequence across the configured fleet",
		Long: `Run every configured host through the hardening phase sequence.

Hosts are processed concurrently up to the configured worker bound; units
on one host always run strictly in declared order. The command exits
non-zero when any host halted, and the full report is persisted to the
report store for later queries.`,
		Example: `  # Harden the fleet described in fortress.yaml
  fortress harden

  # Alternative config and report store
  fortress harden -c prod.yaml --store prod.db

  # Check connectivity for every host without executing units
  fortress harden --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			installLogger(cfg)

			ctx := cmd.Context()

			if dryRun {
				return probeFleet(ctx, cfg)
			}
			return hardenFleet(ctx, cfg)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "probe every host at the initial credential and stop")

	return cmd
}

func hardenFleet(ctx context.Context, cfg *config.RunConfig) error {
	metrics := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	go metrics.Serve(ctx)

	tracer, err := telemetry.NewTracer(ctx, cfg.Telemetry.Tracing, buildVersion)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("trace export incomplete")
		}
	}()

	plan, err := cfg.Plan()
	if err != nil {
		return err
	}

	prober := probe.New(probe.SSHDial(cfg.Probe.ConnectTimeout.Std()))
	locator := units.NewLocator(cfg.SearchRoots...)

	var runnerOpts []runner.Option
	if cfg.Engine != "" {
		runnerOpts = append(runnerOpts, runner.WithEngine(cfg.Engine))
	}
	unitRunner := runner.New(locator, runnerOpts...)

	collector := &hardening.SSHEvidenceCollector{ConnectTimeout: cfg.Probe.ConnectTimeout.Std()}

	machine, err := hardening.NewMachine(plan, prober, unitRunner, collector, cfg.MachineOptions(), metrics, tracer)
	if err != nil {
		return err
	}
	orchestrator, err := hardening.NewOrchestrator(machine, cfg.Concurrency, metrics, tracer)
	if err != nil {
		return err
	}

	report := orchestrator.Run(ctx, cfg.InventoryHosts())

	if err := persistReport(ctx, report); err != nil {
		log.Error().Err(err).Msg("report persistence failed")
	}
	if err := printFleetReport(report); err != nil {
		return err
	}

	if !report.FullyHardened() {
		return fmt.Errorf("%d of %d hosts halted (run %s)",
			report.Summary.Halted, report.Summary.Total, report.RunID)
	}
	return nil
}

// probeFleet checks initial-credential reachability for every host without
// executing a single unit.
func probeFleet(ctx context.Context, cfg *config.RunConfig) error {
	prober := probe.New(probe.SSHDial(cfg.Probe.ConnectTimeout.Std()))
	initial := cfg.Credentials.Initial.Credential()
	budget := cfg.Probe.Gate.Budget()

	unreachable := 0
	for _, host := range cfg.InventoryHosts() {
		result, err := prober.Probe(ctx, host.Address, initial, budget)
		if err != nil {
			return err
		}
		if result.Reachable {
			fmt.Printf("%-20s reachable (%d attempt(s), %s)\n", host.Name, result.Attempts, result.Elapsed.Round(time.Millisecond))
		} else {
			unreachable++
			fmt.Printf("%-20s UNREACHABLE after %d attempt(s): %s\n", host.Name, result.Attempts, result.LastError)
		}
	}

	if unreachable > 0 {
		return fmt.Errorf("%d host(s) unreachable at the initial credential", unreachable)
	}
	return nil
}

func persistReport(ctx context.Context, report *hardening.FleetReport) error {
	if storePath == "" {
		return nil
	}
	store, err := stores.NewSQLiteStore(storePath)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	return store.SaveReport(ctx, report)
}

func printFleetReport(report *hardening.FleetReport) error {
	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Printf("Run %s (profile %s): %d hardened, %d halted of %d\n",
		report.RunID, report.Profile, report.Summary.Hardened, report.Summary.Halted, report.Summary.Total)
	for _, run := range report.SortedHosts() {
		if run.Completed {
			fmt.Printf("  %-20s hardened (reachable=%v, %s)\n",
				run.Host.Name, run.FinalReachable, run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
			continue
		}
		fmt.Printf("  %-20s HALTED in %s: %s [%s] %s\n",
			run.Host.Name, run.Halt.Phase, run.Halt.Reason, run.Halt.Reason.Severity(), run.Halt.Detail)
	}
	return nil
}

// installLogger replaces the bootstrap logger with the configured one; the
// verbose flag wins over the configured level.
func installLogger(cfg *config.RunConfig) {
	logging := cfg.Telemetry.Logging
	if verbose {
		logging.Level = "debug"
	}
	logger, err := telemetry.NewLogger(logging)
	if err != nil {
		log.Warn().Err(err).Msg("keeping bootstrap logger")
		return
	}
	log.Logger = logger
	zerolog.SetGlobalLevel(logger.GetLevel())
}
