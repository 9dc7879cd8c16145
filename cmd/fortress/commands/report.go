package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortress-sh/fortress/pkg/stores"
)

func newReportCommand() *cobra.Command {
	var (
		runID      string
		haltReason string
		hostName   string
		listRuns   int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Query persisted hardening reports",
		Long: `Query the report store from earlier hardening runs.

Without flags this shows the latest run. Operator triage flows from here:
list the runs, drill into one, filter the hosts that halted with a given
reason, then pull the unit-level record for a single host.`,
		Example: `  # Latest run at a glance
  fortress report

  # Every host that needs out-of-band intervention
  fortress report --halt-reason migration_verification_failed

  # Unit-level record for one host
  fortress report --host web1

  # Recent runs
  fortress report --runs 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if storePath == "" {
				return fmt.Errorf("no report store configured")
			}
			store, err := stores.NewSQLiteStore(storePath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()

			if listRuns > 0 {
				return printRuns(ctx, store, listRuns)
			}

			if runID == "" {
				latest, err := store.LatestRun(ctx)
				if err != nil {
					return err
				}
				runID = latest.ID
			}

			switch {
			case hostName != "":
				return printHostUnits(ctx, store, runID, hostName)
			case haltReason != "":
				return printHaltedHosts(ctx, store, runID, haltReason)
			default:
				return printRun(ctx, store, runID)
			}
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID (default: latest)")
	cmd.Flags().StringVar(&haltReason, "halt-reason", "", "only hosts halted with this reason")
	cmd.Flags().StringVar(&hostName, "host", "", "unit-level record for one host")
	cmd.Flags().IntVar(&listRuns, "runs", 0, "list the most recent N runs")

	return cmd
}

func printRuns(ctx context.Context, store stores.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(runs)
	}
	for _, run := range runs {
		fmt.Printf("%s  %s  profile=%s  hardened=%d/%d\n",
			run.StartedAt.Format(time.RFC3339), run.ID, run.Profile, run.Hardened, run.Total)
	}
	return nil
}

func printRun(ctx context.Context, store stores.Store, runID string) error {
	hosts, err := store.HostsForRun(ctx, runID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(hosts)
	}
	fmt.Printf("Run %s: %d host(s)\n", runID, len(hosts))
	for _, host := range hosts {
		if host.Completed {
			fmt.Printf("  %-20s hardened (reachable=%v)\n", host.Name, host.Reachable)
			continue
		}
		fmt.Printf("  %-20s HALTED in %s: %s %s\n", host.Name, host.FinalPhase, host.HaltReason, host.HaltDetail)
	}
	return nil
}

func printHaltedHosts(ctx context.Context, store stores.Store, runID, reason string) error {
	hosts, err := store.HostsByHaltReason(ctx, runID, reason)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(hosts)
	}
	for _, host := range hosts {
		fmt.Printf("%-20s %s  phase=%s  %s\n", host.Name, host.Address, host.FinalPhase, host.HaltDetail)
	}
	if len(hosts) == 0 {
		fmt.Printf("no hosts halted with %s in run %s\n", reason, runID)
	}
	return nil
}

func printHostUnits(ctx context.Context, store stores.Store, runID, host string) error {
	units, err := store.UnitsForHost(ctx, runID, host)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(units)
	}
	for _, unit := range units {
		line := fmt.Sprintf("%2d  %-20s %-20s %s", unit.Seq, unit.Phase, unit.Unit, unit.Status)
		if unit.Status != "success" {
			line += fmt.Sprintf(" (%s, exit %d)", unit.Reason, unit.ExitCode)
		}
		fmt.Println(line)
	}
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
