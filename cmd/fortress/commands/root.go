package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	storePath  string
	verbose    bool
	jsonOutput bool

	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fortress",
		Short: "Fortress - Fleet Hardening Orchestration Engine",
		Long: `Fortress walks freshly provisioned hosts through a lockout-safe hardening
sequence over SSH, concurrently across the fleet and strictly in order on
each host.

Phases:
  baseline             base system configuration over the default access path
  firewall             packet filter deployment
  ssh_migration        access path migration to the hardened credential
  intrusion_prevention brute-force protection
  verification         final state checks and evidence collection

A host whose hardened access path cannot be confirmed after migration is
halted and flagged for out-of-band intervention; the phase cursor never
moves backwards and nothing is retried implicitly.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fortress.yaml", "run configuration file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "fortress.db", "report store path (empty disables persistence)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newHardenCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newReportCommand())

	return rootCmd
}
