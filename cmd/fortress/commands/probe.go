package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortress-sh/fortress/pkg/config"
	"github.com/fortress-sh/fortress/pkg/inventory"
	"github.com/fortress-sh/fortress/pkg/probe"
)

func newProbeCommand() *cobra.Command {
	var credentialName string

	cmd := &cobra.Command{
		Use:   "probe <host>",
		Short: "Check reachability of one host at a configured credential",
		Long: `Check whether one configured host answers at the initial or the
hardened credential. The usual first move when a run halted with
precondition_unreachable or migration_verification_failed.`,
		Example: `  # Is web1 still answering on the factory-default path?
  fortress probe web1

  # Did the hardened path ever come up?
  fortress probe web1 --credential hardened`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var host *inventory.Host
			for _, h := range cfg.InventoryHosts() {
				if h.Name == args[0] {
					host = &h
					break
				}
			}
			if host == nil {
				return fmt.Errorf("host %q is not in the configured fleet", args[0])
			}

			var cred inventory.Credential
			switch credentialName {
			case "initial":
				cred = cfg.Credentials.Initial.Credential()
			case "hardened":
				cred = cfg.Credentials.Hardened.Credential()
			default:
				return fmt.Errorf("unknown credential %q (want initial or hardened)", credentialName)
			}

			prober := probe.New(probe.SSHDial(cfg.Probe.ConnectTimeout.Std()))
			result, err := prober.Probe(cmd.Context(), host.Address, cred, cfg.Probe.Gate.Budget())
			if err != nil {
				return err
			}

			if !result.Reachable {
				return fmt.Errorf("%s unreachable at %s:%d after %d attempt(s): %s",
					host.Name, host.Address, cred.Port, result.Attempts, result.LastError)
			}
			fmt.Printf("%s reachable at %s:%d as %s (%d attempt(s), %s)\n",
				host.Name, host.Address, cred.Port, cred.Principal, result.Attempts, result.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&credentialName, "credential", "initial", "credential to probe with (initial or hardened)")

	return cmd
}
