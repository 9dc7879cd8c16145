package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fortress-sh/fortress/pkg/config"
	"github.com/fortress-sh/fortress/pkg/units"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the run configuration without touching the fleet",
		Long: `Validate the run configuration.

Beyond structural checks, this resolves every configuration unit against
the search roots and stats both identity files, so a missing unit or key
is caught before any host is contacted.`,
		Example: `  # Validate the default config
  fortress validate

  # Validate a specific config
  fortress validate -c prod.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			locator := units.NewLocator(cfg.SearchRoots...)
			var problems []string
			for phase, list := range cfg.Phases {
				for _, unit := range list {
					if _, err := locator.Locate(unit.Name); err != nil {
						var notFound *units.NotFoundError
						if errors.As(err, &notFound) {
							problems = append(problems, fmt.Sprintf("phase %s: unit %q not found in any search root", phase, unit.Name))
							continue
						}
						return err
					}
				}
			}

			for name, path := range map[string]string{
				"initial":  cfg.Credentials.Initial.IdentityFile,
				"hardened": cfg.Credentials.Hardened.IdentityFile,
			} {
				if _, err := os.Stat(path); err != nil {
					problems = append(problems, fmt.Sprintf("%s identity file %s: %v", name, path, err))
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintln(os.Stderr, "error:", p)
				}
				return fmt.Errorf("configuration has %d problem(s)", len(problems))
			}

			log.Info().
				Str("profile", cfg.Profile).
				Int("hosts", len(cfg.Hosts)).
				Msg("configuration valid")
			fmt.Printf("%s: ok (%d hosts, %d phases)\n", configPath, len(cfg.Hosts), len(cfg.Phases))
			return nil
		},
	}

	return cmd
}
