package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.effectiveConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			out, err := cfg.Encode()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	bindEngineFlags(cmd, app)
	bindModelFlags(cmd, app)
	bindLocalFlags(cmd, app)
	bindCloudFlags(cmd, app)
	return cmd
}
