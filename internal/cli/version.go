package cli

import (
	"fmt"

	"github.com/fmueller/audiotext/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var showDate bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Resolve()
			fmt.Fprintf(cmd.OutOrStdout(), "audiotext v%s\n", info)
			if showDate && info.Date != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", info.Date)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showDate, "build-info", false, "Also print the build date")
	return cmd
}
