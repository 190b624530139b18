package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fmueller/audiotext/internal/engine"
	"github.com/fmueller/audiotext/internal/normalize"
	"github.com/spf13/cobra"
)

func newEnginesCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List transcription engines and whether they are ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engines, err := app.enginesFn()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENGINE\tINPUT\tSTATUS")
			for _, kind := range engine.Kinds() {
				eng, ok := engines[kind]
				if !ok {
					fmt.Fprintf(w, "%s\t-\tnot configured\n", kind)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", kind, describePolicy(eng.Policy()), readiness(eng))
			}
			return w.Flush()
		},
	}

	bindModelFlags(cmd, app)
	bindLocalFlags(cmd, app)
	bindCloudFlags(cmd, app)
	return cmd
}

func describePolicy(policy normalize.Policy) string {
	if policy.Target != nil {
		return policy.Target.String()
	}
	if len(policy.Accept) > 0 {
		return strings.Join(policy.Accept, ",")
	}
	return "any"
}

func readiness(eng engine.Engine) string {
	checker, ok := eng.(engine.Readiness)
	if !ok {
		return "ready"
	}
	if err := checker.Ready(); err != nil {
		return "not ready: " + err.Error()
	}
	return "ready"
}
