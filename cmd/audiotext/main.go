package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fmueller/audiotext/internal/cli"
	"github.com/fmueller/audiotext/internal/failure"
	"github.com/spf13/cobra"
)

// Exit codes. Interrupted runs use the shell convention for SIGINT.
const (
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage := shouldPrintUsageHint(err)
		if usage {
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", helpHintTarget(cmd, os.Args[1:]))
		}
		os.Exit(exitCode(err, usage))
	}
}

func exitCode(err error, usage bool) int {
	switch {
	case err == nil:
		return 0
	case usage:
		return exitUsage
	}

	switch failure.KindOf(err) {
	case failure.Cancelled:
		return exitInterrupted
	case failure.InvalidInput:
		return exitUsage
	default:
		return exitFailure
	}
}

func shouldPrintUsageHint(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"accepts ",
		"requires at least",
		"requires at most",
		"requires between",
		"required flag",
		"missing required",
	}

	for _, pattern := range patterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}

	return false
}

func helpHintTarget(root *cobra.Command, args []string) string {
	if root == nil {
		return "audiotext"
	}

	target := root.CommandPath()
	if len(args) == 0 {
		return target
	}

	if strings.HasPrefix(args[0], "-") {
		return target
	}

	found, _, err := root.Find(args)
	if err == nil && found != nil {
		return found.CommandPath()
	}

	return target
}
