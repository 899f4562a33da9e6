package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "codelens",
		Short:         "Polyglot code-intelligence broker for coding agents",
		Long: "codelens sits between a coding agent and a fleet of language\n" +
			"servers, exposing semantic code operations (find symbol, references,\n" +
			"rename, symbol-level edits) at token-efficient granularity.",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStartServerCmd())
	root.AddCommand(newTenantsCmd())
	root.AddCommand(newProjectCmd())
	return root
}
