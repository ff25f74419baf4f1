package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand(true)
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "budgetsim",
		Short: "Turn-based public-budget allocation simulator with retrieval-based estimates",
		Long: strings.TrimSpace(`budgetsim is a turn-based budgeting simulation service.

Players draw yearly queues of real budget line-items, allocate a capped yearly
budget across them, and can ask a retrieval-based estimator for a fair initial
budget backed by the most similar historical items.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newPlayCommand())
	root.AddCommand(newEstimateCommand())
	root.AddCommand(newCatalogCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		docsCmd := newDocsCommand(func() *cobra.Command { return buildRootCommand(false) })
		root.AddCommand(docsCmd)
	}

	return root
}

func runLegacyWithArgs(args []string, fn func()) error {
	original := os.Args
	os.Args = append([]string{original[0]}, args...)
	defer func() {
		os.Args = original
	}()
	fn()
	return nil
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.budgetsim config and the data directory",
		Long:    "Create the default configuration file and data directory for a new budgetsim installation.",
		Example: "  budgetsim onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"onboard"}, onboard)
		},
	}
}

func newServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API with the session sweeper",
		Long:    "Load the event catalog, start the game service, the idle-session sweeper, and the JSON API.",
		Example: "  budgetsim serve --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			legacyArgs := []string{"serve"}
			if debug {
				legacyArgs = append(legacyArgs, "--debug")
			}
			return runLegacyWithArgs(legacyArgs, serveCmd)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newPlayCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "play",
		Short:   "Play an interactive session in the terminal",
		Long:    "Start an in-process game session and drive it from a readline REPL without the HTTP layer.",
		Example: "  budgetsim play",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"play"}, playCmd)
		},
	}
}

func newEstimateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <text>",
		Short: "One-shot budget estimate from free text",
		Args:  cobra.MinimumNArgs(1),
		Example: strings.Join([]string{
			"  budgetsim estimate \"coastal disaster prevention works\"",
			"  budgetsim estimate regional childcare support",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return runLegacyWithArgs([]string{"estimate", text}, func() { estimateCmd(text) })
		},
	}
}

func newCatalogCommand() *cobra.Command {
	catalogRoot := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the event catalog",
	}

	catalogRoot.AddCommand(&cobra.Command{
		Use:     "validate",
		Short:   "Parse the catalog and report row/dimension/budget coverage",
		Example: "  budgetsim catalog validate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"catalog", "validate"}, catalogValidateCmd)
		},
	})

	return catalogRoot
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, catalog, and runtime readiness",
		Example: "  budgetsim status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"status"}, statusCmd)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  budgetsim version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
