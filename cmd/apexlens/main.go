// Package main provides the CLI and MCP server for apexlens.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/internal/version"
)

// errThreshold is returned by scan when findings reach --fail-on. It maps
// to exit code 1; every other error exits with 2.
var errThreshold = errors.New("findings at or above the failure threshold")

func main() {
	err := newRootCmd().Execute()
	logging.Sync()
	if err == nil {
		return
	}
	if errors.Is(err, errThreshold) {
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "apexlens:", err)
	os.Exit(2)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "apexlens",
		Short: "Static antipattern analysis for Salesforce Apex",
		Long: `apexlens finds performance antipatterns in Apex classes: SOQL and DML
inside loops, unbounded queries, unused query fields and global describe
calls. Each finding comes with a remediation document.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.root, "root", "", "project root (default: git worktree root or current directory)")
	pf.StringVar(&g.configPath, "config", "", "config file (default: <root>/.apexlens/config.json)")
	pf.BoolVar(&g.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newScanCmd(g),
		newRulesCmd(),
		newSoqlCmd(),
		newFindingsCmd(g),
		newGrammarCmd(g),
		newWatchCmd(g),
		newMCPCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), version.JSON())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
