package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/apexlens/pkg/grammar"
)

func newGrammarCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grammar",
		Short: "Manage tree-sitter grammars",
		Long: `Manage tree-sitter grammars.

The Java grammar is built in. The Apex grammar is a shared library
downloaded into the grammar directory (default .apexlens/grammars) on first
use, or ahead of time with "grammar install".`,
	}
	cmd.AddCommand(newGrammarListCmd(g), newGrammarInstallCmd(g), newGrammarRemoveCmd(g))
	return cmd
}

// grammarEntry is one row of "grammar list".
type grammarEntry struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// grammarEntries merges installed and downloadable grammars, ordered
// builtin, installed, available and then by name.
func grammarEntries(loader grammar.Loader) []grammarEntry {
	seen := make(map[string]bool)
	var entries []grammarEntry
	for _, info := range loader.Installed() {
		seen[info.Name] = true
		status := "builtin"
		if !info.BuiltIn {
			status = "installed"
		}
		entries = append(entries, grammarEntry{Name: info.Name, Status: status, Version: info.Version})
	}
	for _, name := range loader.Available() {
		if !seen[name] {
			entries = append(entries, grammarEntry{Name: name, Status: "available"})
		}
	}

	order := map[string]int{"builtin": 0, "installed": 1, "available": 2}
	sort.Slice(entries, func(i, j int) bool {
		oi, oj := order[entries[i].Status], order[entries[j].Status]
		if oi != oj {
			return oi < oj
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

func writeGrammarList(w io.Writer, entries []grammarEntry) {
	maxName := len("GRAMMAR")
	for _, e := range entries {
		maxName = max(maxName, len(e.Name))
	}
	fmt.Fprintf(w, "%-*s  %-10s  %s\n", maxName, "GRAMMAR", "STATUS", "VERSION")
	for _, e := range entries {
		ver := e.Version
		if ver == "" {
			ver = "-"
		}
		fmt.Fprintf(w, "%-*s  %-10s  %s\n", maxName, e.Name, e.Status, ver)
	}
}

func newGrammarListCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List built-in, installed and downloadable grammars",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			entries := grammarEntries(a.grammarLoader(false))
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			writeGrammarList(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newGrammarInstallCmd(g *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "install [grammar...]",
		Short: "Download grammar shared libraries",
		Example: `  apexlens grammar install          # the configured grammar (apex)
  apexlens grammar install apex soql
  apexlens grammar install --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			loader := a.grammarLoader(false)

			names := args
			switch {
			case all:
				names = nil
				for name := range grammar.DynamicGrammars {
					names = append(names, name)
				}
			case len(names) == 0:
				names = []string{a.cfg.Grammar.Language}
			}
			sort.Strings(names)

			w := cmd.OutOrStdout()
			var failed []string
			for _, name := range names {
				fmt.Fprintf(w, "Installing %s... ", name)
				if err := loader.Install(cmd.Context(), name); err != nil {
					fmt.Fprintf(w, "FAILED: %v\n", err)
					failed = append(failed, name)
					continue
				}
				fmt.Fprintln(w, "done")
			}
			if len(failed) > 0 {
				return fmt.Errorf("failed to install: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "install every downloadable grammar")
	return cmd
}

func newGrammarRemoveCmd(g *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "remove <grammar...>",
		Aliases: []string{"rm"},
		Short:   "Remove downloaded grammars from the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			loader := a.grammarLoader(false)

			names := args
			if all {
				names = nil
				for _, info := range loader.Installed() {
					if !info.BuiltIn {
						names = append(names, info.Name)
					}
				}
			}
			w := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(w, "No grammars to remove. Name grammars or use --all.")
				return nil
			}
			sort.Strings(names)

			var failed []string
			for _, name := range names {
				fmt.Fprintf(w, "Removing %s... ", name)
				if err := loader.Remove(name); err != nil {
					fmt.Fprintf(w, "FAILED: %v\n", err)
					failed = append(failed, name)
					continue
				}
				fmt.Fprintln(w, "done")
			}
			if len(failed) > 0 {
				return fmt.Errorf("failed to remove: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every downloaded grammar")
	return cmd
}
