package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/store"
)

type filterFlags struct {
	kind        string
	minSeverity string
	class       string
	file        string
	limit       int
	json        bool
}

func (f *filterFlags) register(cmd *cobra.Command, limitHelp string) {
	fl := cmd.Flags()
	fl.StringVar(&f.kind, "kind", "", "filter by rule, e.g. soql-in-loop")
	fl.StringVar(&f.minSeverity, "min-severity", "", "lowest severity: minor, major or critical")
	fl.StringVar(&f.class, "class", "", "filter by class name")
	fl.StringVar(&f.file, "file", "", "filter by file path (substring)")
	fl.IntVar(&f.limit, "limit", 0, limitHelp)
	fl.BoolVar(&f.json, "json", false, "output as JSON")
}

func (f *filterFlags) filter() (store.Filter, error) {
	return buildFilter(f.kind, f.minSeverity, f.class, f.file, f.limit)
}

// buildFilter validates user-supplied filter values.
func buildFilter(kind, minSeverity, class, file string, limit int) (store.Filter, error) {
	out := store.Filter{Class: class, File: file, Limit: limit}
	if kind != "" {
		k := antipattern.Kind(kind)
		if !k.Valid() {
			return store.Filter{}, fmt.Errorf("unknown rule %q", kind)
		}
		out.Kind = k
	}
	if minSeverity != "" {
		s, err := antipattern.ParseSeverity(minSeverity)
		if err != nil {
			return store.Filter{}, err
		}
		out.MinSeverity = s
	}
	return out, nil
}

func newFindingsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Query findings saved by scan --store, watch or mcp",
	}
	cmd.AddCommand(
		newFindingsListCmd(g),
		newFindingsSearchCmd(g),
		newFindingsStatsCmd(g),
		newFindingsClearCmd(g),
	)
	return cmd
}

// withStore loads the app and opens its store for the duration of fn.
func withStore(g *globalFlags, fn func(a *app, st *store.Store) error) error {
	a, err := loadApp(g)
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(a, st)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFindingsListCmd(g *globalFlags) *cobra.Command {
	f := &filterFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored findings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := f.filter()
			if err != nil {
				return err
			}
			return withStore(g, func(a *app, st *store.Store) error {
				records, err := st.List(filter)
				if err != nil {
					return err
				}
				if f.json {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(formatRecords(a.cfg.Root, records), "\n"))
				return nil
			})
		},
	}
	f.register(cmd, fmt.Sprintf("maximum results, negative for no limit (default %d)", store.DefaultListLimit))
	return cmd
}

func newFindingsSearchCmd(g *globalFlags) *cobra.Command {
	f := &filterFlags{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over class, method, snippet and metadata",
		Example: `  apexlens findings search accountservice
  apexlens findings search "opportunity" --kind soql-in-loop`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := f.filter()
			if err != nil {
				return err
			}
			return withStore(g, func(a *app, st *store.Store) error {
				hits, err := st.Search(strings.Join(args, " "), filter)
				if err != nil {
					return err
				}
				if f.json {
					return writeJSON(cmd.OutOrStdout(), hits)
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(formatHits(a.cfg.Root, hits), "\n"))
				return nil
			})
		},
	}
	f.register(cmd, fmt.Sprintf("maximum results, negative for no limit (default %d)", store.DefaultSearchLimit))
	return cmd
}

func newFindingsStatsCmd(g *globalFlags) *cobra.Command {
	f := &filterFlags{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count stored findings by rule and severity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := f.filter()
			if err != nil {
				return err
			}
			return withStore(g, func(_ *app, st *store.Store) error {
				stats, err := st.Stats(filter)
				if err != nil {
					return err
				}
				if f.json {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				fmt.Fprint(cmd.OutOrStdout(), formatStats(stats))
				return nil
			})
		},
	}
	f.register(cmd, "ignored")
	_ = cmd.Flags().MarkHidden("limit")
	return cmd
}

func newFindingsClearCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored finding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(g, func(_ *app, st *store.Store) error {
				if err := st.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Findings cleared.")
				return nil
			})
		},
	}
}
