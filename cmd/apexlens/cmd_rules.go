package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/recommend"
	"github.com/jmylchreest/apexlens/pkg/rules"
)

func newRulesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "rules [kind]",
		Short: "List rules, or show one rule's remediation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if len(args) == 1 {
				return showRule(w, antipattern.Kind(args[0]))
			}
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(rules.All())
			}
			return listRules(w)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func listRules(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Rule", "Severity", "Title")
	for _, info := range rules.All() {
		if err := table.Append(string(info.Kind), severityRange(info.Severities), info.Title); err != nil {
			return err
		}
	}
	return table.Render()
}

func showRule(w io.Writer, kind antipattern.Kind) error {
	info, ok := rules.Describe(kind)
	if !ok {
		return &rules.UnknownKindError{Kind: kind}
	}
	fmt.Fprintf(w, "# %s (`%s`)\n\n%s\n\n", info.Title, info.Kind, info.Description)
	rec, err := recommend.For(kind)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, strings.TrimSpace(rec.Recommendation()))
	return nil
}

func severityRange(sevs []antipattern.Severity) string {
	names := make([]string, len(sevs))
	for i, s := range sevs {
		names[i] = s.String()
	}
	return strings.Join(names, "/")
}
