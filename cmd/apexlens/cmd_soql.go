package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/apexlens/pkg/soql"
)

// queryAnalysis is the result of "soql analyze" and the soql_analyze tool.
type queryAnalysis struct {
	Query   string         `json:"query"`
	Valid   bool           `json:"valid"`
	Object  string         `json:"object,omitempty"`
	Fields  []string       `json:"fields"`
	Nested  bool           `json:"nested"`
	Clauses soql.ClauseSet `json:"clauses"`
	Display string         `json:"display"`
}

func analyzeQuery(text string, maxLength int) queryAnalysis {
	if maxLength <= 0 {
		maxLength = soql.DefaultDisplayLength
	}
	a := queryAnalysis{
		Query:   text,
		Valid:   soql.IsValidSOQL(text),
		Fields:  soql.ExtractFields(text),
		Nested:  soql.HasNestedQueries(text),
		Clauses: soql.Clauses(text),
		Display: soql.FormatQueryForDisplay(text, maxLength),
	}
	if a.Fields == nil {
		a.Fields = []string{}
	}
	a.Object, _ = soql.ExtractObjectName(text)
	return a
}

func (a queryAnalysis) writeText(w io.Writer) {
	fmt.Fprintf(w, "Query:   %s\n", a.Display)
	if !a.Valid {
		fmt.Fprintln(w, "Shape:   not a SELECT ... FROM query")
		return
	}
	fmt.Fprintf(w, "Object:  %s\n", a.Object)
	fmt.Fprintf(w, "Fields:  %s\n", strings.Join(a.Fields, ", "))
	fmt.Fprintf(w, "Nested:  %t\n", a.Nested)

	var clauses []string
	for _, c := range []struct {
		name string
		set  bool
	}{
		{"WHERE", a.Clauses.Where},
		{"LIMIT", a.Clauses.Limit},
		{"ORDER BY", a.Clauses.OrderBy},
		{"GROUP BY", a.Clauses.GroupBy},
		{"HAVING", a.Clauses.Having},
		{"OFFSET", a.Clauses.Offset},
		{"FOR", a.Clauses.For},
		{"WITH", a.Clauses.With},
	} {
		if c.set {
			clauses = append(clauses, c.name)
		}
	}
	if len(clauses) == 0 {
		clauses = []string{"none"}
	}
	fmt.Fprintf(w, "Clauses: %s\n", strings.Join(clauses, ", "))
}

func newSoqlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soql",
		Short: "Inspect and rewrite SOQL query text",
		Long: `Inspect and rewrite SOQL query text without parsing a class.

The query is taken from the arguments, joined with spaces, or from stdin
when no arguments are given. Inline [SELECT ...] brackets are accepted.`,
	}
	cmd.AddCommand(newSoqlAnalyzeCmd(), newSoqlFieldsCmd(), newSoqlTrimCmd(), newSoqlFormatCmd())
	return cmd
}

func newSoqlAnalyzeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze [query]",
		Short: "Show the object, fields and clauses of a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := queryArg(cmd, args)
			if err != nil {
				return err
			}
			a := analyzeQuery(text, 0)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a)
			}
			a.writeText(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newSoqlFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields [query]",
		Short: "Print the outer SELECT list, one field per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := queryArg(cmd, args)
			if err != nil {
				return err
			}
			fields := soql.ExtractFields(text)
			if fields == nil {
				return fmt.Errorf("not a SELECT ... FROM query")
			}
			for _, f := range fields {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}

func newSoqlTrimCmd() *cobra.Command {
	var remove []string
	cmd := &cobra.Command{
		Use:   "trim [query] --remove field[,field...]",
		Short: "Remove fields from the outer SELECT list",
		Long: `Remove fields from the outer SELECT list. Every clause after FROM is kept
exactly. Queries with subqueries, or that would be left with no fields,
are refused.`,
		Example: `  apexlens soql trim "SELECT Id, Name, Phone FROM Account" --remove Phone`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := queryArg(cmd, args)
			if err != nil {
				return err
			}
			if len(remove) == 0 {
				return fmt.Errorf("--remove is required")
			}
			out := soql.RemoveUnusedFields(text, remove, nil)
			if out == "" {
				return fmt.Errorf("query cannot be rewritten safely")
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "fields to remove")
	return cmd
}

func newSoqlFormatCmd() *cobra.Command {
	var maxLength int
	cmd := &cobra.Command{
		Use:   "format [query]",
		Short: "Collapse whitespace and shorten a query for display",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := queryArg(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), soql.FormatQueryForDisplay(text, maxLength))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxLength, "max", soql.DefaultDisplayLength, "maximum display length in characters")
	return cmd
}

// queryArg joins args, or reads stdin when there are none.
func queryArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading query from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no query given")
	}
	return text, nil
}
