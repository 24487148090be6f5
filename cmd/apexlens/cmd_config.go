package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/apexlens/internal/config"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Long: fmt.Sprintf(`Print the effective configuration after merging defaults, the project
file (%s) and %s* environment variables.`, config.Path("<root>"), config.EnvPrefix),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), a.cfg)
		},
	})
	return cmd
}
