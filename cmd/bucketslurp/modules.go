package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) modulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the supported provider modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-6s %-28s %s\n", "CODE", "PROVIDER", "URL KEYWORDS")
			for _, m := range a.registry.Modules() {
				fmt.Fprintf(w, "%-6s %-28s %s\n", m.Code, m.Name, strings.Join(m.Keywords, ", "))
			}
			return nil
		},
	}
}
