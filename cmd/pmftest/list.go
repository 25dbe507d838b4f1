package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/awilliams/hwsim-pmf/internal/harness"
)

var listCmd = &cobra.Command{
	Use:   "list [regex...]",
	Short: "List the registered tests",
	RunE: func(cmd *cobra.Command, args []string) error {
		tests, err := harness.Match(harness.Tests(), args...)
		if err != nil {
			return err
		}
		printTests(cmd.OutOrStdout(), tests)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printTests(w io.Writer, tests []*harness.Test) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, t := range tests {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Desc)
	}
	tw.Flush()
}
