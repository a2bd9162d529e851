package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/cwbudde/esbench/internal/problem"
	"github.com/spf13/cobra"
)

var problemsCmd = &cobra.Command{
	Use:   "problems",
	Short: "List the benchmark functions",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, info := range problem.Problems() {
			fmt.Fprintf(w, "%d\t%s\n", info.ID, info.Name)
		}
		w.Flush()
		fmt.Fprintf(cmd.OutOrStdout(), "\nSearch domain [%g, %g] in every dimension.\n", problem.LowerBound, problem.UpperBound)
	},
}

func init() {
	rootCmd.AddCommand(problemsCmd)
}
