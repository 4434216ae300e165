package cmd

import (
	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run exactly one tick (the default action)",
	Long: `Runs one atomic tick: load cursor, extract, transform, render, advance,
persist. Identical to invoking vsmp with no subcommand; exists so scheduler
entries read explicitly.`,
	Run: func(cmd *cobra.Command, args []string) {
		runTick()
	},
}

func init() {
	rootCmd.AddCommand(tickCmd)
}
