package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cgcmarket",
	Short: "Transactive energy market and consensus dispatch",
	Long: `cgcmarket runs a feeder's double auction with price responsive
thermostats, and solves economic dispatch across agents by distributed
consensus.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() error {
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersion sets the version reported by --version
func SetVersion(v string) {
	rootCmd.Version = v
}
