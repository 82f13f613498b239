package commands

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/ohowland/cgc_market/internal/pkg/dispatch/consensus"
	"github.com/ohowland/cgc_market/internal/pkg/report"
	"github.com/spf13/cobra"
)

var (
	consensusCase    string
	consensusFailure string
)

var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Solve a consensus dispatch case file",
	Long: `Solve a real-time or day-ahead consensus case offline and print the
result as JSON. Non-convergence is reported in the result and appended to the
failure log when one is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := solveCase(consensusCase, consensusFailure)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	consensusCmd.Flags().StringVarP(&consensusCase, "case", "c", "", "consensus case file")
	consensusCmd.Flags().StringVar(&consensusFailure, "failure-log", "", "append-only failure log")
	consensusCmd.MarkFlagRequired("case")
	rootCmd.AddCommand(consensusCmd)
}

func solveCase(path, failurePath string) ([]byte, error) {
	c, err := consensus.LoadCase(path)
	if err != nil {
		return nil, err
	}
	var failures *report.Log
	if failurePath != "" {
		failures = report.New(failurePath)
	}
	solver := consensus.New(c.Config(), failures)

	if c.Mode == consensus.ModeDayAhead {
		horizon, err := c.Horizon()
		if err != nil {
			return nil, err
		}
		res, err := solver.SolveDayAhead(horizon, c.Target)
		if err != nil {
			return nil, err
		}
		log.Printf("[Main] day-ahead converged=%v iterations=%d\n", res.Converged, res.Iterations)
		return json.MarshalIndent(res, "", "  ")
	}

	if len(c.Target) != 1 {
		return nil, fmt.Errorf("real-time case needs one target, got %d", len(c.Target))
	}
	agents, err := c.Build()
	if err != nil {
		return nil, err
	}
	res, err := solver.SolveRealTime(agents, c.Target[0])
	if err != nil {
		return nil, err
	}
	log.Printf("[Main] real-time converged=%v iterations=%d\n", res.Converged, res.Iterations)
	return json.MarshalIndent(res, "", "  ")
}
