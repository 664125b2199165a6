package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"netplay-engine/internal/stats"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a statistics log file",
	Long:  "replay feeds samples and state transitions from a statistics log back into GreptimeDB or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		cfg, err := loadConfig("", "")
		if err != nil {
			return err
		}
		// Replaying into the file being read would never end.
		cfg.Stats.File = ""
		samples, transitions, cleanup, err := newWriters(cfg, replayPrintOnly, false, logger)
		if err != nil {
			return err
		}
		defer cleanup()
		return stats.ReplayLogFile(replayInput, samples, transitions, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to statistics log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print statistics to STDOUT instead of writing to DB")
	replayCmd.MarkFlagRequired("input")
}
