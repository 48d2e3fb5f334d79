package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"rescueops-hub/internal/replay"
)

var (
	replayInput  string
	replayTarget string
	replaySpeed  float64
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded event log",
	Long:  "replay sends recorded event envelopes from a JSONL file to a running hub, keeping their original pacing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		s, err := replay.Dial(cmd.Context(), replayTarget)
		if err != nil {
			return err
		}
		defer s.Close()
		n, err := replay.File(cmd.Context(), replayInput, s, replaySpeed)
		slog.Info("replay finished", "sent", n, "target", replayTarget)
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to event log (JSONL)")
	replayCmd.Flags().StringVar(&replayTarget, "target", "ws://localhost:8080/ws", "Hub event channel URL")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 sends without delay)")
	replayCmd.MarkFlagRequired("input")
}
