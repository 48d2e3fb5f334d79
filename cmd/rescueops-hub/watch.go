package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rescueops-hub/internal/watch"
)

var (
	watchAPI      string
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show a live leaderboard in the terminal",
	Long:  "watch polls the hub's benchmarks and response-time trend and renders them as a terminal UI.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("watch needs an interactive terminal")
		}
		if watchInterval <= 0 {
			return fmt.Errorf("interval must be positive")
		}
		return watch.Run(cmd.Context(), watchAPI, watch.NewClient(watchAPI), watchInterval)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchAPI, "api", "http://localhost:8080", "Hub API base URL")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Poll interval")
}
