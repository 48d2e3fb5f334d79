package main

import (
	"github.com/spf13/cobra"

	"rescueops-hub/internal/dashboard"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render the Grafana dashboard",
	Long:  "dashboard writes a Grafana dashboard over the GreptimeDB tables. GREPTIMEDB_DATASOURCE_UID selects the datasource.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dashboard.Render(dashboardOut)
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
}
