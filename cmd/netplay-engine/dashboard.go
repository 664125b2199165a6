package main

import (
	"github.com/spf13/cobra"

	"netplay-engine/internal/dashboard"
	"netplay-engine/internal/stats"
)

var (
	dashboardOut             string
	dashboardSampleTable     string
	dashboardTransitionTable string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards",
	Long:  "dashboard renders Grafana dashboards for the GreptimeDB statistics tables. GREPTIMEDB_DATASOURCE_UID must be set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := dashboard.Render(dashboardOut, dashboard.New(dashboardSampleTable, dashboardTransitionTable)); err != nil {
			return err
		}
		logger.Info("dashboards rendered", "dir", dashboardOut)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
	dashboardCmd.Flags().StringVar(&dashboardSampleTable, "sample-table", stats.DefaultSampleTable, "Sample table name")
	dashboardCmd.Flags().StringVar(&dashboardTransitionTable, "transition-table", stats.DefaultTransitionTable, "Transition table name")
}
