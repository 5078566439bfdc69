package cmd

import (
	"context"
	"fmt"

	"ghrunner/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepConcurrency int

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete every runner resource group",
	Long:  `List resource groups carrying the reserved prefix and delete them concurrently. Use it to clean up after failed provisioning attempts.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		orch, cleanup, err := newOrchestrator(cfg)
		if err != nil {
			logging.Logger().Fatal("Failed to create orchestrator", zap.Error(err))
		}
		defer cleanup()

		results, err := orch.Sweep(context.Background(), sweepConcurrency)
		for _, r := range results {
			status := "deleted"
			if r.Err != nil {
				status = "FAILED: " + r.Err.Error()
			}
			fmt.Printf("%-40s %s\n", r.ResourceGroup, status)
		}
		if err != nil {
			cleanup()
			logging.Logger().Fatal("Sweep failed", zap.Error(err))
		}
		if len(results) == 0 {
			fmt.Println("No resource groups to delete.")
		}
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().IntVarP(&sweepConcurrency, "concurrency", "c", 4, "Maximum concurrent deletions")
}
