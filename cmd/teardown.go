package cmd

import (
	"context"
	"fmt"

	"ghrunner/internal/logging"
	"ghrunner/internal/manager"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var teardownResourceGroup string

// teardownCmd represents the teardown command
var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Delete a runner resource group",
	Long:  `Delete a whole resource group and wait for completion. The name must carry the reserved prefix.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		orch, cleanup, err := newOrchestrator(cfg)
		if err != nil {
			logging.Logger().Fatal("Failed to create orchestrator", zap.Error(err))
		}
		defer cleanup()

		out := orch.Teardown(context.Background(), manager.Trusted, manager.TeardownRequest{
			ResourceGroup: teardownResourceGroup,
		})
		if out.Err != nil {
			cleanup()
			logging.Logger().Fatal("Teardown failed",
				zap.String("resource_group", out.ResourceGroup),
				zap.Error(out.Err))
		}

		fmt.Printf("Resource group '%s' deleted.\n", out.ResourceGroup)
	},
}

func init() {
	rootCmd.AddCommand(teardownCmd)

	teardownCmd.Flags().StringVarP(&teardownResourceGroup, "resource-group", "g", "", "Resource group (default from configuration)")
}
