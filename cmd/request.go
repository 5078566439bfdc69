package cmd

import (
	"context"
	"fmt"

	"ghrunner/internal/logging"
	"ghrunner/internal/manager"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	requestRepo          string
	requestRunnerName    string
	requestResourceGroup string
)

// requestCmd represents the request command
var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Provision one runner",
	Long:  `Provision one ephemeral runner for a repository using the local Azure credential. VM creation is submitted and not awaited.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		orch, cleanup, err := newOrchestrator(cfg)
		if err != nil {
			logging.Logger().Fatal("Failed to create orchestrator", zap.Error(err))
		}
		defer cleanup()

		out := orch.Provision(context.Background(), manager.Trusted, manager.ProvisioningRequest{
			Repository:    requestRepo,
			RunnerName:    requestRunnerName,
			ResourceGroup: requestResourceGroup,
		})
		if out.Err != nil {
			cleanup()
			logging.Logger().Fatal("Provisioning failed",
				zap.String("step", string(out.FailedStep())),
				zap.Error(out.Err))
		}

		fmt.Printf("Runner VM creation started. VM: %s, runner: %s, resource group: %s\n",
			out.VMName, out.RunnerName, out.ResourceGroup)
	},
}

func init() {
	rootCmd.AddCommand(requestCmd)

	requestCmd.Flags().StringVarP(&requestRepo, "repo", "r", "", "Repository as org/repo (required)")
	requestCmd.Flags().StringVar(&requestRunnerName, "runner-name", "", "Runner name (default gh-runner-<random>)")
	requestCmd.Flags().StringVarP(&requestResourceGroup, "resource-group", "g", "", "Resource group (default from configuration)")
	if err := requestCmd.MarkFlagRequired("repo"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}
}
