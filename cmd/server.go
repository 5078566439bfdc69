package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ghrunner/internal/auth"
	"ghrunner/internal/logging"
	"ghrunner/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the ghrunner HTTP server",
	Long:  `Start the HTTP server exposing request_runner and delete_resource_group. All settings are read from the environment and the optional config file.`,
	Run: func(cmd *cobra.Command, args []string) {
		logging.Logger().Info("Starting ghrunner server")

		cfg := loadConfig()
		if cfg.Auth.FunctionKey == "" && (cfg.Auth.AllowedRepository == "" || cfg.Auth.AllowedActor == "") {
			logging.Logger().Warn("No credential scheme is configured; every request will be rejected")
		}

		orch, cleanup, err := newOrchestrator(cfg)
		if err != nil {
			logging.Logger().Fatal("Failed to create orchestrator", zap.Error(err))
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.NewServer(orch, auth.NewGate(cfg.Auth))
		if err := srv.Run(ctx, cfg.Server.Port); err != nil {
			logging.Logger().Fatal("Server failed", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
