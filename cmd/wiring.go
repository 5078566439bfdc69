package cmd

import (
	"context"
	"fmt"
	"io"

	"ghrunner/internal/config"
	"ghrunner/internal/github"
	"ghrunner/internal/logging"
	"ghrunner/internal/manager"
	"ghrunner/internal/provisioning"
	"ghrunner/internal/secrets"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.uber.org/zap"
)

// loadConfig loads configuration or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
	}
	logging.Logger().Info("Configuration loaded",
		zap.String("location", cfg.Azure.Location),
		zap.String("resource_group_prefix", cfg.Azure.ResourceGroupPrefix),
		zap.String("vm_size", cfg.Azure.VMSize),
		zap.String("secret_backend", string(cfg.Secrets.Backend)),
	)
	return cfg
}

// newOrchestrator wires the orchestrator against Azure. The returned cleanup
// releases the secret backend.
func newOrchestrator(cfg *config.Config) (*manager.Orchestrator, func(), error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	acc, err := secrets.NewAccessor(cfg.Secrets, cred)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create secret accessor: %w", err)
	}
	cleanup := func() {
		if c, ok := acc.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logging.Logger().Warn("Failed to close secret backend", zap.Error(err))
			}
		}
	}

	broker := github.NewTokenBroker(cfg.GitHub.APIURL, cfg.GitHub.TokenTimeout)

	// Cloud handles are built per request from the shared credential.
	clouds := func(context.Context) (provisioning.Cloud, error) {
		cloud, err := provisioning.NewAzureCloud(cfg.Azure.SubscriptionID, cred, nil)
		if err != nil {
			return nil, err
		}
		return cloud, nil
	}

	return manager.NewOrchestrator(cfg, broker, acc, clouds), cleanup, nil
}
