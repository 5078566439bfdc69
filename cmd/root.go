package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ghrunner",
	Short: "Ephemeral GitHub Actions runners on Azure",
	Long: `ghrunner provisions short-lived, self-hosted GitHub Actions runners on Azure.
Each runner gets its own network and a VM built from a custom image that
registers itself against the repository on first boot.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
