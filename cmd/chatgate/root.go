package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatgate",
	Short: "Quota-gated chat proxy for a hosted AI assistant",
	Long: `chatgate relays site chat messages to a hosted AI assistant.

Every user gets a daily message cap, a daily estimated-cost cap and a
cooldown between messages. Usage is kept in a per-user daily ledger.

Quick start:
  chatgate serve     # Start the chat server
  chatgate validate  # Validate configuration

Operations:
  chatgate usage show --user=ana@example.com
  chatgate usage sweep`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "chatgate.yaml", "config file path")
}
