package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/chatgate/bootstrap"
	"github.com/artpar/chatgate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the chatgate configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Usage ledger is reachable (optional)

Examples:
  chatgate validate
  chatgate validate --check-ledger --config /etc/chatgate/chatgate.yaml`,
	RunE: runValidate,
}

var (
	validateCheckLedger bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckLedger, "check-ledger", false, "check that the usage ledger can be opened")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)

	fmt.Fprintf(out, "  %s Provider: %s\n", checkMark, cfg.Assistant.Provider)
	fmt.Fprintf(out, "  %s Limits: %d messages, $%.2f per day, %s cooldown\n",
		checkMark, cfg.Quota.MaxMessagesPerDay, cfg.Quota.MaxCostPerDay, cfg.Quota.Cooldown)
	fmt.Fprintf(out, "  %s Estimator: %s\n", checkMark, cfg.Pricing.Estimator)
	fmt.Fprintf(out, "  %s Ledger: %s\n", checkMark, cfg.Ledger.Driver)

	if validateCheckLedger {
		if err := checkLedger(cfg.Ledger); err != nil {
			fmt.Fprintf(out, "  %s Ledger reachable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Ledger reachable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkLedger(cfg config.LedgerConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, closeFn, err := bootstrap.OpenLedger(ctx, cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	return closeFn()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
