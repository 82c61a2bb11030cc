package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/chatgate/bootstrap"
	"github.com/artpar/chatgate/config"
	"github.com/artpar/chatgate/domain/usage"
	"github.com/artpar/chatgate/ports"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect the usage ledger",
	Long: `Inspect and maintain the daily usage ledger.

Only persistent ledgers (sqlite, redis, postgres) are useful here; the
memory ledger lives inside the server process.

Examples:
  chatgate usage show --user=ana@example.com
  chatgate usage sweep`,
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show today's usage for a user",
	RunE:  runUsageShow,
}

var usageSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove records from previous days",
	RunE:  runUsageSweep,
}

var (
	usageUserID string
)

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.AddCommand(usageShowCmd)
	usageCmd.AddCommand(usageSweepCmd)

	usageShowCmd.Flags().StringVar(&usageUserID, "user", "", "user identity")
}

func openCLILedger(ctx context.Context) (ports.UsageLedger, func() error, *config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	ledger, closeFn, err := bootstrap.OpenLedger(ctx, cfg.Ledger, zerolog.Nop())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return ledger, closeFn, cfg, nil
}

func runUsageShow(cmd *cobra.Command, args []string) error {
	if usageUserID == "" {
		return fmt.Errorf("--user is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ledger, closeFn, cfg, err := openCLILedger(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	rec, err := ledger.Peek(ctx, usageUserID, usage.Day(time.Now()))
	if err != nil {
		return fmt.Errorf("read usage: %w", err)
	}

	last := "-"
	if !rec.LastMessageAt.IsZero() {
		last = rec.LastMessageAt.UTC().Format(time.RFC3339)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "User:\t%s\n", rec.UserID)
	fmt.Fprintf(w, "Day:\t%s\n", rec.Day)
	fmt.Fprintf(w, "Messages:\t%d / %d\n", rec.MessageCount, cfg.Quota.MaxMessagesPerDay)
	fmt.Fprintf(w, "Cost:\t$%.6f / $%.2f\n", rec.Cost, cfg.Quota.MaxCostPerDay)
	fmt.Fprintf(w, "In flight:\t%d\n", rec.InFlight)
	fmt.Fprintf(w, "Last message:\t%s\n", last)
	return w.Flush()
}

func runUsageSweep(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ledger, closeFn, _, err := openCLILedger(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := ledger.SweepStale(ctx, usage.Day(time.Now()))
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale records.\n", n)
	return nil
}
