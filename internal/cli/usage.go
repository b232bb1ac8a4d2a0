package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/kirana/internal/config"
	"github.com/harun/kirana/internal/usage"
	"github.com/harun/kirana/pkg/model"
)

var usageSince time.Duration

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show accumulated token usage by tier",
	RunE:  runUsage,
}

func init() {
	usageCmd.Flags().DurationVar(&usageSince, "since", 0, "only count usage recorded within this window (e.g. 24h)")

	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ledger, err := usage.NewLedger(usage.Config{
		DBPath: filepath.Join(cfg.DataDir, "usage.db"),
	})
	if err != nil {
		return fmt.Errorf("failed to open usage ledger: %w", err)
	}
	defer ledger.Close()

	out := cmd.OutOrStdout()

	if usageSince > 0 {
		t, err := ledger.TotalsSince(time.Now().Add(-usageSince))
		if err != nil {
			return fmt.Errorf("failed to read usage: %w", err)
		}
		fmt.Fprintf(out, "last %s: %d calls, %d input tokens, %d output tokens\n",
			usageSince, t.Calls, t.InputTokens, t.OutputTokens)
		return nil
	}

	totals, err := ledger.TotalsByTier()
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}

	tiers := make([]model.Tier, 0, len(totals))
	for tier := range totals {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Below(tiers[j]) })

	fmt.Fprintf(out, "%-8s %8s %14s %14s\n", "TIER", "CALLS", "INPUT TOKENS", "OUTPUT TOKENS")
	for _, tier := range tiers {
		t := totals[tier]
		fmt.Fprintf(out, "%-8s %8d %14d %14d\n", tier, t.Calls, t.InputTokens, t.OutputTokens)
	}
	if len(tiers) == 0 {
		fmt.Fprintln(out, "no usage recorded")
	}

	return nil
}
