package commands

// Command to list accumulated (unpaid) rewards, largest first

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var ledgerFlaggedOnly bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List accumulated rewards and flagged wallets",
	RunE:  runLedger,
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerFlaggedOnly, "flagged", false, "only wallets that reached rewards.max_retries")
}

func runLedger(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.ledger.Entries()
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	wallets := lo.Keys(entries)
	if ledgerFlaggedOnly {
		wallets = lo.Filter(wallets, func(w string, _ int) bool { return entries[w].Flagged })
	}
	sort.Slice(wallets, func(i, j int) bool {
		a, b := entries[wallets[i]], entries[wallets[j]]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return wallets[i] < wallets[j]
	})

	out := cmd.OutOrStdout()
	if len(wallets) == 0 {
		fmt.Fprintln(out, "Ledger is empty")
		return nil
	}
	for _, w := range wallets {
		entry := entries[w]
		line := fmt.Sprintf("%-44s %s SOL  retries=%d  updated=%s", w, entry.Amount.String(), entry.RetryCount, entry.UpdatedAt.Format(time.RFC3339))
		if entry.Flagged {
			line += "  FLAGGED"
		}
		if entry.LastFailure != "" {
			line += "  last_error=" + entry.LastFailure
		}
		fmt.Fprintln(out, line)
	}

	total := lo.Reduce(wallets, func(acc decimal.Decimal, w string, _ int) decimal.Decimal {
		return acc.Add(entries[w].Amount)
	}, decimal.Zero)
	fmt.Fprintf(out, "%d wallet(s), %s SOL\n", len(wallets), total.String())
	return nil
}
