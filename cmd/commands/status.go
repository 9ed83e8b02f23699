package commands

// Command to show the scheduler state: last run, next eligible run, pool and debts

import (
	"fmt"
	"time"

	"nuke-rewards/internal/features/rewards"
	"nuke-rewards/internal/infra/store"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler state and reward pool",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	var st rewards.SchedulerState
	if _, err := store.LoadJSON(e.kv, rewards.StateKey, &st); err != nil {
		return fmt.Errorf("failed to load scheduler state: %w", err)
	}
	owed, err := e.ledger.Total()
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	wallets, err := e.ledger.Wallets()
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	if st.LastRunAt.IsZero() {
		fmt.Fprintln(out, "Last cycle:       never")
		fmt.Fprintln(out, "Next eligible:    now")
	} else {
		next := st.LastRunAt.Add(e.cfg.Rewards.MinInterval)
		fmt.Fprintf(out, "Last cycle:       %s (%s)\n", st.LastRunAt.Format(time.RFC3339), st.LastCycleID)
		if now := e.clock.Now(); !next.After(now) {
			fmt.Fprintln(out, "Next eligible:    now")
		} else {
			fmt.Fprintf(out, "Next eligible:    %s (in %s)\n", next.Format(time.RFC3339), next.Sub(now).Round(time.Second))
		}
	}
	fmt.Fprintf(out, "Pool mode:        %s\n", e.cfg.Rewards.PoolMode)
	fmt.Fprintf(out, "Reward pool:      %s\n", rewards.FormatSOL(st.RewardPool))
	fmt.Fprintf(out, "Treasury pending: %s\n", rewards.FormatSOL(st.PendingTreasury))
	fmt.Fprintf(out, "Owed to holders:  %s SOL across %d wallet(s)\n", owed.String(), len(wallets))
	return nil
}
