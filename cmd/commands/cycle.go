package commands

// Command to run a single reward cycle now and print its outcome

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nuke-rewards/internal/features/rewards"

	"github.com/spf13/cobra"
)

var cycleForce bool

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one reward cycle now",
	Long:  `Run one reward cycle. Without --force the cycle is skipped when the last one ran less than rewards.min_interval ago.`,
	RunE:  runOneCycle,
}

func init() {
	cycleCmd.Flags().BoolVar(&cycleForce, "force", false, "bypass the minimum interval between cycles")
}

func runOneCycle(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.withScheduler(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := e.scheduler.RunCycle(ctx, cycleForce)
	if report != nil {
		printCycleReport(cmd, report)
	}
	return err
}

func printCycleReport(cmd *cobra.Command, report *rewards.CycleReport) {
	out := cmd.OutOrStdout()
	switch report.Outcome {
	case rewards.OutcomeSkippedRunning:
		fmt.Fprintln(out, "Skipped: a cycle is already running")
		return
	case rewards.OutcomeSkippedInterval:
		fmt.Fprintf(out, "Skipped: next cycle allowed at %s (use --force)\n", report.NextEligible.Format(time.RFC3339))
		return
	}

	if rec := report.Record; rec != nil {
		fmt.Fprintf(out, "Cycle %s: %s\n", rec.ID, report.Outcome)
		fmt.Fprintf(out, "  holders %d, eligible %d, excluded %d, blacklisted %d\n",
			rec.TotalHolders, rec.EligibleCount, rec.ExcludedCount, rec.BlacklistedCount)
		fmt.Fprintf(out, "  pool %s, distributed %s, remainder %s\n",
			rewards.FormatSOL(rec.PoolAmount), rewards.FormatSOL(rec.TotalDistributed), rewards.FormatSOL(rec.Remainder))
	}
	fmt.Fprintf(out, "  payouts: %d ok, %d failed, %d skipped\n",
		len(report.Execution.Succeeded), len(report.Execution.Failed), len(report.Execution.Skipped))
	for _, wallet := range report.NewlyFlagged {
		fmt.Fprintf(out, "  flagged: %s\n", wallet)
	}
	if report.SettlementErr != nil {
		fmt.Fprintf(out, "  settlement failed: %v\n", report.SettlementErr)
	}
}
