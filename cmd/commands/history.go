package commands

// Command to list recent cycle records, or show one record in full

import (
	"encoding/json"
	"fmt"
	"time"

	"nuke-rewards/internal/features/rewards"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [cycle-id]",
	Short: "Show recent cycle records",
	Long:  `Without an argument lists the most recent cycles, newest first. With a cycle id prints that record as JSON.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of cycles to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		rec, err := e.history.Get(args[0])
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("cycle %s not found", args[0])
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	records, err := e.history.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No cycles recorded yet")
		return nil
	}
	for _, rec := range records {
		var ok, failed int
		for _, rc := range rec.Recipients {
			switch rc.Status {
			case rewards.StatusSuccess:
				ok++
			case rewards.StatusFailed:
				failed++
			}
		}
		line := fmt.Sprintf("%s  %s  distributed %s  paid %d  failed %d  eligible %d/%d",
			rec.ID, rec.StartedAt.Format(time.RFC3339), rewards.FormatSOL(rec.TotalDistributed),
			ok, failed, rec.EligibleCount, rec.TotalHolders)
		if rec.Settlement != nil {
			line += "  settled " + rewards.FormatSOL(rec.Settlement.ReceivedNative)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
