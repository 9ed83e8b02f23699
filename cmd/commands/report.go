package commands

// Command to post the daily rewards report now

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Send the daily rewards report to Telegram now",
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	reporter, err := e.reporter()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := reporter.Send(ctx); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Report sent")
	return nil
}
