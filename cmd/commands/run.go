package commands

// Command to run the reward daemon
// Starts the cycle scheduler, the daily report and the metrics endpoint
// Implements graceful shutdown: an in-flight cycle finishes its current step

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	bot "nuke-rewards/bots_monitor"
	logging "nuke-rewards/internal/infra/log"
	"nuke-rewards/internal/infra/metrics"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reward scheduler daemon",
	Long: `Run reward cycles on the poll interval, never closer than rewards.min_interval apart.
Also serves /metrics when app.metrics_addr is set, posts the daily report when report.enabled
and answers chat commands when telegram.commands is set.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.withScheduler(); err != nil {
		logging.LogError("Failed to start reward engine", zap.Error(err))
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if addr := e.cfg.App.MetricsAddr; addr != "" {
		if err := metrics.Serve(ctx, addr); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	var reportSender bot.ReportSender
	if e.cfg.Report.Enabled {
		reporter, err := e.reporter()
		if err != nil {
			return err
		}
		if err := reporter.Start(ctx); err != nil {
			return err
		}
		defer reporter.Stop()
		reportSender = reporter
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.scheduler.Run(ctx)
	}()

	if e.cfg.Telegram.Commands && e.telegram() != nil {
		handler, err := bot.NewCommandHandler(e.bot, e.cfg.Telegram.ChatID, bot.Deps{
			State:       e.scheduler,
			Ledger:      e.ledger,
			History:     e.history,
			Reporter:    reportSender,
			Clock:       e.clock,
			MinInterval: e.cfg.Rewards.MinInterval,
		})
		if err != nil {
			logging.LogWarn("Command handler not started", zap.Error(err))
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				handler.Run(ctx)
			}()
		}
	}

	logging.LogSuccess("Reward engine is running", zap.String("status", "active"))

	<-ctx.Done()
	logging.LogInfo("Shutdown signal received, waiting for the scheduler to stop...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.LogSuccess("Scheduler stopped gracefully")
	case <-time.After(shutdownTimeout):
		logging.LogWarn("Timeout waiting for the scheduler to stop, forcing shutdown",
			zap.Bool("cycle_running", e.scheduler.Running()))
	}

	return nil
}
