package report

// Daily distribution report: a summary of the last 24h of cycles posted to
// the notification chat, with a 7 day bar chart when charts are enabled.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nuke-rewards/internal/features/rewards"
	"nuke-rewards/internal/features/tg_charts"
	logging "nuke-rewards/internal/infra/log"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultCron = "0 10 * * *"
	chartDays   = 7
	runTimeout  = 2 * time.Minute
)

// Sender delivers the report. *telegram.Notifier implements it.
type Sender interface {
	Notify(ctx context.Context, text string) error
	SendChart(ctx context.Context, path, caption string) error
}

type Config struct {
	History  rewards.HistoryStore
	Ledger   *rewards.Ledger // optional
	Sender   Sender
	Clock    clockwork.Clock
	Cron     string
	Chart    bool
	ChartDir string
}

func (cfg *Config) Validate() error {
	if cfg.History == nil {
		return errors.New("history store is required")
	}
	if cfg.Sender == nil {
		return errors.New("report sender is required")
	}
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if cfg.ChartDir == "" {
		cfg.ChartDir = "charts"
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Reporter struct {
	cfg  Config
	cron *cron.Cron
}

func NewReporter(cfg Config) (*Reporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reporter{cfg: cfg}, nil
}

// Start schedules the report on the configured cron schedule until Stop.
func (r *Reporter) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := r.cron.AddFunc(r.cfg.Cron, func() {
		rctx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if err := r.Send(rctx); err != nil {
			logging.LogError("Daily report failed", zap.Error(err))
		}
	})
	if err != nil {
		return errors.Wrapf(err, "invalid report cron %q", r.cfg.Cron)
	}
	r.cron.Start()
	logging.LogInfo("Daily report scheduled", zap.String("cron", r.cfg.Cron), zap.Bool("chart", r.cfg.Chart))
	return nil
}

func (r *Reporter) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Send builds and posts the report now.
func (r *Reporter) Send(ctx context.Context) error {
	now := r.cfg.Clock.Now()
	records, err := r.cfg.History.Since(startOfDay(now).AddDate(0, 0, -(chartDays - 1)))
	if err != nil {
		return errors.Wrap(err, "loading history")
	}

	outstanding := ""
	if r.cfg.Ledger != nil {
		if total, err := r.cfg.Ledger.Total(); err == nil {
			outstanding = total.String()
		}
	}

	summary := Summarize(records, now)
	text := FormatReport(summary, outstanding)

	if !r.cfg.Chart {
		return r.cfg.Sender.Notify(ctx, text)
	}
	path, err := tg_charts.GenerateDistributionChart(summary.Days, summary.Last24hSOL, summary.AvgDailySOL, r.cfg.ChartDir)
	if err != nil {
		logging.LogWarn("Failed to generate rewards chart", zap.Error(err))
		return r.cfg.Sender.Notify(ctx, text)
	}
	return r.cfg.Sender.SendChart(ctx, path, text)
}

// Summary aggregates cycle records for the report.
type Summary struct {
	Cycles        int // in the last 24h
	Last24hSOL    float64
	AvgDailySOL   float64
	Recipients    int
	FailedPayouts int
	SettledSOL    float64
	LastCycleID   string
	Days          []tg_charts.DayTotal
}

// Summarize folds records into 24h figures and one total per day for the last
// chartDays days, oldest first.
func Summarize(records []rewards.CycleRecord, now time.Time) Summary {
	var s Summary
	today := startOfDay(now)
	perDay := make([]float64, chartDays)
	dayCutoff := now.Add(-24 * time.Hour)

	for _, rec := range records {
		sol := rewards.LamportsToSOL(rec.TotalDistributed).InexactFloat64()
		day := int(today.Sub(startOfDay(rec.StartedAt)).Hours() / 24)
		if day >= 0 && day < chartDays {
			perDay[chartDays-1-day] += sol
		}
		if rec.StartedAt.Before(dayCutoff) {
			continue
		}
		s.Cycles++
		s.Last24hSOL += sol
		s.LastCycleID = rec.ID
		for _, rc := range rec.Recipients {
			switch rc.Status {
			case rewards.StatusSuccess:
				s.Recipients++
			case rewards.StatusFailed:
				s.FailedPayouts++
			}
		}
		if rec.Settlement != nil {
			s.SettledSOL += rewards.LamportsToSOL(rec.Settlement.ReceivedNative).InexactFloat64()
		}
	}

	var total float64
	for i, v := range perDay {
		total += v
		s.Days = append(s.Days, tg_charts.DayTotal{
			Label: today.AddDate(0, 0, i-(chartDays-1)).Format("Mon"),
			SOL:   v,
		})
	}
	s.AvgDailySOL = total / chartDays
	return s
}

func FormatReport(s Summary, outstandingSOL string) string {
	var message strings.Builder
	message.WriteString(fmt.Sprintf("📊 <b>Daily rewards report</b>: %s\n", tg_charts.FormatSOL(s.Last24hSOL)))
	message.WriteString("<blockquote>")
	message.WriteString(fmt.Sprintf("Cycles: %d\n", s.Cycles))
	message.WriteString(fmt.Sprintf("Payouts: %d ok / %d failed\n", s.Recipients, s.FailedPayouts))
	message.WriteString(fmt.Sprintf("Tax settled: %s\n", tg_charts.FormatSOL(s.SettledSOL)))
	message.WriteString(fmt.Sprintf("7d average: %s/day", tg_charts.FormatSOL(s.AvgDailySOL)))
	if outstandingSOL != "" {
		message.WriteString(fmt.Sprintf("\nOwed to holders: %s SOL", outstandingSOL))
	}
	if s.LastCycleID != "" {
		message.WriteString(fmt.Sprintf("\nLast cycle: <code>%s</code>", s.LastCycleID))
	}
	message.WriteString("</blockquote>")
	return message.String()
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
