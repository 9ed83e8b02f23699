package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	logging "nuke-rewards/internal/infra/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nuke_rewards_build_info",
			Help: "Build information of the reward engine",
		},
		[]string{"version"},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nuke_rewards_cycles_total",
			Help: "Total number of reward cycle attempts by outcome",
		},
		[]string{"outcome"}, // completed, skipped_running, skipped_interval, failed
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nuke_rewards_cycle_duration_seconds",
			Help:    "Duration of completed reward cycles",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		},
	)

	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nuke_rewards_payouts_total",
			Help: "Total number of payouts by status",
		},
		[]string{"status"}, // success, skipped, failed
	)

	LamportsDistributed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nuke_rewards_lamports_distributed_total",
			Help: "Lamports paid out to holders",
		},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nuke_rewards_settlements_total",
			Help: "Total number of tax settlement passes by outcome",
		},
		[]string{"outcome"}, // settled, noop, failed
	)

	LedgerOutstanding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nuke_rewards_ledger_outstanding_sol",
			Help: "Total accumulated rewards owed but not yet paid, in SOL",
		},
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nuke_rewards_rpc_requests_total",
			Help: "Outbound RPC and HTTP requests by client and status",
		},
		[]string{"client", "status"},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.LogInfo("Prometheus metrics server listening", zap.String("address", listener.Addr().String()))
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.LogError("Metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}
