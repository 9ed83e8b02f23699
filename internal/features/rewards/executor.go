package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nuke-rewards/internal/chain"
	logging "nuke-rewards/internal/infra/log"
	"nuke-rewards/internal/infra/metrics"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

type ExecutorConfig struct {
	Client        chain.ChainClient
	Clock         clockwork.Clock
	FundingWallet string
	FeeEstimate   uint64 // lamports per transfer
	Concurrency   int
}

func (cfg *ExecutorConfig) Validate() error {
	if cfg.Client == nil {
		return errors.New("chain client is required")
	}
	if cfg.FundingWallet == "" {
		return errors.New("funding wallet is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type ExecutionResult struct {
	Succeeded []PendingPayout
	Skipped   []PendingPayout // funding exhausted, not the recipient's fault
	Failed    []PendingPayout
}

func (r ExecutionResult) PaidLamports() uint64 {
	var total uint64
	for _, p := range r.Succeeded {
		total += p.Amount
	}
	return total
}

// PayoutExecutor sends one transfer per recipient. A failing recipient never
// stops the batch and nothing is retried within a call.
type PayoutExecutor struct {
	cfg ExecutorConfig

	mu       sync.Mutex
	reserved uint64 // lamports committed to transfers still in flight
}

func NewPayoutExecutor(cfg ExecutorConfig) (*PayoutExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PayoutExecutor{cfg: cfg}, nil
}

func (e *PayoutExecutor) Execute(ctx context.Context, payouts []PendingPayout) ExecutionResult {
	outcomes := xsync.NewMap[int, PendingPayout]()

	pool := pond.NewPool(e.cfg.Concurrency, pond.WithQueueSize(len(payouts)+1))
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	for i, p := range payouts {
		group.Submit(func() {
			outcomes.Store(i, e.executeOne(ctx, p))
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		logging.LogWarn("Payout group finished with error", zap.Error(err))
	}

	var result ExecutionResult
	for i, p := range payouts {
		out, ok := outcomes.Load(i)
		if !ok {
			// never ran: context cancelled before the task was picked up
			out = p
			out.Status = StatusSkipped
			out.Err = "not executed: context cancelled"
		}
		switch out.Status {
		case StatusSuccess:
			result.Succeeded = append(result.Succeeded, out)
		case StatusFailed:
			result.Failed = append(result.Failed, out)
		default:
			result.Skipped = append(result.Skipped, out)
		}
		metrics.PayoutsTotal.WithLabelValues(string(out.Status)).Inc()
	}
	return result
}

func (e *PayoutExecutor) executeOne(ctx context.Context, p PendingPayout) PendingPayout {
	cost := p.Amount + e.cfg.FeeEstimate

	if err := e.reserve(ctx, cost); err != nil {
		p.Status = StatusSkipped
		p.Err = err.Error()
		logging.LogWarn("Payout skipped",
			zap.String("wallet", p.Wallet),
			zap.Uint64("lamports", p.Amount),
			zap.String("stage", "funding_check"),
			zap.Error(err))
		return p
	}
	defer e.release(cost)

	txRef, err := e.cfg.Client.TransferNative(ctx, p.Wallet, p.Amount)
	executedAt := e.cfg.Clock.Now()
	p.ExecutedAt = &executedAt

	if err != nil {
		if errors.Is(err, chain.ErrInsufficientFunds) {
			p.Status = StatusSkipped
		} else {
			p.Status = StatusFailed
		}
		p.Err = err.Error()
		logging.LogError("Payout transfer failed",
			zap.String("wallet", p.Wallet),
			zap.Uint64("lamports", p.Amount),
			zap.String("status", string(p.Status)),
			zap.Int("retry_count", p.RetryCount),
			zap.Error(err))
		return p
	}

	p.Status = StatusSuccess
	p.TxRef = txRef
	logging.LogSuccess("Payout sent",
		zap.String("wallet", p.Wallet),
		zap.Uint64("lamports", p.Amount),
		zap.String("tx", txRef))
	return p
}

// reserve checks the funding balance against cost plus what other in-flight
// transfers have already claimed.
func (e *PayoutExecutor) reserve(ctx context.Context, cost uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	balance, err := e.cfg.Client.NativeBalance(ctx, e.cfg.FundingWallet)
	if err != nil {
		return fmt.Errorf("reading funding balance: %w", err)
	}
	if balance < e.reserved || balance-e.reserved < cost {
		return fmt.Errorf("funding balance %d lamports, %d reserved, need %d: %w",
			balance, e.reserved, cost, chain.ErrInsufficientFunds)
	}
	e.reserved += cost
	return nil
}

func (e *PayoutExecutor) release(cost uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reserved -= cost
}
