package rewards

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"nuke-rewards/internal/chain"
	logging "nuke-rewards/internal/infra/log"
	"nuke-rewards/internal/infra/metrics"
	"nuke-rewards/internal/infra/store"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const StateKey = "scheduler_state"

// SchedulerState is the persisted part of the run state machine.
type SchedulerState struct {
	LastRunAt       time.Time `json:"last_run_at"`
	LastCycleID     string    `json:"last_cycle_id,omitempty"`
	RewardPool      uint64    `json:"reward_pool"`      // lamports waiting for the next cycle
	PendingTreasury uint64    `json:"pending_treasury"` // lamports owed to the treasury
}

type CycleOutcome string

const (
	OutcomeCompleted       CycleOutcome = "completed"
	OutcomeSkippedRunning  CycleOutcome = "skipped_running"
	OutcomeSkippedInterval CycleOutcome = "skipped_interval"
	OutcomeFailed          CycleOutcome = "failed"
)

// CycleReport is the summary handed to callers, notifications and the CLI.
type CycleReport struct {
	Outcome       CycleOutcome
	Record        *CycleRecord
	Execution     ExecutionResult
	NewlyFlagged  []string
	SettlementErr error
	NextEligible  time.Time // set when skipped on interval
}

// RateSource is the subset of PriceOracle the scheduler needs.
type RateSource interface {
	GetRate(ctx context.Context) *Rate
}

type SchedulerConfig struct {
	Registry   *HolderRegistry
	Oracle     RateSource
	USDOracle  RateSource // optional native/USD quote
	Ledger     *Ledger
	Executor   *PayoutExecutor
	Settlement *TaxSettlementPipeline // optional, nil disables tax settlement
	History    HistoryStore
	State      store.KV
	Notifier   chain.Notifier
	Clock      clockwork.Clock
	Blacklist  Blacklist

	MinInterval      time.Duration
	PollInterval     time.Duration
	MinHoldingNative decimal.Decimal
	MinHoldingUSD    decimal.Decimal // wins over MinHoldingNative when a USD quote is available
	MinPayout        uint64

	// PoolFromBalance distributes the funding wallet balance above ReserveLamports,
	// minus what the ledger and treasury are owed, instead of the settlement pool.
	PoolFromBalance bool
	ReserveLamports uint64
	Client          chain.ChainClient
	FundingWallet   string
}

func (cfg *SchedulerConfig) Validate() error {
	if cfg.Registry == nil || cfg.Oracle == nil || cfg.Ledger == nil || cfg.Executor == nil {
		return errors.New("registry, oracle, ledger and executor are required")
	}
	if cfg.History == nil || cfg.State == nil {
		return errors.New("history and state stores are required")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll interval must be greater than 0")
	}
	if cfg.PoolFromBalance && (cfg.Client == nil || cfg.FundingWallet == "") {
		return errors.New("balance pool mode needs a chain client and funding wallet")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = chain.NopNotifier{}
	}
	if cfg.Blacklist == nil {
		cfg.Blacklist = Blacklist{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Scheduler drives reward cycles: Idle -> Running -> Idle. At most one cycle
// runs at a time in this process, and cycles are at least MinInterval apart.
type Scheduler struct {
	cfg     SchedulerConfig
	running atomic.Bool
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{cfg: cfg}, nil
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) State() (SchedulerState, error) {
	var st SchedulerState
	if _, err := store.LoadJSON(s.cfg.State, StateKey, &st); err != nil {
		return SchedulerState{}, err
	}
	return st, nil
}

func (s *Scheduler) saveState(st SchedulerState) error {
	return store.SaveJSON(s.cfg.State, StateKey, st)
}

// Run ticks immediately and then every PollInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	logging.LogInfo("Reward scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("min_interval", s.cfg.MinInterval))

	s.safeTick(ctx)

	ticker := s.cfg.Clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.LogInfo("Reward scheduler stopped")
			return
		case <-ticker.Chan():
			s.safeTick(ctx)
		}
	}
}

// Start runs the scheduler loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	go s.Run(ctx)
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogError("Reward cycle panicked", zap.Any("panic", r))
			metrics.CyclesTotal.WithLabelValues("panic").Inc()
		}
	}()

	if _, err := s.RunCycle(ctx, false); err != nil {
		logging.LogError("Reward cycle failed", zap.Error(err))
	}
}

// RunCycle runs one full cycle. Being already running or inside MinInterval is
// a no-op reported through the outcome, not an error. force skips the interval
// gate but never the single-flight gate.
func (s *Scheduler) RunCycle(ctx context.Context, force bool) (*CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		logging.LogDebug("Reward cycle already running, tick ignored")
		metrics.CyclesTotal.WithLabelValues(string(OutcomeSkippedRunning)).Inc()
		return &CycleReport{Outcome: OutcomeSkippedRunning}, nil
	}
	defer s.running.Store(false)

	st, err := s.State()
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		return nil, errors.Wrap(err, "loading scheduler state")
	}

	now := s.cfg.Clock.Now()
	if !force && !st.LastRunAt.IsZero() && now.Sub(st.LastRunAt) < s.cfg.MinInterval {
		metrics.CyclesTotal.WithLabelValues(string(OutcomeSkippedInterval)).Inc()
		return &CycleReport{Outcome: OutcomeSkippedInterval, NextEligible: st.LastRunAt.Add(s.cfg.MinInterval)}, nil
	}

	report, err := s.runCycle(ctx, st, now)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		if report == nil {
			return nil, err
		}
		return report, err
	}
	metrics.CyclesTotal.WithLabelValues(string(OutcomeCompleted)).Inc()
	metrics.CycleDuration.Observe(s.cfg.Clock.Since(now).Seconds())
	return report, nil
}

func (s *Scheduler) runCycle(ctx context.Context, st SchedulerState, startedAt time.Time) (*CycleReport, error) {
	id := CycleID(startedAt)
	log := logging.CycleLogger(id)
	log.Info("Reward cycle started", zap.Uint64("reward_pool", st.RewardPool))

	holders, err := s.cfg.Registry.ListHolders(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing holders")
	}
	aggregated := AggregateByOwner(holders)

	rate := s.cfg.Oracle.GetRate(ctx)
	var nativeUSD *Rate
	if s.cfg.USDOracle != nil {
		nativeUSD = s.cfg.USDOracle.GetRate(ctx)
	}

	minNative := s.cfg.MinHoldingNative
	if threshold, ok := NativeThreshold(s.cfg.MinHoldingUSD, nativeUSD); ok {
		minNative = threshold
	}

	class, err := Classify(aggregated, s.cfg.Blacklist, minNative, rate)
	if err != nil {
		log.Warn("Classification aborted", zap.Error(err))
		return nil, errors.Wrap(err, "classifying holders")
	}
	log.Info("Holders classified",
		zap.Int("accounts", len(holders)),
		zap.Int("holders", len(aggregated)),
		zap.Int("eligible", len(class.Eligible)),
		zap.Int("excluded", len(class.Excluded)),
		zap.Int("blacklisted", len(class.Blacklisted)),
		zap.String("min_value_sol", minNative.String()))

	poolLamports, err := s.poolAmount(ctx, st)
	if err != nil {
		return nil, err
	}

	dist := Compute(class.Eligible, new(big.Int).SetUint64(poolLamports), s.cfg.MinPayout)
	merged, err := MergeUnpaid(dist, s.cfg.Ledger, s.cfg.MinPayout, startedAt)
	if err != nil {
		return nil, err
	}
	log.Info("Payouts queued",
		zap.Uint64("pool_lamports", poolLamports),
		zap.Int("payouts", len(merged.Payouts)),
		zap.Int("dust", len(merged.Accumulate)),
		zap.String("remainder", dist.Remainder.String()))

	exec := s.cfg.Executor.Execute(ctx, merged.Payouts)

	// End of the core distribution step: the pool is spent whatever happened to
	// individual transfers, since unpaid shares move into the ledger below.
	if !s.cfg.PoolFromBalance {
		st.RewardPool = dist.Remainder.Uint64()
	}
	st.LastRunAt = s.cfg.Clock.Now()
	st.LastCycleID = id
	if err := s.saveState(st); err != nil {
		return nil, errors.Wrap(err, "persisting scheduler state")
	}

	report := &CycleReport{Outcome: OutcomeCompleted, Execution: exec}
	var persistErr error
	report.NewlyFlagged, persistErr = s.applyOutcomes(exec, merged.Accumulate)

	var settlement *SettlementRecord
	if s.cfg.Settlement != nil {
		settlement, err = s.cfg.Settlement.Settle(ctx, st.PendingTreasury)
		if err != nil {
			report.SettlementErr = err
			fields := []zap.Field{zap.String("stage", "settlement"), zap.Error(err)}
			if settlement != nil {
				fields = append(fields,
					zap.String("swap_tx", settlement.SwapTxRef),
					zap.Uint64("received_lamports", settlement.ReceivedNative))
			}
			log.Error("Tax settlement failed", fields...)
		}
		if settlement != nil {
			if !s.cfg.PoolFromBalance {
				st.RewardPool += settlement.RewardPortion
			}
			st.PendingTreasury = settlement.TreasuryPending
			if err := s.saveState(st); err != nil {
				persistErr = errors.CombineErrors(persistErr, errors.Wrap(err, "persisting settlement into scheduler state"))
			}
		}
	}

	record := s.buildRecord(id, startedAt, class, rate, nativeUSD, poolLamports, dist, exec)
	record.Settlement = settlement
	report.Record = record
	if _, err := s.cfg.History.Append(*record); err != nil {
		persistErr = errors.CombineErrors(persistErr, errors.Wrap(err, "appending cycle history"))
	}

	if total, err := s.cfg.Ledger.Total(); err == nil {
		metrics.LedgerOutstanding.Set(total.InexactFloat64())
	}
	metrics.LamportsDistributed.Add(float64(exec.PaidLamports()))

	s.notify(ctx, report)

	log.Info("Reward cycle finished",
		zap.Int("succeeded", len(exec.Succeeded)),
		zap.Int("skipped", len(exec.Skipped)),
		zap.Int("failed", len(exec.Failed)),
		zap.Uint64("distributed_lamports", record.TotalDistributed))
	logging.LogSuccess("Reward cycle completed",
		zap.String("cycle_id", id),
		zap.Int("recipients", len(exec.Succeeded)),
		zap.Int64("duration_ms", s.cfg.Clock.Since(startedAt).Milliseconds()))

	return report, persistErr
}

// poolAmount picks the lamports to distribute this cycle.
func (s *Scheduler) poolAmount(ctx context.Context, st SchedulerState) (uint64, error) {
	if !s.cfg.PoolFromBalance {
		return st.RewardPool, nil
	}

	balance, err := s.cfg.Client.NativeBalance(ctx, s.cfg.FundingWallet)
	if err != nil {
		return 0, errors.Wrap(err, "reading funding balance")
	}
	owed, err := s.cfg.Ledger.Total()
	if err != nil {
		return 0, err
	}
	committed := s.cfg.ReserveLamports + SOLToLamports(owed) + st.PendingTreasury
	if balance <= committed {
		return 0, nil
	}
	return balance - committed, nil
}

// applyOutcomes moves every unpaid amount into the ledger and clears paid
// wallets. It keeps going after a write error and returns them combined.
func (s *Scheduler) applyOutcomes(exec ExecutionResult, dust []Share) (flagged []string, err error) {
	for _, p := range exec.Succeeded {
		if e := s.cfg.Ledger.Clear(p.Wallet); e != nil {
			err = errors.CombineErrors(err, errors.Wrapf(e, "clearing %s", p.Wallet))
		}
	}
	for _, p := range exec.Skipped {
		if p.NewAmount == 0 {
			continue
		}
		if e := s.cfg.Ledger.Add(p.Wallet, LamportsToSOL(p.NewAmount)); e != nil {
			err = errors.CombineErrors(err, errors.Wrapf(e, "accumulating skipped payout for %s", p.Wallet))
		}
	}
	for _, p := range exec.Failed {
		if p.NewAmount > 0 {
			if e := s.cfg.Ledger.Add(p.Wallet, LamportsToSOL(p.NewAmount)); e != nil {
				err = errors.CombineErrors(err, errors.Wrapf(e, "accumulating failed payout for %s", p.Wallet))
				continue
			}
		}
		entry, newlyFlagged, e := s.cfg.Ledger.RecordFailure(p.Wallet, p.Err)
		if e != nil {
			err = errors.CombineErrors(err, errors.Wrapf(e, "recording failure for %s", p.Wallet))
			continue
		}
		if newlyFlagged {
			flagged = append(flagged, p.Wallet)
			logging.LogWarn("Wallet flagged after repeated payout failures",
				zap.String("wallet", p.Wallet),
				zap.Int("retry_count", entry.RetryCount),
				zap.String("owed_sol", entry.Amount.String()))
		}
	}
	for _, d := range dust {
		if e := s.cfg.Ledger.Add(d.Wallet, LamportsToSOL(d.Amount)); e != nil {
			err = errors.CombineErrors(err, errors.Wrapf(e, "accumulating dust for %s", d.Wallet))
		}
	}
	return flagged, err
}

func (s *Scheduler) buildRecord(id string, startedAt time.Time, class Classification,
	rate, nativeUSD *Rate, pool uint64, dist Distribution, exec ExecutionResult) *CycleRecord {
	record := &CycleRecord{
		ID:               id,
		StartedAt:        startedAt,
		FinishedAt:       s.cfg.Clock.Now(),
		TotalDistributed: exec.PaidLamports(),
		EligibleCount:    len(class.Eligible),
		ExcludedCount:    len(class.Excluded),
		BlacklistedCount: len(class.Blacklisted),
		TotalHolders:     len(class.Eligible) + len(class.Excluded) + len(class.Blacklisted),
		TokenPriceNative: rate.Value.String(),
		PoolAmount:       pool,
		Remainder:        dist.Remainder.Uint64(),
	}
	if nativeUSD != nil {
		record.TokenPriceUSD = rate.Value.Mul(nativeUSD.Value).String()
	}
	for _, group := range [][]PendingPayout{exec.Succeeded, exec.Skipped, exec.Failed} {
		for _, p := range group {
			record.Recipients = append(record.Recipients, RecipientDetail{
				Wallet: p.Wallet,
				Amount: p.Amount,
				Status: p.Status,
				TxRef:  p.TxRef,
				Err:    p.Err,
			})
		}
	}
	return record
}

func (s *Scheduler) notify(ctx context.Context, report *CycleReport) {
	messages := []string{FormatCycleSummary(report.Record)}
	if report.Record.Settlement != nil {
		messages = append(messages, FormatSettlement(report.Record.Settlement))
	}
	if len(report.NewlyFlagged) > 0 {
		messages = append(messages, FormatFlagged(report.NewlyFlagged))
	}
	for _, m := range messages {
		if err := s.cfg.Notifier.Notify(ctx, m); err != nil {
			logging.LogWarn("Failed to send notification", zap.Error(err))
		}
	}
}
