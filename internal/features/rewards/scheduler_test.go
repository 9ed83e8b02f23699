package rewards

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"nuke-rewards/internal/chain"
	"nuke-rewards/internal/chain/chaintest"
	"nuke-rewards/internal/infra/store"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	clock    *clockwork.FakeClock
	chain    *chaintest.Chain
	notifier *chaintest.Notifier
	kv       store.KV
	ledger   *Ledger
	history  *KVHistory
	s        *Scheduler
}

// newSchedulerFixture prices the token at 5 SOL and seeds three owners holding
// 0.1, 0.3 and 0.6 tokens.
func newSchedulerFixture(t *testing.T, settlement func(*schedulerFixture) *TaxSettlementPipeline) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		chain:    chaintest.NewChain(100_000_000_000),
		notifier: &chaintest.Notifier{},
	}
	f.chain.Reserves[testPool] = chain.PoolReserves{
		A: chaintest.Side(testMint, 1_000_000, 6),
		B: chaintest.Side(nativeMint, 5_000_000_000, 9),
	}
	f.chain.Accounts = []chain.RawAccount{
		chaintest.Account("acc1", "o1", 100_000, 6),
		chaintest.Account("acc2", "o2", 300_000, 6),
		chaintest.Account("acc3", "o3", 600_000, 6),
	}

	kv, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	f.kv = kv
	f.ledger, err = NewLedger(kv, f.clock, 3)
	require.NoError(t, err)
	f.history = NewKVHistory(kv, 10)

	registry, err := NewHolderRegistry(RegistryConfig{Client: f.chain, Clock: f.clock, Mint: testMint})
	require.NoError(t, err)
	executor, err := NewPayoutExecutor(ExecutorConfig{
		Client:        f.chain,
		Clock:         f.clock,
		FundingWallet: fundingWallet,
		FeeEstimate:   5_000,
		Concurrency:   1,
	})
	require.NoError(t, err)

	cfg := SchedulerConfig{
		Registry:         registry,
		Oracle:           newTestOracle(t, f.chain, f.clock),
		Ledger:           f.ledger,
		Executor:         executor,
		History:          f.history,
		State:            kv,
		Notifier:         f.notifier,
		Clock:            f.clock,
		MinInterval:      6 * time.Hour,
		PollInterval:     5 * time.Minute,
		MinHoldingNative: decimal.RequireFromString("0.01"),
		MinPayout:        1_000_000,
	}
	if settlement != nil {
		cfg.Settlement = settlement(f)
	}
	f.s, err = NewScheduler(cfg)
	require.NoError(t, err)
	return f
}

func (f *schedulerFixture) setPool(t *testing.T, lamports uint64) {
	t.Helper()
	st, err := f.s.State()
	require.NoError(t, err)
	st.RewardPool = lamports
	require.NoError(t, f.s.saveState(st))
}

func failWallet(wallet string) func(string) error {
	return func(to string) error {
		if to == wallet {
			return errors.New("connection reset by peer")
		}
		return nil
	}
}

func TestRunCycle_FailedRecipientIsAccumulated(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.setPool(t, 1_000_000_000)
	f.chain.FailTransfer = failWallet("o2")

	report, err := f.s.RunCycle(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, report.Outcome)

	assert.Equal(t, []string{"o3", "o1"}, wallets(report.Execution.Succeeded))
	assert.Equal(t, []string{"o2"}, wallets(report.Execution.Failed))
	assert.Len(t, f.chain.TransfersTo("o1"), 1)
	assert.Equal(t, uint64(600_000_000), f.chain.TransfersTo("o3")[0].Lamports)

	entries, err := f.ledger.Entries()
	require.NoError(t, err)
	require.Contains(t, entries, "o2")
	assert.Equal(t, "0.3", entries["o2"].Amount.String())
	assert.Equal(t, 1, entries["o2"].RetryCount)
	assert.NotContains(t, entries, "o1")
	assert.NotContains(t, entries, "o3")

	st, err := f.s.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.RewardPool)
	assert.True(t, st.LastRunAt.Equal(f.clock.Now()))

	rec, err := f.history.Get(report.Record.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, uint64(700_000_000), rec.TotalDistributed)
	assert.Equal(t, 3, rec.EligibleCount)
	assert.Len(t, rec.Recipients, 3)
	assert.Equal(t, 1, f.notifier.Count())
}

func TestRunCycle_SingleFlight(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.setPool(t, 1_000_000_000)
	f.s.running.Store(true)

	report, err := f.s.RunCycle(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedRunning, report.Outcome)
	assert.Equal(t, 0, f.chain.TransferCount())
	assert.Equal(t, 0, f.chain.AccountsN)
}

func TestRunCycle_ConcurrentCallsRunOnce(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.setPool(t, 1_000_000_000)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.chain.FailTransfer = func(string) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}

	type result struct {
		report *CycleReport
		err    error
	}
	first := make(chan result, 1)
	go func() {
		report, err := f.s.RunCycle(context.Background(), true)
		first <- result{report, err}
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never reached the payout step")
	}
	assert.True(t, f.s.Running())

	second, err := f.s.RunCycle(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedRunning, second.Outcome)
	close(release)

	var got result
	select {
	case got = <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not finish")
	}
	require.NoError(t, got.err)
	assert.Equal(t, OutcomeCompleted, got.report.Outcome)
	assert.Len(t, got.report.Execution.Succeeded, 3)
	assert.Equal(t, 3, f.chain.TransferCount())
	assert.Equal(t, 1, f.chain.AccountsN)
	assert.False(t, f.s.Running())

	records, err := f.history.List(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRunCycle_BlacklistedTokenAccount(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.s.cfg.Blacklist = NewBlacklist([]string{"acc3"})
	f.setPool(t, 1_000_000_000)

	report, err := f.s.RunCycle(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, report.Outcome)

	assert.Empty(t, f.chain.TransfersTo("o3"))
	assert.Equal(t, []string{"o2", "o1"}, wallets(report.Execution.Succeeded))
	// the whole pool is split between the two remaining owners
	assert.Equal(t, uint64(750_000_000), f.chain.TransfersTo("o2")[0].Lamports)
	assert.Equal(t, uint64(250_000_000), f.chain.TransfersTo("o1")[0].Lamports)

	rec := report.Record
	assert.Equal(t, 1, rec.BlacklistedCount)
	assert.Equal(t, 2, rec.EligibleCount)
	assert.Equal(t, 0, rec.ExcludedCount)
	assert.Equal(t, 3, rec.TotalHolders)
}

func TestRunCycle_TotalHoldersCountsOwners(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.chain.Accounts = append(f.chain.Accounts, chaintest.Account("acc4", "o3", 100_000, 6))
	f.setPool(t, 1_000_000_000)

	report, err := f.s.RunCycle(context.Background(), false)
	require.NoError(t, err)

	rec := report.Record
	assert.Equal(t, 3, rec.TotalHolders)
	assert.Equal(t, rec.TotalHolders, rec.EligibleCount+rec.ExcludedCount+rec.BlacklistedCount)
	assert.Len(t, f.chain.TransfersTo("o3"), 1)
}

func TestRunCycle_IntervalGate(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()

	report, err := f.s.RunCycle(ctx, false)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, report.Outcome)
	firstRun := f.clock.Now()

	f.clock.Advance(time.Hour)
	report, err = f.s.RunCycle(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedInterval, report.Outcome)
	assert.True(t, report.NextEligible.Equal(firstRun.Add(6*time.Hour)))

	f.clock.Advance(5 * time.Hour)
	report, err = f.s.RunCycle(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
}

func TestRunCycle_ForceBypassesInterval(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()

	_, err := f.s.RunCycle(ctx, false)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.setPool(t, 1_000_000_000)
	report, err := f.s.RunCycle(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 3, f.chain.TransferCount())
}

func TestRunCycle_PricingUnavailableLeavesStateUntouched(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.setPool(t, 1_000_000_000)
	require.NoError(t, f.ledger.Add("o1", sol("0.002")))
	delete(f.chain.Reserves, testPool)

	report, err := f.s.RunCycle(context.Background(), false)
	require.ErrorIs(t, err, ErrPricingUnavailable)
	assert.Nil(t, report)
	assert.Equal(t, 0, f.chain.TransferCount())

	st, err := f.s.State()
	require.NoError(t, err)
	assert.True(t, st.LastRunAt.IsZero())
	assert.Equal(t, uint64(1_000_000_000), st.RewardPool)

	owed, err := f.ledger.Get("o1")
	require.NoError(t, err)
	assert.Equal(t, "0.002", owed.String())

	records, err := f.history.List(0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.False(t, f.s.Running())
}

func TestRunCycle_DustAccumulates(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.setPool(t, 1_000_000)

	report, err := f.s.RunCycle(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, f.chain.TransferCount())
	assert.Empty(t, report.Execution.Succeeded)

	for wallet, want := range map[string]string{"o1": "0.0001", "o2": "0.0003", "o3": "0.0006"} {
		got, err := f.ledger.Get(wallet)
		require.NoError(t, err)
		assert.Equal(t, want, got.String(), wallet)
	}

	// dust grows until o3 crosses the minimum payout
	f.clock.Advance(7 * time.Hour)
	f.setPool(t, 1_000_000)
	_, err = f.s.RunCycle(context.Background(), false)
	require.NoError(t, err)

	transfers := f.chain.TransfersTo("o3")
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(1_200_000), transfers[0].Lamports)
	owed, err := f.ledger.Get("o3")
	require.NoError(t, err)
	assert.True(t, owed.IsZero())
}

func TestRunCycle_SettlementFundsNextPool(t *testing.T) {
	swap := &chaintest.Swap{AmountOut: 450_000_000}
	f := newSchedulerFixture(t, func(f *schedulerFixture) *TaxSettlementPipeline {
		p, err := NewTaxSettlementPipeline(SettlementConfig{
			Client:         f.chain,
			Swap:           swap,
			Tax:            &chaintest.Tax{Balance: big.NewInt(100_000)},
			Clock:          f.clock,
			TokenMint:      testMint,
			Pool:           testPool,
			MinHarvest:     1_000,
			SwapPortionBps: 10_000,
			RewardShareBps: 8_000,
			SlippageBps:    100,
			TreasuryWallet: treasuryWallet,
		})
		require.NoError(t, err)
		return p
	})

	report, err := f.s.RunCycle(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, report.Record.Settlement)
	assert.Equal(t, uint64(360_000_000), report.Record.Settlement.RewardPortion)
	require.Len(t, swap.Calls, 1)

	st, err := f.s.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(360_000_000), st.RewardPool)
	assert.Equal(t, uint64(0), st.PendingTreasury)
	assert.Len(t, f.chain.TransfersTo(treasuryWallet), 1)
	assert.Equal(t, 2, f.notifier.Count())
}

func TestRunCycle_ShortFillProceedsReachPool(t *testing.T) {
	swap := &chaintest.Swap{AmountOut: 400_000_000}
	f := newSchedulerFixture(t, func(f *schedulerFixture) *TaxSettlementPipeline {
		p, err := NewTaxSettlementPipeline(SettlementConfig{
			Client:         f.chain,
			Swap:           swap,
			Tax:            &chaintest.Tax{Balance: big.NewInt(100_000)},
			Clock:          f.clock,
			TokenMint:      testMint,
			Pool:           testPool,
			SwapPortionBps: 10_000,
			RewardShareBps: 8_000,
			SlippageBps:    100,
			TreasuryWallet: treasuryWallet,
		})
		require.NoError(t, err)
		return p
	})

	report, err := f.s.RunCycle(context.Background(), false)
	require.NoError(t, err)
	require.ErrorIs(t, report.SettlementErr, ErrSlippageExceeded)
	require.NotNil(t, report.Record.Settlement)
	assert.Equal(t, "swap-1", report.Record.Settlement.SwapTxRef)
	assert.Equal(t, uint64(400_000_000), report.Record.Settlement.ReceivedNative)

	st, err := f.s.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(320_000_000), st.RewardPool)
	assert.Equal(t, uint64(0), st.PendingTreasury)

	rec, err := f.history.Get(report.Record.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.Settlement)
	assert.Equal(t, "swap-1", rec.Settlement.SwapTxRef)
}

func TestRunCycle_SettlementFailureDoesNotFailCycle(t *testing.T) {
	f := newSchedulerFixture(t, func(f *schedulerFixture) *TaxSettlementPipeline {
		p, err := NewTaxSettlementPipeline(SettlementConfig{
			Client:         f.chain,
			Swap:           &chaintest.Swap{Err: errors.New("route not found")},
			Tax:            &chaintest.Tax{Balance: big.NewInt(100_000)},
			Clock:          f.clock,
			TokenMint:      testMint,
			Pool:           testPool,
			SwapPortionBps: 10_000,
			RewardShareBps: 8_000,
			SlippageBps:    100,
		})
		require.NoError(t, err)
		return p
	})
	f.setPool(t, 1_000_000_000)

	report, err := f.s.RunCycle(context.Background(), false)
	require.NoError(t, err)
	assert.Error(t, report.SettlementErr)
	assert.Nil(t, report.Record.Settlement)
	assert.Len(t, report.Execution.Succeeded, 3)
}

func TestRunCycle_FlagNotifiedOnce(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.setPool(t, 1_000_000_000)
	f.chain.FailTransfer = failWallet("o2")

	for i := 0; i < 4; i++ {
		_, err := f.s.RunCycle(context.Background(), true)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	entries, err := f.ledger.Entries()
	require.NoError(t, err)
	assert.Equal(t, 4, entries["o2"].RetryCount)
	assert.True(t, entries["o2"].Flagged)
	assert.Equal(t, "0.3", entries["o2"].Amount.String())

	flagged := 0
	for _, m := range f.notifier.Messages {
		if strings.Contains(m, "flagged") {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)
}

func TestRunCycle_BalancePoolMode(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.s.cfg.PoolFromBalance = true
	f.s.cfg.Client = f.chain
	f.s.cfg.FundingWallet = fundingWallet
	f.s.cfg.ReserveLamports = 98_000_000_000
	f.chain.Balance = 100_000_000_000
	require.NoError(t, f.ledger.Add("o9", sol("1")))

	report, err := f.s.RunCycle(context.Background(), false)
	require.NoError(t, err)
	// 100 - 98 reserve - 1 owed leaves 1 SOL to share
	assert.Equal(t, uint64(1_000_000_000), report.Record.PoolAmount)
	assert.Equal(t, uint64(600_000_000), f.chain.TransfersTo("o3")[0].Lamports)
	assert.Equal(t, uint64(1_000_000_000), f.chain.TransfersTo("o9")[0].Lamports)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.s.Run(ctx)
		close(done)
	}()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	st, err := f.s.State()
	require.NoError(t, err)
	assert.False(t, st.LastRunAt.IsZero())
}
