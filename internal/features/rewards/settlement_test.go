package rewards

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"nuke-rewards/internal/chain"
	"nuke-rewards/internal/chain/chaintest"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const treasuryWallet = "treasury"

type settlementFixture struct {
	chain *chaintest.Chain
	swap  *chaintest.Swap
	tax   *chaintest.Tax
	p     *TaxSettlementPipeline
}

func newSettlementFixture(t *testing.T, withheld int64) *settlementFixture {
	t.Helper()
	f := &settlementFixture{
		chain: chaintest.NewChain(100_000_000_000),
		swap:  &chaintest.Swap{AmountOut: 900_000_000},
		tax:   &chaintest.Tax{Balance: big.NewInt(withheld)},
	}
	f.chain.Reserves[testPool] = chain.PoolReserves{
		A: chaintest.Side(testMint, 1_000_000_000, 6),
		B: chaintest.Side(nativeMint, 10_000_000_000, 9),
	}

	p, err := NewTaxSettlementPipeline(SettlementConfig{
		Client:         f.chain,
		Swap:           f.swap,
		Tax:            f.tax,
		Clock:          clockwork.NewFakeClock(),
		TokenMint:      testMint,
		Pool:           testPool,
		MinHarvest:     1_000,
		SwapPortionBps: 10_000,
		RewardShareBps: 8_000,
		SlippageBps:    100,
		TreasuryWallet: treasuryWallet,
	})
	require.NoError(t, err)
	f.p = p
	return f
}

func TestSettle_HappyPath(t *testing.T) {
	f := newSettlementFixture(t, 100_000_000)

	rec, err := f.p.Settle(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.Len(t, f.swap.Calls, 1)
	assert.Equal(t, "100000000", f.swap.Calls[0].AmountIn.String())
	// 10e9 * 1e8 / 1.1e9 = 909090909, less 1% slippage
	assert.Equal(t, uint64(899_999_999), f.swap.Calls[0].MinOut)

	assert.Equal(t, "100000000", rec.TotalTaxHarvested)
	assert.Equal(t, uint64(900_000_000), rec.ReceivedNative)
	assert.Equal(t, uint64(720_000_000), rec.RewardPortion)
	assert.Equal(t, uint64(180_000_000), rec.TreasuryPortion)
	assert.Equal(t, uint64(0), rec.TreasuryPending)
	assert.NotEmpty(t, rec.SwapTxRef)
	assert.NotEmpty(t, rec.DistributionTxRef)

	transfers := f.chain.TransfersTo(treasuryWallet)
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(180_000_000), transfers[0].Lamports)
}

func TestSettle_NothingToHarvest(t *testing.T) {
	for _, withheld := range []int64{0, 999} {
		f := newSettlementFixture(t, withheld)
		rec, err := f.p.Settle(context.Background(), 0)
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.Empty(t, f.swap.Calls)
	}
}

func TestSettle_InsufficientLiquidityAbortsBeforeSwap(t *testing.T) {
	f := newSettlementFixture(t, 10_000_000_000)

	rec, err := f.p.Settle(context.Background(), 0)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
	assert.Nil(t, rec)
	assert.Empty(t, f.swap.Calls)
	assert.Equal(t, 0, f.chain.TransferCount())
}

func TestSettle_SwapFailureChangesNothing(t *testing.T) {
	f := newSettlementFixture(t, 100_000_000)
	f.swap.Err = errors.New("route not found")

	rec, err := f.p.Settle(context.Background(), 0)
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 0, f.chain.TransferCount())
}

func TestSettle_FillBelowMinimumKeepsProceeds(t *testing.T) {
	f := newSettlementFixture(t, 100_000_000)
	f.swap.AmountOut = 500_000_000

	rec, err := f.p.Settle(context.Background(), 0)
	require.ErrorIs(t, err, ErrSlippageExceeded)
	require.NotNil(t, rec)
	assert.Equal(t, "swap-1", rec.SwapTxRef)
	assert.Equal(t, uint64(500_000_000), rec.ReceivedNative)
	assert.Equal(t, uint64(400_000_000), rec.RewardPortion)
	assert.Equal(t, uint64(100_000_000), rec.TreasuryPortion)

	transfers := f.chain.TransfersTo(treasuryWallet)
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(100_000_000), transfers[0].Lamports)
}

func TestSettle_TreasuryFailureIsCarried(t *testing.T) {
	f := newSettlementFixture(t, 100_000_000)
	f.chain.FailTransfer = func(string) error { return errors.New("blockhash expired") }

	rec, err := f.p.Settle(context.Background(), 50_000)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, uint64(720_000_000), rec.RewardPortion)
	assert.Equal(t, uint64(180_050_000), rec.TreasuryPending)
	assert.Empty(t, rec.DistributionTxRef)
}

func TestSettle_PendingTreasuryFlushed(t *testing.T) {
	f := newSettlementFixture(t, 100_000_000)

	rec, err := f.p.Settle(context.Background(), 50_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.TreasuryPending)
	transfers := f.chain.TransfersTo(treasuryWallet)
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(180_050_000), transfers[0].Lamports)
}

func TestSettle_TaxReadError(t *testing.T) {
	f := newSettlementFixture(t, 0)
	f.tax.Err = chain.ErrRateLimited

	_, err := f.p.Settle(context.Background(), 0)
	require.ErrorIs(t, err, chain.ErrRateLimited)
}
