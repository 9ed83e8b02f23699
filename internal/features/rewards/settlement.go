package rewards

import (
	"context"
	"errors"
	"math/big"

	"nuke-rewards/internal/chain"
	logging "nuke-rewards/internal/infra/log"
	"nuke-rewards/internal/infra/metrics"

	cerrors "github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const bpsDenominator = 10_000

type SettlementConfig struct {
	Client         chain.ChainClient
	Swap           chain.SwapClient
	Tax            chain.TaxSource
	Clock          clockwork.Clock
	TokenMint      string
	Pool           chain.Pool // token / native pool the swap routes through
	MinHarvest     uint64     // raw token units
	SwapPortionBps int
	RewardShareBps int
	SlippageBps    int
	TreasuryWallet string
}

func (cfg *SettlementConfig) Validate() error {
	if cfg.Client == nil || cfg.Swap == nil || cfg.Tax == nil {
		return errors.New("chain, swap and tax clients are required")
	}
	if cfg.TokenMint == "" {
		return errors.New("token mint is required")
	}
	if !cfg.Pool.Configured() {
		return errors.New("swap pool is required")
	}
	for _, bps := range []int{cfg.SwapPortionBps, cfg.RewardShareBps, cfg.SlippageBps} {
		if bps < 0 || bps > bpsDenominator {
			return errors.New("basis points must be between 0 and 10000")
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// TaxSettlementPipeline turns harvested transfer fees into native currency and
// splits the proceeds between the reward pool and the treasury.
type TaxSettlementPipeline struct {
	cfg SettlementConfig
}

func NewTaxSettlementPipeline(cfg SettlementConfig) (*TaxSettlementPipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TaxSettlementPipeline{cfg: cfg}, nil
}

// Settle runs one harvest -> quote -> swap -> split -> treasury pass.
// It returns nil, nil when there is nothing to harvest. Every failure before
// the swap leaves all state as it was; the withheld balance stays with the
// tax source for the next attempt. pendingTreasury is added to this pass's
// treasury transfer; if that transfer fails the record carries the amount in
// TreasuryPending. A swap that fills below the quoted minimum returns both the
// record and an ErrSlippageExceeded error.
func (p *TaxSettlementPipeline) Settle(ctx context.Context, pendingTreasury uint64) (*SettlementRecord, error) {
	withheld, err := p.cfg.Tax.WithheldBalance(ctx)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		return nil, cerrors.Wrap(err, "reading withheld balance")
	}
	if withheld == nil || withheld.Sign() <= 0 || withheld.Cmp(new(big.Int).SetUint64(p.cfg.MinHarvest)) < 0 {
		logging.LogDebug("Nothing to settle", zap.String("withheld", bigString(withheld)))
		metrics.SettlementsTotal.WithLabelValues("noop").Inc()
		return nil, nil
	}

	amountIn := mulBps(withheld, p.cfg.SwapPortionBps)
	if amountIn.Sign() <= 0 {
		metrics.SettlementsTotal.WithLabelValues("noop").Inc()
		return nil, nil
	}

	minOut, err := p.quote(ctx, amountIn)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	swap, err := p.cfg.Swap.Swap(ctx, amountIn, minOut)
	if err != nil && !(cerrors.Is(err, chain.ErrFillBelowMinimum) && swap.TxRef != "") {
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		return nil, cerrors.Wrapf(err, "swapping %s tokens", amountIn)
	}
	// A short fill has already executed. Its proceeds are settled like any
	// other and the record goes back together with the error.
	var fillErr error
	if err != nil || swap.AmountOut < minOut {
		fillErr = cerrors.Wrapf(ErrSlippageExceeded, "got %d, want at least %d (tx %s)", swap.AmountOut, minOut, swap.TxRef)
		logging.LogError("Swap filled below minimum output",
			zap.String("tx", swap.TxRef),
			zap.Uint64("amount_out", swap.AmountOut),
			zap.Uint64("min_out", minOut))
	}

	reward := mulBps(new(big.Int).SetUint64(swap.AmountOut), p.cfg.RewardShareBps).Uint64()
	treasuryShare := swap.AmountOut - reward

	record := &SettlementRecord{
		TotalTaxHarvested: withheld.String(),
		SwappedAmount:     amountIn.String(),
		ReceivedNative:    swap.AmountOut,
		RewardPortion:     reward,
		TreasuryPortion:   treasuryShare,
		SwapTxRef:         swap.TxRef,
		SettledAt:         p.cfg.Clock.Now(),
	}

	toTreasury := treasuryShare + pendingTreasury
	if toTreasury > 0 {
		if p.cfg.TreasuryWallet == "" {
			record.TreasuryPending = toTreasury
		} else if txRef, err := p.cfg.Client.TransferNative(ctx, p.cfg.TreasuryWallet, toTreasury); err != nil {
			record.TreasuryPending = toTreasury
			logging.LogError("Treasury transfer failed, carrying amount",
				zap.String("wallet", p.cfg.TreasuryWallet),
				zap.Uint64("lamports", toTreasury),
				zap.String("stage", "treasury_transfer"),
				zap.Error(err))
		} else {
			record.DistributionTxRef = txRef
		}
	}

	if fillErr != nil {
		metrics.SettlementsTotal.WithLabelValues("below_minimum").Inc()
		return record, fillErr
	}
	metrics.SettlementsTotal.WithLabelValues("settled").Inc()
	logging.LogSuccess("Tax settled",
		zap.String("harvested", record.TotalTaxHarvested),
		zap.String("swapped", record.SwappedAmount),
		zap.Uint64("received_lamports", record.ReceivedNative),
		zap.Uint64("reward_lamports", record.RewardPortion),
		zap.Uint64("treasury_lamports", record.TreasuryPortion),
		zap.Uint64("treasury_pending", record.TreasuryPending))
	return record, nil
}

// quote prices amountIn against fresh reserves with the constant product rule
// and returns the minimum acceptable output after slippage. The native reserve
// must hold at least twice that minimum.
func (p *TaxSettlementPipeline) quote(ctx context.Context, amountIn *big.Int) (uint64, error) {
	reserves, err := p.cfg.Client.PoolReserves(ctx, p.cfg.Pool)
	if err != nil {
		return 0, cerrors.Wrap(err, "reading pool reserves for swap quote")
	}

	var tokenSide, nativeSide chain.ReserveSide
	switch p.cfg.TokenMint {
	case reserves.A.Mint:
		tokenSide, nativeSide = reserves.A, reserves.B
	case reserves.B.Mint:
		tokenSide, nativeSide = reserves.B, reserves.A
	default:
		return 0, cerrors.Wrapf(ErrInsufficientLiquidity, "pool does not hold %s", p.cfg.TokenMint)
	}
	if tokenSide.Amount == nil || nativeSide.Amount == nil || nativeSide.Amount.Sign() <= 0 {
		return 0, cerrors.Wrap(ErrInsufficientLiquidity, "empty native reserve")
	}

	// expected = native * in / (token + in)
	expected := new(big.Int).Mul(nativeSide.Amount, amountIn)
	expected.Quo(expected, new(big.Int).Add(tokenSide.Amount, amountIn))
	minOut := mulBps(expected, bpsDenominator-p.cfg.SlippageBps)

	if minOut.Sign() <= 0 || !minOut.IsUint64() {
		return 0, cerrors.Wrapf(ErrInsufficientLiquidity, "unusable quote %s for %s tokens", minOut, amountIn)
	}
	if nativeSide.Amount.Cmp(new(big.Int).Lsh(minOut, 1)) < 0 {
		return 0, cerrors.Wrapf(ErrInsufficientLiquidity, "native reserve %s below twice minimum output %s", nativeSide.Amount, minOut)
	}
	return minOut.Uint64(), nil
}

func mulBps(v *big.Int, bps int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(int64(bps)))
	return out.Quo(out, big.NewInt(bpsDenominator))
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
