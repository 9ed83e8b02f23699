package rewards

import (
	"context"
	"errors"
	"sync"
	"time"

	"nuke-rewards/internal/chain"
	logging "nuke-rewards/internal/infra/log"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPriceTTL = 5 * time.Minute
	SourcePool      = "pool"
	ratePrecision   = 18
)

// Rate is the price of one whole tracked asset in units of the pool's other asset.
type Rate struct {
	Value     decimal.Decimal
	Source    string
	FetchedAt time.Time
}

type OracleConfig struct {
	Client      chain.ChainClient
	Clock       clockwork.Clock
	Pool        chain.Pool
	TrackedMint string // the side priced by the oracle
	TTL         time.Duration
}

func (cfg *OracleConfig) Validate() error {
	if cfg.Client == nil {
		return errors.New("chain client is required")
	}
	if cfg.TrackedMint == "" {
		return errors.New("tracked mint is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultPriceTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// PriceOracle reads a pool's reserves and caches the derived rate. It never
// retries and never invents a price: any failure yields nil.
type PriceOracle struct {
	cfg OracleConfig

	mu     sync.Mutex
	cached *Rate
}

func NewPriceOracle(cfg OracleConfig) (*PriceOracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PriceOracle{cfg: cfg}, nil
}

// GetRate returns nil when pricing is unavailable.
func (o *PriceOracle) GetRate(ctx context.Context) *Rate {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.cfg.Clock.Now()
	if o.cached != nil && now.Sub(o.cached.FetchedAt) < o.cfg.TTL {
		r := *o.cached
		return &r
	}

	if !o.cfg.Pool.Configured() {
		logging.LogDebug("Price pool not configured", zap.String("mint", o.cfg.TrackedMint))
		return nil
	}

	reserves, err := o.cfg.Client.PoolReserves(ctx, o.cfg.Pool)
	if err != nil {
		logging.LogWarn("Failed to read pool reserves",
			zap.String("vault_a", o.cfg.Pool.VaultA),
			zap.String("vault_b", o.cfg.Pool.VaultB),
			zap.Error(err))
		return nil
	}

	value, ok := RateFromReserves(reserves, o.cfg.TrackedMint)
	if !ok {
		logging.LogWarn("Pool reserves do not price the tracked mint",
			zap.String("mint", o.cfg.TrackedMint),
			zap.String("side_a", reserves.A.Mint),
			zap.String("side_b", reserves.B.Mint))
		return nil
	}

	o.cached = &Rate{Value: value, Source: SourcePool, FetchedAt: now}
	logging.LogDebug("Price refreshed", zap.String("mint", o.cfg.TrackedMint), zap.String("rate", value.String()))

	r := *o.cached
	return &r
}

// RateFromReserves computes otherHuman / trackedHuman. ok is false when no side
// holds the tracked mint, a side is unreadable, or the tracked reserve is empty.
func RateFromReserves(reserves chain.PoolReserves, trackedMint string) (decimal.Decimal, bool) {
	var tracked, other chain.ReserveSide
	switch {
	case reserves.A.Mint == trackedMint:
		tracked, other = reserves.A, reserves.B
	case reserves.B.Mint == trackedMint:
		tracked, other = reserves.B, reserves.A
	default:
		return decimal.Zero, false
	}
	if tracked.Amount == nil || other.Amount == nil || tracked.Amount.Sign() <= 0 {
		return decimal.Zero, false
	}

	trackedHuman := decimal.NewFromBigInt(tracked.Amount, -int32(tracked.Decimals))
	otherHuman := decimal.NewFromBigInt(other.Amount, -int32(other.Decimals))
	return otherHuman.DivRound(trackedHuman, ratePrecision), true
}
