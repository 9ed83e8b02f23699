package rewards

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"nuke-rewards/internal/chain"
	logging "nuke-rewards/internal/infra/log"

	cerrors "github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const DefaultHolderTTL = 5 * time.Minute

type RegistryConfig struct {
	Client chain.ChainClient
	Clock  clockwork.Clock
	Mint   string
	TTL    time.Duration
	// StaleLimit bounds how old a cache may be when served on rate limiting. 0 = any age.
	StaleLimit time.Duration
}

func (cfg *RegistryConfig) Validate() error {
	if cfg.Client == nil {
		return errors.New("chain client is required")
	}
	if cfg.Mint == "" {
		return errors.New("mint is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultHolderTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type HolderRegistry struct {
	cfg RegistryConfig

	mu        sync.Mutex
	cached    []Holder
	fetchedAt time.Time
}

func NewHolderRegistry(cfg RegistryConfig) (*HolderRegistry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HolderRegistry{cfg: cfg}, nil
}

// ListHolders returns one entry per token account with a positive balance,
// largest first. The result is a fresh slice the caller may modify.
func (r *HolderRegistry) ListHolders(ctx context.Context) ([]Holder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Clock.Now()
	if r.cached != nil && now.Sub(r.fetchedAt) < r.cfg.TTL {
		return cloneHolders(r.cached), nil
	}

	accounts, err := r.cfg.Client.TokenAccounts(ctx, r.cfg.Mint)
	if err != nil {
		age := now.Sub(r.fetchedAt)
		if errors.Is(err, chain.ErrRateLimited) && r.cached != nil &&
			(r.cfg.StaleLimit <= 0 || age <= r.cfg.StaleLimit) {
			logging.LogWarn("Holder read rate limited, serving cached holders",
				zap.Int("holders", len(r.cached)),
				zap.Duration("cache_age", age),
				zap.Error(err))
			return cloneHolders(r.cached), nil
		}
		return nil, cerrors.Wrap(err, "listing token accounts")
	}

	holders := make([]Holder, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Amount == nil || acc.Amount.Sign() <= 0 {
			continue
		}
		holders = append(holders, Holder{
			Address:    acc.Address,
			Owner:      acc.Owner,
			RawBalance: new(big.Int).Set(acc.Amount),
			Decimals:   acc.Decimals,
		})
	}
	SortHolders(holders)

	r.cached = holders
	r.fetchedAt = now
	logging.LogDebug("Holder list refreshed", zap.Int("accounts", len(accounts)), zap.Int("holders", len(holders)))

	return cloneHolders(holders), nil
}

// SortHolders orders by raw balance descending, then address ascending.
func SortHolders(holders []Holder) {
	sort.SliceStable(holders, func(i, j int) bool {
		if c := holders[i].RawBalance.Cmp(holders[j].RawBalance); c != 0 {
			return c > 0
		}
		return holders[i].Address < holders[j].Address
	})
}

// AggregateByOwner merges accounts sharing an owner into one holder keyed by
// the owner. Accounts without an owner stand alone.
func AggregateByOwner(holders []Holder) []Holder {
	grouped := lo.GroupBy(holders, func(h Holder) string { return h.PayoutWallet() })

	out := make([]Holder, 0, len(grouped))
	for wallet, accounts := range grouped {
		sum := lo.Reduce(accounts, func(acc *big.Int, h Holder, _ int) *big.Int {
			return acc.Add(acc, h.RawBalance)
		}, new(big.Int))
		out = append(out, Holder{
			Address:    wallet,
			Owner:      wallet,
			Accounts:   lo.Uniq(lo.FlatMap(accounts, func(h Holder, _ int) []string { return h.accountAddresses() })),
			RawBalance: sum,
			Decimals:   accounts[0].Decimals,
		})
	}
	SortHolders(out)
	return out
}

func (h Holder) accountAddresses() []string {
	if len(h.Accounts) > 0 {
		return h.Accounts
	}
	return []string{h.Address}
}

func cloneHolders(in []Holder) []Holder {
	return lo.Map(in, func(h Holder, _ int) Holder {
		h.RawBalance = new(big.Int).Set(h.RawBalance)
		return h
	})
}
