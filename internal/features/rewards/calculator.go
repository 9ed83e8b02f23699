package rewards

import (
	"math/big"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// Share is one wallet's cut of the pool, in lamports.
type Share struct {
	Wallet string
	Amount uint64
}

type Distribution struct {
	Payouts      []Share  // at or above the minimum payout
	BelowMinimum []Share  // dust the caller must accumulate
	Distributed  *big.Int // sum of Payouts
	Remainder    *big.Int // pool minus every share, lost to floor division
}

func (d Distribution) Empty() bool {
	return len(d.Payouts) == 0 && len(d.BelowMinimum) == 0
}

// Compute splits pool lamports across eligible holders pro rata to raw balance:
// share = floor(pool * balance / supply). Nothing is distributed when supply or
// pool is not positive.
func Compute(eligible []Holder, pool *big.Int, minPayout uint64) Distribution {
	dist := Distribution{Distributed: new(big.Int), Remainder: new(big.Int)}
	if pool == nil || pool.Sign() <= 0 {
		return dist
	}
	dist.Remainder.Set(pool)

	supply := new(big.Int)
	for _, h := range eligible {
		if h.RawBalance != nil && h.RawBalance.Sign() > 0 {
			supply.Add(supply, h.RawBalance)
		}
	}
	if supply.Sign() == 0 {
		return dist
	}

	minimum := new(big.Int).SetUint64(minPayout)
	for _, h := range eligible {
		if h.RawBalance == nil || h.RawBalance.Sign() <= 0 {
			continue
		}
		share := new(big.Int).Mul(pool, h.RawBalance)
		share.Quo(share, supply)
		if share.Sign() == 0 {
			continue
		}
		dist.Remainder.Sub(dist.Remainder, share)

		s := Share{Wallet: h.PayoutWallet(), Amount: share.Uint64()}
		if share.Cmp(minimum) < 0 {
			dist.BelowMinimum = append(dist.BelowMinimum, s)
			continue
		}
		dist.Payouts = append(dist.Payouts, s)
		dist.Distributed.Add(dist.Distributed, share)
	}
	return dist
}

type MergeResult struct {
	Payouts    []PendingPayout
	Accumulate []Share // new dust to add to the ledger
}

// MergeUnpaid folds ledger balances into this cycle's shares. A wallet whose
// carried plus new amount reaches minPayout is queued for the full amount;
// ledger-only wallets are queued on their carried amount alone.
func MergeUnpaid(dist Distribution, unpaid UnpaidSource, minPayout uint64, now time.Time) (MergeResult, error) {
	entries, err := unpaid.Entries()
	if err != nil {
		return MergeResult{}, errors.Wrap(err, "loading unpaid rewards")
	}

	var result MergeResult
	seen := make(map[string]struct{}, len(dist.Payouts)+len(dist.BelowMinimum))

	queue := func(wallet string, fresh uint64) {
		entry := entries[wallet]
		carried := SOLToLamports(entry.Amount)
		result.Payouts = append(result.Payouts, PendingPayout{
			Wallet:        wallet,
			Amount:        fresh + carried,
			NewAmount:     fresh,
			CarriedAmount: carried,
			Status:        StatusPending,
			RetryCount:    entry.RetryCount,
			QueuedAt:      now,
		})
	}

	for _, s := range dist.Payouts {
		seen[s.Wallet] = struct{}{}
		queue(s.Wallet, s.Amount)
	}
	for _, s := range dist.BelowMinimum {
		seen[s.Wallet] = struct{}{}
		if s.Amount+SOLToLamports(entries[s.Wallet].Amount) >= minPayout {
			queue(s.Wallet, s.Amount)
			continue
		}
		result.Accumulate = append(result.Accumulate, s)
	}
	for wallet, entry := range entries {
		if _, ok := seen[wallet]; ok {
			continue
		}
		carried := SOLToLamports(entry.Amount)
		if carried > 0 && carried >= minPayout {
			queue(wallet, 0)
		}
	}

	sort.SliceStable(result.Payouts, func(i, j int) bool {
		if result.Payouts[i].Amount != result.Payouts[j].Amount {
			return result.Payouts[i].Amount > result.Payouts[j].Amount
		}
		return result.Payouts[i].Wallet < result.Payouts[j].Wallet
	})
	return result, nil
}
