package rewards

import (
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Blacklist is a read-only set of excluded wallets.
type Blacklist map[string]struct{}

func NewBlacklist(lists ...[]string) Blacklist {
	b := Blacklist{}
	for _, list := range lists {
		for _, w := range list {
			if w = strings.TrimSpace(w); w != "" {
				b[w] = struct{}{}
			}
		}
	}
	return b
}

func (b Blacklist) Contains(wallet string) bool {
	if wallet == "" {
		return false
	}
	_, ok := b[wallet]
	return ok
}

// Matches checks the owner and every token account behind the holder, so a
// listed account bars its owner's whole aggregated balance.
func (b Blacklist) Matches(h Holder) bool {
	if b.Contains(h.Address) || b.Contains(h.Owner) {
		return true
	}
	return lo.SomeBy(h.Accounts, b.Contains)
}

type Classification struct {
	Eligible    []Holder
	Excluded    []Holder
	Blacklisted []Holder
}

// Classify partitions holders. A nil rate fails the whole step: holders are
// never admitted or rejected on an assumed price.
func Classify(holders []Holder, blacklist Blacklist, minValueNative decimal.Decimal, rate *Rate) (Classification, error) {
	if rate == nil {
		return Classification{}, ErrPricingUnavailable
	}

	var out Classification
	for _, h := range holders {
		if blacklist.Matches(h) {
			out.Blacklisted = append(out.Blacklisted, h)
			continue
		}
		if HoldingValue(h, rate).GreaterThanOrEqual(minValueNative) {
			out.Eligible = append(out.Eligible, h)
		} else {
			out.Excluded = append(out.Excluded, h)
		}
	}
	return out, nil
}

// HoldingValue is the holder's balance priced in native units.
func HoldingValue(h Holder, rate *Rate) decimal.Decimal {
	return h.HumanBalance().Mul(rate.Value)
}

// NativeThreshold converts a USD threshold with a native/USD rate. ok is false
// when either input is unusable, in which case the caller keeps its native threshold.
func NativeThreshold(minUSD decimal.Decimal, nativeUSD *Rate) (decimal.Decimal, bool) {
	if !minUSD.IsPositive() || nativeUSD == nil || !nativeUSD.Value.IsPositive() {
		return decimal.Zero, false
	}
	return minUSD.DivRound(nativeUSD.Value, ratePrecision), true
}
