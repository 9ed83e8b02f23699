package rewards

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorKind identifies an engine failure class; callers match it with errors.Is.
type ErrorKind string

const (
	ErrPricingUnavailable    = ErrorKind("pricing unavailable")
	ErrInvalidAmount         = ErrorKind("amount must be positive")
	ErrInsufficientLiquidity = ErrorKind("insufficient pool liquidity")
	ErrSlippageExceeded      = ErrorKind("swap output below minimum")
)

func (e ErrorKind) Error() string {
	return string(e)
}

const NativeDecimals = 9

var lamportsPerSOL = decimal.New(1, NativeDecimals)

func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -NativeDecimals)
}

// SOLToLamports truncates toward zero. Negative amounts map to 0.
func SOLToLamports(sol decimal.Decimal) uint64 {
	if !sol.IsPositive() {
		return 0
	}
	l := sol.Mul(lamportsPerSOL).Truncate(0).BigInt()
	if !l.IsUint64() {
		return ^uint64(0)
	}
	return l.Uint64()
}

// Holder is one token account snapshot. After AggregateByOwner, Address equals
// Owner and Accounts lists the merged token accounts.
type Holder struct {
	Address    string
	Owner      string
	Accounts   []string
	RawBalance *big.Int
	Decimals   uint8
}

// HumanBalance is RawBalance shifted by Decimals.
func (h Holder) HumanBalance() decimal.Decimal {
	if h.RawBalance == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(h.RawBalance, -int32(h.Decimals))
}

// PayoutWallet is where native rewards are sent: the owner when known.
func (h Holder) PayoutWallet() string {
	if h.Owner != "" {
		return h.Owner
	}
	return h.Address
}

type PayoutStatus string

const (
	StatusPending PayoutStatus = "pending"
	StatusSuccess PayoutStatus = "success"
	StatusSkipped PayoutStatus = "skipped"
	StatusFailed  PayoutStatus = "failed"
)

// PendingPayout is one queued transfer. Amount = NewAmount + CarriedAmount.
type PendingPayout struct {
	Wallet        string       `json:"wallet"`
	Amount        uint64       `json:"amount"`         // lamports
	NewAmount     uint64       `json:"new_amount"`     // this cycle's share
	CarriedAmount uint64       `json:"carried_amount"` // from the ledger
	Status        PayoutStatus `json:"status"`
	RetryCount    int          `json:"retry_count"`
	QueuedAt      time.Time    `json:"queued_at"`
	ExecutedAt    *time.Time   `json:"executed_at,omitempty"`
	TxRef         string       `json:"tx_ref,omitempty"`
	Err           string       `json:"error,omitempty"`
}

// SettlementRecord is one successful tax settlement pass. Amounts in lamports
// except TotalTaxHarvested and SwappedAmount which are raw token units.
type SettlementRecord struct {
	TotalTaxHarvested string    `json:"total_tax_harvested"`
	SwappedAmount     string    `json:"swapped_amount"`
	ReceivedNative    uint64    `json:"received_native"`
	RewardPortion     uint64    `json:"reward_portion"`
	TreasuryPortion   uint64    `json:"treasury_portion"`
	TreasuryPending   uint64    `json:"treasury_pending,omitempty"` // transfer failed, carried
	SwapTxRef         string    `json:"swap_tx_ref"`
	DistributionTxRef string    `json:"distribution_tx_ref,omitempty"`
	SettledAt         time.Time `json:"settled_at"`
}

type RecipientDetail struct {
	Wallet string       `json:"wallet"`
	Amount uint64       `json:"amount"`
	Status PayoutStatus `json:"status"`
	TxRef  string       `json:"tx_ref,omitempty"`
	Err    string       `json:"error,omitempty"`
}

// CycleRecord is the immutable history entry of one completed cycle.
type CycleRecord struct {
	ID               string            `json:"id"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	TotalDistributed uint64            `json:"total_distributed"` // lamports
	EligibleCount    int               `json:"eligible_count"`
	ExcludedCount    int               `json:"excluded_count"`
	BlacklistedCount int               `json:"blacklisted_count"`
	TotalHolders     int               `json:"total_holders"`
	TokenPriceNative string            `json:"token_price_native"`
	TokenPriceUSD    string            `json:"token_price_usd,omitempty"`
	PoolAmount       uint64            `json:"pool_amount"`
	Remainder        uint64            `json:"remainder"`
	Recipients       []RecipientDetail `json:"recipients"`
	Settlement       *SettlementRecord `json:"settlement,omitempty"`
}

// CycleID derives a sortable record id from the cycle start time.
func CycleID(t time.Time) string {
	return t.UTC().Format("20060102T150405.000Z")
}
