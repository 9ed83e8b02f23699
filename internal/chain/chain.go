package chain

// Collaborator contracts for the reward engine: ledger reads and transfers,
// the swap endpoint, the withheld-fee source and the notification sink.
// Concrete adapters live under internal/clients_api.

import (
	"context"
	"math/big"
)

// ErrorKind identifies a class of collaborator failure.
// Adapters wrap it so callers can use errors.Is.
type ErrorKind string

const (
	ErrInsufficientFunds = ErrorKind("insufficient funds")
	ErrRateLimited       = ErrorKind("rate limited")
	ErrNotFound          = ErrorKind("account not found")
	ErrFillBelowMinimum  = ErrorKind("swap filled below minimum")
)

func (e ErrorKind) Error() string {
	return string(e)
}

// RawAccount is one token account of the tracked mint as read from the ledger.
type RawAccount struct {
	Address  string
	Owner    string
	Mint     string
	Amount   *big.Int
	Decimals uint8
}

// Pool names the two reserve vaults of a liquidity pool.
type Pool struct {
	VaultA string
	VaultB string
}

func (p Pool) Configured() bool {
	return p.VaultA != "" && p.VaultB != ""
}

// ReserveSide is one vault of a pool. Mint is the asset the vault holds.
type ReserveSide struct {
	Account  string
	Mint     string
	Amount   *big.Int
	Decimals uint8
}

type PoolReserves struct {
	A ReserveSide
	B ReserveSide
}

type ChainClient interface {
	// TokenAccounts lists every token account of mint, zero balances included.
	TokenAccounts(ctx context.Context, mint string) ([]RawAccount, error)
	PoolReserves(ctx context.Context, pool Pool) (PoolReserves, error)
	NativeBalance(ctx context.Context, wallet string) (uint64, error)
	// TransferNative sends lamports from the funding wallet and waits for confirmation.
	// Funding shortfalls are reported as ErrInsufficientFunds.
	TransferNative(ctx context.Context, to string, lamports uint64) (txRef string, err error)
}

type SwapResult struct {
	AmountOut uint64
	TxRef     string
}

// SwapClient converts harvested tokens into native currency.
// A fill below minOut is an error wrapping ErrFillBelowMinimum, returned with
// the executed result so the proceeds can still be accounted for.
type SwapClient interface {
	Swap(ctx context.Context, amountIn *big.Int, minOut uint64) (SwapResult, error)
}

// TaxSource reports the harvested transfer-fee balance available for settlement.
type TaxSource interface {
	WithheldBalance(ctx context.Context) (*big.Int, error)
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }
