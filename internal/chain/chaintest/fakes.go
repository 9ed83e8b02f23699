// Package chaintest provides in-memory collaborators for engine tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"nuke-rewards/internal/chain"
)

type Transfer struct {
	To       string
	Lamports uint64
	TxRef    string
}

// Chain is an in-memory ChainClient. Transfers debit Balance.
type Chain struct {
	mu sync.Mutex

	Accounts    []chain.RawAccount
	AccountsErr error
	AccountsN   int // TokenAccounts call count

	Reserves    map[chain.Pool]chain.PoolReserves
	ReservesErr error
	ReservesN   int

	Balance uint64
	Fee     uint64

	// FailTransfer, when set, decides per recipient whether a transfer errors.
	FailTransfer func(to string) error
	Transfers    []Transfer
}

func NewChain(balance uint64) *Chain {
	return &Chain{Balance: balance, Reserves: map[chain.Pool]chain.PoolReserves{}}
}

func (c *Chain) TokenAccounts(_ context.Context, _ string) ([]chain.RawAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccountsN++
	if c.AccountsErr != nil {
		return nil, c.AccountsErr
	}
	out := make([]chain.RawAccount, len(c.Accounts))
	copy(out, c.Accounts)
	return out, nil
}

func (c *Chain) PoolReserves(_ context.Context, pool chain.Pool) (chain.PoolReserves, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ReservesN++
	if c.ReservesErr != nil {
		return chain.PoolReserves{}, c.ReservesErr
	}
	r, ok := c.Reserves[pool]
	if !ok {
		return chain.PoolReserves{}, chain.ErrNotFound
	}
	return r, nil
}

func (c *Chain) NativeBalance(_ context.Context, _ string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balance, nil
}

func (c *Chain) TransferNative(_ context.Context, to string, lamports uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailTransfer != nil {
		if err := c.FailTransfer(to); err != nil {
			return "", err
		}
	}
	if c.Balance < lamports+c.Fee {
		return "", chain.ErrInsufficientFunds
	}
	c.Balance -= lamports + c.Fee
	ref := fmt.Sprintf("tx-%d-%s", len(c.Transfers)+1, to)
	c.Transfers = append(c.Transfers, Transfer{To: to, Lamports: lamports, TxRef: ref})
	return ref, nil
}

func (c *Chain) TransfersTo(to string) []Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Transfer
	for _, t := range c.Transfers {
		if t.To == to {
			out = append(out, t)
		}
	}
	return out
}

func (c *Chain) TransferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Transfers)
}

// Account builds a RawAccount with an int64 balance.
func Account(address, owner string, amount int64, decimals uint8) chain.RawAccount {
	return chain.RawAccount{Address: address, Owner: owner, Amount: big.NewInt(amount), Decimals: decimals}
}

// Side builds a ReserveSide with an int64 amount.
func Side(mint string, amount int64, decimals uint8) chain.ReserveSide {
	return chain.ReserveSide{Account: mint + "-vault", Mint: mint, Amount: big.NewInt(amount), Decimals: decimals}
}

// Swap fills at a fixed output unless Err is set.
type Swap struct {
	mu        sync.Mutex
	AmountOut uint64
	Err       error
	Calls     []SwapCall
}

type SwapCall struct {
	AmountIn *big.Int
	MinOut   uint64
}

func (s *Swap) Swap(_ context.Context, amountIn *big.Int, minOut uint64) (chain.SwapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, SwapCall{AmountIn: new(big.Int).Set(amountIn), MinOut: minOut})
	if s.Err != nil {
		return chain.SwapResult{}, s.Err
	}
	res := chain.SwapResult{AmountOut: s.AmountOut, TxRef: fmt.Sprintf("swap-%d", len(s.Calls))}
	if s.AmountOut < minOut {
		return res, fmt.Errorf("filled %d, minimum %d: %w", s.AmountOut, minOut, chain.ErrFillBelowMinimum)
	}
	return res, nil
}

type Tax struct {
	Balance *big.Int
	Err     error
}

func (t *Tax) WithheldBalance(context.Context) (*big.Int, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(t.Balance), nil
}

// Notifier records every message.
type Notifier struct {
	mu       sync.Mutex
	Messages []string
}

func (n *Notifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, text)
	return nil
}

func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Messages)
}
