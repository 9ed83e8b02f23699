//go:build integration

package tests

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"nuke-rewards/internal/chain"
	"nuke-rewards/internal/clients_api/solanarpc"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Runs against a live cluster, devnet unless SOLANA_RPC_URL says otherwise:
//
//	go test -tags integration ./internal/tests/...
//
// TOKEN_MINT, POOL_VAULT_A and POOL_VAULT_B enable the holder and pool checks.

func newClient(t *testing.T) *solanarpc.Client {
	t.Helper()
	url := os.Getenv("SOLANA_RPC_URL")
	if url == "" {
		url = rpc.DevNet_RPC
	}
	client, err := solanarpc.NewClient(solanarpc.Config{
		RPCURL:    url,
		Funding:   solana.NewWallet().PrivateKey,
		RateLimit: 2,
		RateBurst: 2,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestIntegration_Solana_NativeBalance(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	balance, err := client.NativeBalance(ctx, client.FundingWallet())
	if err != nil {
		t.Fatalf("NativeBalance failed: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected fresh wallet to be empty, got %d lamports", balance)
	}
}

func TestIntegration_Solana_TransferFromEmptyWallet(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, err := client.TransferNative(ctx, solana.NewWallet().PublicKey().String(), 1_000_000)
	if err == nil {
		t.Fatalf("expected transfer from an empty wallet to fail")
	}
	t.Logf("transfer error: %v (insufficient funds: %v)", err, errors.Is(err, chain.ErrInsufficientFunds))
}

func TestIntegration_Solana_TokenAccounts(t *testing.T) {
	mint := os.Getenv("TOKEN_MINT")
	if mint == "" {
		t.Skip("TOKEN_MINT not set")
	}
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	accounts, err := client.TokenAccounts(ctx, mint)
	if err != nil {
		t.Fatalf("TokenAccounts failed: %v", err)
	}
	if len(accounts) == 0 {
		t.Fatalf("expected at least one token account for %s", mint)
	}
	for _, acc := range accounts {
		if acc.Owner == "" || acc.Address == "" || acc.Amount == nil {
			t.Fatalf("incomplete account: %+v", acc)
		}
	}
	t.Logf("%d token accounts, decimals %d", len(accounts), accounts[0].Decimals)
}

func TestIntegration_Solana_PoolReserves(t *testing.T) {
	pool := chain.Pool{VaultA: os.Getenv("POOL_VAULT_A"), VaultB: os.Getenv("POOL_VAULT_B")}
	if !pool.Configured() {
		t.Skip("POOL_VAULT_A / POOL_VAULT_B not set")
	}
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reserves, err := client.PoolReserves(ctx, pool)
	if err != nil {
		t.Fatalf("PoolReserves failed: %v", err)
	}
	if reserves.A.Amount == nil || reserves.B.Amount == nil {
		t.Fatalf("expected both reserves, got %+v", reserves)
	}
	if reserves.A.Mint == "" || reserves.B.Mint == "" {
		t.Fatalf("expected vault mints, got %q / %q", reserves.A.Mint, reserves.B.Mint)
	}
}
