package solanarpc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"nuke-rewards/internal/chain"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenAccountData(mint, owner solana.PublicKey, amount uint64, size int) []byte {
	data := make([]byte, size)
	copy(data[0:32], mint.Bytes())
	copy(data[32:64], owner.Bytes())
	binary.LittleEndian.PutUint64(data[64:72], amount)
	if size > tokenAccountSize {
		data[tokenAccountSize] = accountTypeToken
	}
	return data
}

func TestParseTokenAccount(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	got, ok := parseTokenAccount(tokenAccountData(mint, owner, 42_000_000, tokenAccountSize))
	require.True(t, ok)
	assert.True(t, got.mint.Equals(mint))
	assert.True(t, got.owner.Equals(owner))
	assert.Equal(t, uint64(42_000_000), got.amount)

	// Token-2022 account with a transfer fee extension
	got, ok = parseTokenAccount(tokenAccountData(mint, owner, 7, 182))
	require.True(t, ok)
	assert.Equal(t, uint64(7), got.amount)

	mintLike := tokenAccountData(mint, owner, 7, 182)
	mintLike[tokenAccountSize] = 1
	_, ok = parseTokenAccount(mintLike)
	assert.False(t, ok)

	_, ok = parseTokenAccount(make([]byte, 80))
	assert.False(t, ok)
}

func TestParseMintDecimals(t *testing.T) {
	data := make([]byte, mintAccountSize)
	data[44] = 6
	d, err := parseMintDecimals(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), d)

	_, err = parseMintDecimals(data[:40])
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"rpc call getProgramAccounts() on x: 429 Too Many Requests", chain.ErrRateLimited},
		{"Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.", chain.ErrInsufficientFunds},
		{"custom program error: insufficient lamports 10, need 5000", chain.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := classifyError(errors.New(tt.msg))
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	plain := errors.New("connection reset by peer")
	assert.Equal(t, plain, classifyError(plain))

	rent := errors.New("Transaction simulation failed: Transaction results in an account (1) with insufficient funds for rent")
	got := classifyError(rent)
	assert.NotErrorIs(t, got, chain.ErrInsufficientFunds)
	assert.Equal(t, rent, got)
	assert.NoError(t, classifyError(nil))
}

// rpcServer answers every JSON-RPC call with result, echoing the request id.
func rpcServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNativeBalance(t *testing.T) {
	srv := rpcServer(t, `{"context":{"slot":1},"value":1500000000}`)
	c, err := NewClient(Config{RPCURL: srv.URL})
	require.NoError(t, err)

	balance, err := c.NativeBalance(context.Background(), solana.NewWallet().PublicKey().String())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), balance)
}

func TestNativeBalance_InvalidWallet(t *testing.T) {
	c, err := NewClient(Config{RPCURL: "http://127.0.0.1:0"})
	require.NoError(t, err)

	_, err = c.NativeBalance(context.Background(), "not a key")
	assert.Error(t, err)
}

func TestWithheldBalance_RequiresFeeAccount(t *testing.T) {
	c, err := NewClient(Config{RPCURL: "http://127.0.0.1:0"})
	require.NoError(t, err)

	_, err = c.WithheldBalance(context.Background())
	assert.ErrorContains(t, err, "fee account")
}
