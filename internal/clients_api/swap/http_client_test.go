package swap

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"nuke-rewards/internal/chain"
	"nuke-rewards/internal/infra/retry"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = "TokenMint1111111111111111111111111111111111"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret", InputMint: testMint})
	require.NoError(t, err)
	return c
}

func TestSwap_SendsRequestAndParsesFill(t *testing.T) {
	var got swapRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/swap", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"amount_out": 910000000, "tx_ref": "sig123"}`))
	})

	res, err := c.Swap(context.Background(), big.NewInt(100_000_000), 899_999_999)
	require.NoError(t, err)
	assert.Equal(t, uint64(910_000_000), res.AmountOut)
	assert.Equal(t, "sig123", res.TxRef)

	assert.Equal(t, testMint, got.InputMint)
	assert.Equal(t, NativeMint, got.OutputMint)
	assert.Equal(t, "100000000", got.AmountIn)
	assert.Equal(t, "899999999", got.MinAmountOut)
}

func TestSwap_FillBelowMinimumKeepsResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"amount_out": "5", "tx_ref": "sig"}`))
	})

	res, err := c.Swap(context.Background(), big.NewInt(1000), 10)
	require.ErrorIs(t, err, chain.ErrFillBelowMinimum)
	assert.Equal(t, uint64(5), res.AmountOut)
	assert.Equal(t, "sig", res.TxRef)
}

func TestSwap_ServiceError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	})

	_, err := c.Swap(context.Background(), big.NewInt(1000), 10)
	require.Error(t, err)
	var he *retry.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusTooManyRequests, he.StatusCode)
}

func TestSwap_RejectedInBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"no route"}`))
	})

	_, err := c.Swap(context.Background(), big.NewInt(1000), 10)
	assert.ErrorContains(t, err, "no route")
}

func TestSwap_RejectsNonPositiveAmount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.Swap(context.Background(), big.NewInt(0), 10)
	assert.Error(t, err)
}
