package solanarpc

// Package solanarpc is the Solana JSON-RPC adapter behind chain.ChainClient and
// chain.TaxSource. Every read goes through the rate limiter, the circuit
// breaker and the retry helper; transfers are sent once and never resent.

import (
	"context"
	"math/big"
	"strings"
	"time"

	"nuke-rewards/internal/chain"
	logging "nuke-rewards/internal/infra/log"
	"nuke-rewards/internal/infra/metrics"
	"nuke-rewards/internal/infra/retry"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	tokenAccountSize = 165
	mintAccountSize  = 82
	accountTypeToken = 2 // Token-2022 account type byte after the base layout

	confirmPollInterval = 700 * time.Millisecond
)

type Config struct {
	RPCURL         string
	Commitment     rpc.CommitmentType
	TokenProgram   solana.PublicKey // zero value = SPL Token
	Funding        solana.PrivateKey
	FeeAccount     string // token account holding harvested transfer fees
	RequestTimeout time.Duration
	ConfirmTimeout time.Duration
	MaxRetries     int
	RateLimit      float64
	RateBurst      int
}

// Client is a struct containing RPC client data
type Client struct {
	rpc            *rpc.Client
	cfg            Config
	rateLimiter    *rate.Limiter
	circuitBreaker *gobreaker.CircuitBreaker
	decimals       *xsync.Map[string, uint8] // mint -> decimals, immutable on chain
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.TokenProgram.IsZero() {
		cfg.TokenProgram = solana.TokenProgramID
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	circuitBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "SolanaRPC",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// missing accounts and funding shortfalls are not endpoint failures
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, chain.ErrNotFound) || errors.Is(err, chain.ErrInsufficientFunds)
		},
	})

	return &Client{
		rpc:            rpc.New(cfg.RPCURL),
		cfg:            cfg,
		rateLimiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		circuitBreaker: circuitBreaker,
		decimals:       xsync.NewMap[string, uint8](),
	}, nil
}

// FundingWallet is the public key every transfer is paid from.
func (c *Client) FundingWallet() string {
	if c.cfg.Funding == nil {
		return ""
	}
	return c.cfg.Funding.PublicKey().String()
}

// call runs fn once through the limiter and breaker.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	requestID := logging.GenerateRequestID()
	startTime := time.Now()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait failed")
	}

	logging.LogRequest(requestID, "RPC", method)
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		return nil, classifyError(fn(reqCtx))
	})

	duration := time.Since(startTime).Milliseconds()
	status, label := statusOf(err)
	if err != nil {
		logging.LogResponse(requestID, status, duration, zap.String("method", method), zap.Error(err))
	} else {
		logging.LogResponse(requestID, status, duration, zap.String("method", method))
	}
	metrics.RPCRequestsTotal.WithLabelValues("solana", label).Inc()
	return err
}

// read is call with retries on rate limiting and transient HTTP failures.
func (c *Client) read(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, retry.Options{
		MaxRetries: c.cfg.MaxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Retryable: func(err error) bool {
			return errors.Is(err, chain.ErrRateLimited)
		},
		OnRetry: func(err error, wait time.Duration) {
			logging.LogWarn("Retrying RPC call", zap.String("method", method), zap.Duration("wait", wait), zap.Error(err))
		},
	}, func() error {
		return c.call(ctx, method, fn)
	})
}

func (c *Client) TokenAccounts(ctx context.Context, mint string) ([]chain.RawAccount, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid mint %s", mint)
	}

	filters := []rpc.RPCFilter{
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(mintKey.Bytes())}},
	}
	if c.cfg.TokenProgram.Equals(solana.TokenProgramID) {
		filters = append(filters, rpc.RPCFilter{DataSize: tokenAccountSize})
	}

	var result rpc.GetProgramAccountsResult
	err = c.read(ctx, "getProgramAccounts", func(ctx context.Context) error {
		var err error
		result, err = c.rpc.GetProgramAccountsWithOpts(ctx, c.cfg.TokenProgram, &rpc.GetProgramAccountsOpts{
			Commitment: c.cfg.Commitment,
			Encoding:   solana.EncodingBase64,
			Filters:    filters,
		})
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing token accounts")
	}

	decimals, err := c.mintDecimals(ctx, mintKey)
	if err != nil {
		return nil, err
	}

	accounts := make([]chain.RawAccount, 0, len(result))
	for _, item := range result {
		if item == nil || item.Account == nil || item.Account.Data == nil {
			continue
		}
		parsed, ok := parseTokenAccount(item.Account.Data.GetBinary())
		if !ok || !parsed.mint.Equals(mintKey) {
			continue
		}
		accounts = append(accounts, chain.RawAccount{
			Address:  item.Pubkey.String(),
			Owner:    parsed.owner.String(),
			Mint:     mint,
			Amount:   new(big.Int).SetUint64(parsed.amount),
			Decimals: decimals,
		})
	}
	logging.LogDebug("Token accounts fetched", zap.String("mint", mint), zap.Int("accounts", len(accounts)))
	return accounts, nil
}

func (c *Client) PoolReserves(ctx context.Context, pool chain.Pool) (chain.PoolReserves, error) {
	a, err := c.tokenAccount(ctx, pool.VaultA)
	if err != nil {
		return chain.PoolReserves{}, errors.Wrap(err, "reading vault A")
	}
	b, err := c.tokenAccount(ctx, pool.VaultB)
	if err != nil {
		return chain.PoolReserves{}, errors.Wrap(err, "reading vault B")
	}
	return chain.PoolReserves{A: a, B: b}, nil
}

func (c *Client) NativeBalance(ctx context.Context, wallet string) (uint64, error) {
	key, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid wallet %s", wallet)
	}
	var balance uint64
	err = c.read(ctx, "getBalance", func(ctx context.Context) error {
		out, err := c.rpc.GetBalance(ctx, key, c.cfg.Commitment)
		if err != nil {
			return err
		}
		balance = out.Value
		return nil
	})
	return balance, err
}

// WithheldBalance reports the token balance of the fee account.
func (c *Client) WithheldBalance(ctx context.Context) (*big.Int, error) {
	if c.cfg.FeeAccount == "" {
		return nil, errors.New("fee account is not configured")
	}
	side, err := c.tokenAccount(ctx, c.cfg.FeeAccount)
	if err != nil {
		return nil, errors.Wrap(err, "reading fee account")
	}
	return side.Amount, nil
}

func (c *Client) TransferNative(ctx context.Context, to string, lamports uint64) (string, error) {
	if c.cfg.Funding == nil {
		return "", errors.New("funding key is not configured")
	}
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", errors.Wrapf(err, "invalid recipient %s", to)
	}
	payer := c.cfg.Funding.PublicKey()

	var blockhash solana.Hash
	err = c.read(ctx, "getLatestBlockhash", func(ctx context.Context) error {
		out, err := c.rpc.GetLatestBlockhash(ctx, c.cfg.Commitment)
		if err != nil {
			return err
		}
		blockhash = out.Value.Blockhash
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "get latest blockhash")
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, payer, recipient).Build()},
		blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return "", errors.Wrap(err, "build transaction")
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if payer.Equals(key) {
			return &c.cfg.Funding
		}
		return nil
	}); err != nil {
		return "", errors.Wrap(err, "sign transaction")
	}

	var sig solana.Signature
	err = c.call(ctx, "sendTransaction", func(ctx context.Context) error {
		var err error
		sig, err = c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: c.cfg.Commitment})
		return err
	})
	if err != nil {
		return "", errors.Wrapf(err, "send transfer to %s", to)
	}

	if err := c.waitForConfirmation(ctx, sig); err != nil {
		return "", errors.Wrapf(err, "transfer %s to %s", sig, to)
	}
	return sig.String(), nil
}

func (c *Client) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "confirmation not observed")
		case <-ticker.C:
			var status *rpc.SignatureStatusesResult
			err := c.call(ctx, "getSignatureStatuses", func(ctx context.Context) error {
				out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
				if err != nil {
					return err
				}
				if len(out.Value) > 0 {
					status = out.Value[0]
				}
				return nil
			})
			if err != nil || status == nil {
				continue
			}
			if status.Err != nil {
				return errors.Newf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// tokenAccount reads one token account and resolves its mint decimals.
func (c *Client) tokenAccount(ctx context.Context, address string) (chain.ReserveSide, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return chain.ReserveSide{}, errors.Wrapf(err, "invalid account %s", address)
	}

	var data []byte
	err = c.read(ctx, "getAccountInfo", func(ctx context.Context) error {
		out, err := c.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
			Commitment: c.cfg.Commitment,
			Encoding:   solana.EncodingBase64,
		})
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil || out.Value.Data == nil {
			return errors.Wrapf(chain.ErrNotFound, "account %s", address)
		}
		data = out.Value.Data.GetBinary()
		return nil
	})
	if err != nil {
		return chain.ReserveSide{}, err
	}

	parsed, ok := parseTokenAccount(data)
	if !ok {
		return chain.ReserveSide{}, errors.Newf("account %s is not a token account", address)
	}
	decimals, err := c.mintDecimals(ctx, parsed.mint)
	if err != nil {
		return chain.ReserveSide{}, err
	}
	return chain.ReserveSide{
		Account:  address,
		Mint:     parsed.mint.String(),
		Amount:   new(big.Int).SetUint64(parsed.amount),
		Decimals: decimals,
	}, nil
}

func (c *Client) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if d, ok := c.decimals.Load(mint.String()); ok {
		return d, nil
	}

	var data []byte
	err := c.read(ctx, "getAccountInfo", func(ctx context.Context) error {
		out, err := c.rpc.GetAccountInfoWithOpts(ctx, mint, &rpc.GetAccountInfoOpts{
			Commitment: c.cfg.Commitment,
			Encoding:   solana.EncodingBase64,
		})
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil || out.Value.Data == nil {
			return errors.Wrapf(chain.ErrNotFound, "mint %s", mint)
		}
		data = out.Value.Data.GetBinary()
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "reading mint")
	}

	d, err := parseMintDecimals(data)
	if err != nil {
		return 0, errors.Wrapf(err, "mint %s", mint)
	}
	c.decimals.Store(mint.String(), d)
	return d, nil
}

// classifyError maps RPC failures onto chain error kinds, keeping the RPC
// message in the wrapped error.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rpc.ErrNotFound) {
		return errors.Wrap(chain.ErrNotFound, err.Error())
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit"):
		return errors.Wrap(chain.ErrRateLimited, err.Error())
	case strings.Contains(msg, "insufficient funds for rent"):
		// the recipient account would stay below rent exemption; the funding
		// wallet is fine, so this is a per-recipient failure
		return err
	case strings.Contains(msg, "insufficient lamports") ||
		strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "no record of a prior credit"):
		return errors.Wrap(chain.ErrInsufficientFunds, err.Error())
	}
	return err
}

func statusOf(err error) (int, string) {
	switch {
	case err == nil:
		return 200, "success"
	case errors.Is(err, chain.ErrRateLimited):
		return 429, "rate_limited"
	case errors.Is(err, chain.ErrNotFound):
		return 404, "not_found"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return 503, "circuit_open"
	default:
		return 500, "error"
	}
}
