package swap

// Package swap is the HTTP client for the swap service that sells harvested
// tokens for SOL. The service signs and lands the swap itself and answers with
// the filled amount; this client only transports the request.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nuke-rewards/internal/chain"
	logging "nuke-rewards/internal/infra/log"
	"nuke-rewards/internal/infra/metrics"
	"nuke-rewards/internal/infra/retry"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const NativeMint = "So11111111111111111111111111111111111111112"

type Config struct {
	BaseURL        string
	APIKey         string
	InputMint      string
	OutputMint     string // defaults to wrapped SOL
	RequestTimeout time.Duration
}

// Client is a struct containing API client data
type Client struct {
	cfg             Config
	httpClient      *http.Client
	rateLimiter     *rate.Limiter
	circuitBreaker  *gobreaker.CircuitBreaker
	maxResponseSize int64
}

type swapRequest struct {
	InputMint    string `json:"input_mint"`
	OutputMint   string `json:"output_mint"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
}

type swapResponse struct {
	AmountOut json.Number `json:"amount_out"`
	TxRef     string      `json:"tx_ref"`
	Error     string      `json:"error,omitempty"`
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("swap base url is required")
	}
	if cfg.InputMint == "" {
		return nil, errors.New("swap input mint is required")
	}
	if cfg.OutputMint == "" {
		cfg.OutputMint = NativeMint
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	circuitBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "SwapAPI",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		cfg:             cfg,
		rateLimiter:     rate.NewLimiter(rate.Limit(2), 2),
		circuitBreaker:  circuitBreaker,
		maxResponseSize: 1 * 1024 * 1024,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}, nil
}

// Swap sells amountIn raw tokens. A fill below minOut is an error even when
// the service reports success; the result still carries the fill.
func (c *Client) Swap(ctx context.Context, amountIn *big.Int, minOut uint64) (chain.SwapResult, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return chain.SwapResult{}, errors.New("swap amount must be positive")
	}

	respBody, err := c.MakeRequest(ctx, http.MethodPost, "/swap", swapRequest{
		InputMint:    c.cfg.InputMint,
		OutputMint:   c.cfg.OutputMint,
		AmountIn:     amountIn.String(),
		MinAmountOut: strconv.FormatUint(minOut, 10),
	})
	if err != nil {
		return chain.SwapResult{}, errors.Wrap(err, "swap request failed")
	}

	var resp swapResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return chain.SwapResult{}, errors.Wrap(err, "failed to unmarshal swap response")
	}
	if resp.Error != "" {
		return chain.SwapResult{}, errors.Newf("swap rejected: %s", resp.Error)
	}
	out, err := strconv.ParseUint(resp.AmountOut.String(), 10, 64)
	if err != nil {
		return chain.SwapResult{}, errors.Wrapf(err, "invalid amount_out %q", resp.AmountOut)
	}
	res := chain.SwapResult{AmountOut: out, TxRef: resp.TxRef}
	if out < minOut {
		return res, errors.Wrapf(chain.ErrFillBelowMinimum, "got %d, want at least %d (tx %s)", out, minOut, resp.TxRef)
	}
	return res, nil
}

// MakeRequest sends one request through the rate limiter and circuit breaker.
// Requests are never retried: a repeated POST could swap twice.
func (c *Client) MakeRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	requestID := logging.GenerateRequestID()
	startTime := time.Now()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var respBody []byte
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		b, err := c.makeRequestWithContext(ctx, requestID, method, endpoint, body, startTime)
		if err != nil {
			return nil, err
		}
		respBody = b
		return b, nil
	})
	if err != nil {
		metrics.RPCRequestsTotal.WithLabelValues("swap", "error").Inc()
		logging.LogError("Swap request failed", zap.String("request_id", requestID), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, err
	}
	metrics.RPCRequestsTotal.WithLabelValues("swap", "success").Inc()
	return respBody, nil
}

func (c *Client) makeRequestWithContext(ctx context.Context, requestID, method, endpoint string, body interface{}, startTime time.Time) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	logging.LogRequest(requestID, method, endpoint, zap.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.LogResponse(requestID, 0, time.Since(startTime).Milliseconds(), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	duration := time.Since(startTime).Milliseconds()
	if err != nil {
		logging.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.String("error", "API error response received"))
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	logging.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.String("status", "success"))
	return respBody, nil
}
