package retry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

const defaultBaseDelay = 300 * time.Millisecond

// HTTPError is a non-2xx response from an HTTP collaborator.
type HTTPError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error: <nil>"
	}
	if len(e.Body) == 0 {
		return fmt.Sprintf("http error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("http error (%d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *HTTPError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Retryable marks extra errors as worth another attempt. Temporary
	// HTTPErrors always are.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(err error, wait time.Duration)
}

func (o Options) retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) && he.Temporary() {
		return true
	}
	return o.Retryable != nil && o.Retryable(err)
}

// Do calls fn until it succeeds, fails with a non-retryable error or runs out
// of retries. Waits grow exponentially with jitter up to MaxDelay; a 429 with
// Retry-After replaces the next wait.
func Do(ctx context.Context, opts Options, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.BaseDelay
	if opts.MaxDelay > 0 {
		exp.MaxInterval = opts.MaxDelay
	}
	exp.MaxElapsedTime = 0

	waits := &hintedBackOff{BackOff: exp, limit: opts.MaxDelay}
	policy := backoff.WithContext(backoff.WithMaxRetries(waits, uint64(max(opts.MaxRetries, 0))), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !opts.retryable(err) {
			return backoff.Permanent(err)
		}
		var he *HTTPError
		if errors.As(err, &he) && he.StatusCode == http.StatusTooManyRequests {
			waits.hint = he.RetryAfter
		}
		return err
	}, policy, opts.OnRetry)
}

// hintedBackOff prefers a server-provided wait for the next attempt and never
// waits longer than limit, jitter included.
type hintedBackOff struct {
	backoff.BackOff
	limit time.Duration
	hint  time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	hint := b.hint
	b.hint = 0
	if next == backoff.Stop {
		return next
	}
	if hint > 0 {
		next = hint
	}
	if b.limit > 0 && next > b.limit {
		next = b.limit
	}
	return next
}

func (b *hintedBackOff) Reset() {
	b.hint = 0
	b.BackOff.Reset()
}
