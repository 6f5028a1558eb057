// Package fetch issues charset-robust HTTP GETs against the registry with
// retry and backoff.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aluiziolira/go-kiscon-crawler/config"
)

// outerAttempts is the manual retry count wrapped around the HTTP-layer
// budget for timeout/connection class failures.
const outerAttempts = 2

// Fetcher issues GET requests with a shared connection pool. It is safe for
// concurrent use; one instance is reused by the sequential listing fetches
// and all detail workers of a crawl run.
type Fetcher struct {
	client  *http.Client
	cfg     *config.Config
	Metrics *Metrics
}

// New builds a fetcher configured from cfg.
func New(cfg *config.Config) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
		},
		cfg:     cfg,
		Metrics: NewMetrics(),
	}
}

// WithTransport swaps the underlying round tripper. Used by tests.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.client.Transport = rt
}

// Fetch issues a GET and returns the decoded markup. It fails with a
// *NetworkError only after the HTTP-layer retry budget has been exhausted on
// every outer attempt.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= outerAttempts; attempt++ {
		decoded, err := f.fetchWithBudget(ctx, url)
		if err == nil {
			return decoded, nil
		}
		lastErr = err

		// Only transport failures earn a second pass over the budget;
		// everything else has already been retried as far as it will go.
		if !isTransportFailure(err) {
			break
		}
		if attempt < outerAttempts {
			slog.Debug("fetch budget exhausted, retrying once more",
				slog.String("url", url),
				slog.Any("error", err),
			)
			if sleepErr := sleepCtx(ctx, outerRetryDelay(attempt)); sleepErr != nil {
				break
			}
		}
	}

	f.Metrics.IncError(errorTypeLabel(lastErr))
	return "", &NetworkError{URL: url, Attempts: f.cfg.MaxAttempts, Err: lastErr}
}

// fetchWithBudget runs one pass of the HTTP-layer retry budget: up to
// MaxAttempts tries with exponential backoff and jitter, honoring a
// server-supplied Retry-After delay when present.
func (f *Fetcher) fetchWithBudget(ctx context.Context, url string) (string, error) {
	var decoded string
	var retryAfter time.Duration

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.cfg.RetryBackoff
	exp.MaxInterval = f.cfg.RetryBackoffMax

	var bo backoff.BackOff = &serverHintBackOff{next: exp, hint: &retryAfter}
	bo = backoff.WithMaxRetries(bo, uint64(f.cfg.MaxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	op := func() error {
		retryAfter = 0
		body, header, status, err := f.doGet(ctx, url)
		if err != nil {
			return classifyError(err)
		}

		switch status {
		case http.StatusTooManyRequests:
			retryAfter = parseRetryAfter(header)
			return ErrRateLimited{Err: fmt.Errorf("http status %d", status)}
		case http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			retryAfter = parseRetryAfter(header)
			return ErrServerStatus{StatusCode: status}
		}

		// Any other status carries page content worth parsing; the site
		// serves its "no results" notice with odd statuses at times.
		decoded = decodeBody(body, header.Get("Content-Type"))
		return nil
	}

	notify := func(err error, next time.Duration) {
		f.Metrics.IncRetries()
		slog.Debug("fetch retry scheduled",
			slog.String("url", url),
			slog.Duration("backoff", next),
			slog.Any("error", err),
		)
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return "", err
	}
	return decoded, nil
}

func (f *Fetcher) doGet(ctx context.Context, url string) ([]byte, http.Header, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, 0, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Referer", f.cfg.ListURL)
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Connection", "keep-alive")

	f.Metrics.IncRequest("started")
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	f.Metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return nil, nil, 0, err
	}
	return body, resp.Header, resp.StatusCode, nil
}

// outerRetryDelay mirrors the courtesy pause before the second pass over the
// budget: 0.8s per attempt plus 0.1-0.6s of jitter.
func outerRetryDelay(attempt int) time.Duration {
	jitter := 0.1 + rand.Float64()*0.5
	return time.Duration((0.8*float64(attempt) + jitter) * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseRetryAfter reads a Retry-After header as delay seconds or an HTTP
// date. Returns 0 when absent or unusable.
func parseRetryAfter(header http.Header) time.Duration {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// serverHintBackOff prefers a server-supplied Retry-After delay over the
// exponential schedule for the next wait. The inner schedule still advances
// so later waits keep growing.
type serverHintBackOff struct {
	next backoff.BackOff
	hint *time.Duration
}

func (b *serverHintBackOff) NextBackOff() time.Duration {
	d := b.next.NextBackOff()
	if *b.hint > 0 {
		return *b.hint
	}
	return d
}

func (b *serverHintBackOff) Reset() {
	b.next.Reset()
}
