package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-kiscon-crawler/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ListURL = "https://kiscon.test/list.asp"
	cfg.DetailURL = "https://kiscon.test/view.asp?seqno=%s"
	cfg.MaxAttempts = 3
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	cfg.PageDelay = 0
	return cfg
}

func newTestFetcher(cfg *config.Config) (*Fetcher, *httpmock.MockTransport) {
	mt := httpmock.NewMockTransport()
	f := New(cfg)
	f.WithTransport(mt)
	return f, mt
}

func TestFetchDecodesLegacyCharsetResponse(t *testing.T) {
	const sample = "건설업체 행정처분 공고"
	cfg := testConfig()
	f, mt := newTestFetcher(cfg)

	raw := euckrBytes(t, sample)
	mt.RegisterResponder("GET", "https://kiscon.test/page", func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(http.StatusOK, raw)
		resp.Header.Set("Content-Type", "text/html; charset=euc-kr")
		return resp, nil
	})

	decoded, err := f.Fetch(context.Background(), "https://kiscon.test/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if decoded != sample {
		t.Fatalf("Fetch() = %q, want %q", decoded, sample)
	}
}

func TestFetchSendsIdentifyingHeaders(t *testing.T) {
	cfg := testConfig()
	f, mt := newTestFetcher(cfg)

	var got http.Header
	mt.RegisterResponder("GET", "https://kiscon.test/page", func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	if _, err := f.Fetch(context.Background(), "https://kiscon.test/page"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if ua := got.Get("User-Agent"); ua != cfg.UserAgent {
		t.Fatalf("User-Agent = %q, want %q", ua, cfg.UserAgent)
	}
	if referer := got.Get("Referer"); referer != cfg.ListURL {
		t.Fatalf("Referer = %q, want %q", referer, cfg.ListURL)
	}
	if lang := got.Get("Accept-Language"); lang == "" {
		t.Fatalf("Accept-Language header missing")
	}
}

func TestFetchRetriesServerError(t *testing.T) {
	cfg := testConfig()
	f, mt := newTestFetcher(cfg)

	calls := 0
	mt.RegisterResponder("GET", "https://kiscon.test/page", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusInternalServerError, "err"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "recovered"), nil
	})

	decoded, err := f.Fetch(context.Background(), "https://kiscon.test/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if decoded != "recovered" {
		t.Fatalf("Fetch() = %q, want recovered", decoded)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestFetchExhaustsRetryBudget(t *testing.T) {
	cfg := testConfig()
	f, mt := newTestFetcher(cfg)

	calls := 0
	mt.RegisterResponder("GET", "https://kiscon.test/page", func(req *http.Request) (*http.Response, error) {
		calls++
		return httpmock.NewStringResponse(http.StatusBadGateway, "bad"), nil
	})

	_, err := f.Fetch(context.Background(), "https://kiscon.test/page")
	if err == nil {
		t.Fatalf("Fetch() should fail after exhausting the budget")
	}

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error type = %T, want *NetworkError", err)
	}
	var status ErrServerStatus
	if !errors.As(err, &status) || status.StatusCode != http.StatusBadGateway {
		t.Fatalf("underlying error = %v, want server status 502", err)
	}

	// A server status is not a transport failure, so the budget runs once.
	if calls != cfg.MaxAttempts {
		t.Fatalf("calls = %d, want %d", calls, cfg.MaxAttempts)
	}
}

func TestFetchTransportFailureRunsBudgetTwice(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	f, mt := newTestFetcher(cfg)

	calls := 0
	mt.RegisterResponder("GET", "https://kiscon.test/page", func(req *http.Request) (*http.Response, error) {
		calls++
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})

	_, err := f.Fetch(context.Background(), "https://kiscon.test/page")
	if err == nil {
		t.Fatalf("Fetch() should fail when every attempt is refused")
	}

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error type = %T, want *NetworkError", err)
	}
	var conn ErrConnection
	if !errors.As(err, &conn) {
		t.Fatalf("underlying error = %v, want connection class", err)
	}

	// Connection failures earn a second full pass over the budget.
	if want := 2 * cfg.MaxAttempts; calls != want {
		t.Fatalf("calls = %d, want %d", calls, want)
	}
}

func TestFetchRecoversOnSecondBudgetPass(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	f, mt := newTestFetcher(cfg)

	calls := 0
	mt.RegisterResponder("GET", "https://kiscon.test/page", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls <= cfg.MaxAttempts {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection reset")}
		}
		return httpmock.NewStringResponse(http.StatusOK, "back up"), nil
	})

	decoded, err := f.Fetch(context.Background(), "https://kiscon.test/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v; the second pass should recover", err)
	}
	if decoded != "back up" {
		t.Fatalf("Fetch() = %q, want back up", decoded)
	}
	if calls != cfg.MaxAttempts+1 {
		t.Fatalf("calls = %d, want %d", calls, cfg.MaxAttempts+1)
	}
}

func TestFetchReturnsContentOnNonRetryableStatus(t *testing.T) {
	cfg := testConfig()
	f, mt := newTestFetcher(cfg)

	calls := 0
	mt.RegisterResponder("GET", "https://kiscon.test/page", func(req *http.Request) (*http.Response, error) {
		calls++
		resp := httpmock.NewStringResponse(http.StatusNotFound, "조회 결과가 없습니다")
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	})

	decoded, err := f.Fetch(context.Background(), "https://kiscon.test/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if decoded != "조회 결과가 없습니다" {
		t.Fatalf("Fetch() = %q", decoded)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1; odd statuses must not burn retries", calls)
	}
}

func TestFetchHonorsRetryAfterHint(t *testing.T) {
	cfg := testConfig()
	f, mt := newTestFetcher(cfg)

	calls := 0
	mt.RegisterResponder("GET", "https://kiscon.test/page", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "slow down")
			resp.Header.Set("Retry-After", "0")
			return resp, nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	decoded, err := f.Fetch(context.Background(), "https://kiscon.test/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if decoded != "ok" {
		t.Fatalf("Fetch() = %q, want ok", decoded)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "seconds", value: "7", want: 7 * time.Second},
		{name: "zero", value: "0", want: 0},
		{name: "negative", value: "-3", want: 0},
		{name: "garbage", value: "soon", want: 0},
		{name: "absent", value: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.value != "" {
				header.Set("Retry-After", tt.value)
			}
			if got := parseRetryAfter(header); got != tt.want {
				t.Fatalf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestClassifyAndLabelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "unknown"},
		{name: "deadline", err: classifyError(context.DeadlineExceeded), want: "timeout"},
		{name: "rate limited", err: ErrRateLimited{Err: errors.New("429")}, want: "rate_limited"},
		{name: "server status", err: ErrServerStatus{StatusCode: 503}, want: "server_status"},
		{name: "other", err: errors.New("boom"), want: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(tt.err); got != tt.want {
				t.Fatalf("errorTypeLabel(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransportFailure(t *testing.T) {
	if !isTransportFailure(ErrTimeout{Err: errors.New("deadline")}) {
		t.Fatalf("timeout should count as transport failure")
	}
	if !isTransportFailure(ErrConnection{Err: errors.New("refused")}) {
		t.Fatalf("connection should count as transport failure")
	}
	if isTransportFailure(ErrServerStatus{StatusCode: 500}) {
		t.Fatalf("server status should not count as transport failure")
	}
	if isTransportFailure(ErrRateLimited{Err: errors.New("429")}) {
		t.Fatalf("rate limiting should not count as transport failure")
	}
}
