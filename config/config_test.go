package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty list url",
			mutate: func(cfg *Config) {
				cfg.ListURL = ""
			},
			wantErr: "list URL",
		},
		{
			name: "list url without host",
			mutate: func(cfg *Config) {
				cfg.ListURL = "http://"
			},
			wantErr: "list URL",
		},
		{
			name: "inverted date range",
			mutate: func(cfg *Config) {
				cfg.FromDate = cfg.ToDate.AddDate(0, 0, 1)
			},
			wantErr: "from date",
		},
		{
			name: "unknown fail mode",
			mutate: func(cfg *Config) {
				cfg.FailMode = "retry"
			},
			wantErr: "fail mode",
		},
		{
			name: "negative page delay",
			mutate: func(cfg *Config) {
				cfg.PageDelay = -time.Second
			},
			wantErr: "page delay",
		},
		{
			name: "zero detail workers",
			mutate: func(cfg *Config) {
				cfg.DetailWorkers = 0
			},
			wantErr: "detail workers",
		},
		{
			name: "zero read timeout",
			mutate: func(cfg *Config) {
				cfg.ReadTimeout = 0
			},
			wantErr: "timeouts",
		},
		{
			name: "zero max attempts",
			mutate: func(cfg *Config) {
				cfg.MaxAttempts = 0
			},
			wantErr: "max attempts",
		},
		{
			name: "backoff above cap",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = 20 * time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "unknown output format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xlsx"
			},
			wantErr: "output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestListPageParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FromDate = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg.ToDate = time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	params := cfg.ListPageParams(3)
	if got := params.Get("GotoPage"); got != "3" {
		t.Fatalf("GotoPage=%q, want 3", got)
	}
	if got := params.Get("fromMonth"); got != "3" {
		t.Fatalf("fromMonth=%q, want 3", got)
	}
	if got := params.Get("toDay"); got != "15" {
		t.Fatalf("toDay=%q, want 15", got)
	}
	// Reserved filter params must be present even when empty.
	for _, key := range []string{"level", "item", "area", "kname", "ecode_B"} {
		if _, ok := params[key]; !ok {
			t.Fatalf("reserved param %q missing", key)
		}
	}
}

func TestDetailPageURL(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.DetailPageURL("12345"); !strings.HasSuffix(got, "seqno=12345") {
		t.Fatalf("detail url = %q", got)
	}
	if got := cfg.DetailPageURL(""); got != "" {
		t.Fatalf("empty seqno should yield empty url, got %q", got)
	}
}
