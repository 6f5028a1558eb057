// Package config holds crawler configuration.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// FailMode controls how the pagination loop reacts to a failed page.
type FailMode string

const (
	// FailContinue skips the failed page and proceeds to the next one.
	FailContinue FailMode = "continue"
	// FailStop terminates the run, keeping pages collected so far.
	FailStop FailMode = "stop"
)

// Config holds one crawl run's query and runtime knobs. It is immutable for
// the duration of the run.
type Config struct {
	ListURL   string
	DetailURL string // format string taking the record seqno

	FromDate time.Time
	ToDate   time.Time

	FailMode      FailMode
	PageDelay     time.Duration
	FetchDetails  bool
	DetailWorkers int

	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	MaxAttempts     int // HTTP-layer retry budget per fetch
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	DetailCacheSize int // session detail cache entries, 0 disables

	OutputFile   string
	OutputFormat string // csv, json, or dual
	UserAgent    string
	MetricsAddr  string
	Verbose      bool
}

// DefaultConfig returns conservative defaults for the KISCON registry.
func DefaultConfig() *Config {
	yesterday := time.Now().AddDate(0, 0, -1)
	return &Config{
		ListURL:         "https://www.kiscon.net/cis/coad_disposenotice_07.asp",
		DetailURL:       "https://www.kiscon.net/cis/coad_disposenotice_view_07.asp?seqno=%s",
		FromDate:        yesterday.AddDate(0, 0, -1),
		ToDate:          yesterday,
		FailMode:        FailContinue,
		PageDelay:       50 * time.Millisecond,
		FetchDetails:    true,
		DetailWorkers:   6,
		ConnectTimeout:  8 * time.Second,
		ReadTimeout:     60 * time.Second,
		MaxAttempts:     5,
		RetryBackoff:    800 * time.Millisecond,
		RetryBackoffMax: 10 * time.Second,
		DetailCacheSize: 4096,
		OutputFile:      "output/notices.csv",
		OutputFormat:    "csv",
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Verbose:         false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListURL == "" {
		return fmt.Errorf("list URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.ListURL)
	if err != nil {
		return fmt.Errorf("invalid list URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("list URL must include a host")
	}
	if c.DetailURL == "" {
		return fmt.Errorf("detail URL cannot be empty")
	}
	if c.FromDate.IsZero() || c.ToDate.IsZero() {
		return fmt.Errorf("date range must be set")
	}
	if c.FromDate.After(c.ToDate) {
		return fmt.Errorf("from date %s is after to date %s",
			c.FromDate.Format("2006-01-02"), c.ToDate.Format("2006-01-02"))
	}
	if c.FailMode != FailContinue && c.FailMode != FailStop {
		return fmt.Errorf("fail mode must be continue or stop")
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.DetailWorkers <= 0 {
		return fmt.Errorf("detail workers must be positive")
	}
	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.DetailCacheSize < 0 {
		return fmt.Errorf("detail cache size cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

// ListPageParams returns the listing endpoint's query parameters for one page
// of the configured date range. The empty values are filter parameters the
// site reserves; it rejects requests that omit them.
func (c *Config) ListPageParams(page int) url.Values {
	v := url.Values{}
	v.Set("mode", "1")
	v.Set("GotoPage", fmt.Sprintf("%d", page))
	v.Set("fromYear", fmt.Sprintf("%d", c.FromDate.Year()))
	v.Set("toYear", fmt.Sprintf("%d", c.ToDate.Year()))
	v.Set("fromMonth", fmt.Sprintf("%d", int(c.FromDate.Month())))
	v.Set("toMonth", fmt.Sprintf("%d", int(c.ToDate.Month())))
	v.Set("fromDay", fmt.Sprintf("%d", c.FromDate.Day()))
	v.Set("toDay", fmt.Sprintf("%d", c.ToDate.Day()))
	for _, reserved := range []string{
		"level", "item", "area", "areadetail", "decode",
		"mattercode", "accept", "kname", "ecode_A", "ecode_B",
	} {
		v.Set(reserved, "")
	}
	return v
}

// ListPageURL builds the listing URL for one page number.
func (c *Config) ListPageURL(page int) string {
	return c.ListURL + "?" + c.ListPageParams(page).Encode()
}

// DetailPageURL builds the detail URL for a record seqno, empty when the
// seqno is empty.
func (c *Config) DetailPageURL(seqno string) string {
	if seqno == "" {
		return ""
	}
	return fmt.Sprintf(c.DetailURL, seqno)
}
