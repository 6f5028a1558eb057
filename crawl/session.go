package crawl

import (
	"context"
	"time"

	"github.com/aluiziolira/go-kiscon-crawler/config"
	"github.com/aluiziolira/go-kiscon-crawler/enrich"
	"github.com/aluiziolira/go-kiscon-crawler/fetch"
	"github.com/aluiziolira/go-kiscon-crawler/models"
)

// Session owns the state shared across crawl runs: the HTTP connection pool
// and the detail-result cache. The caller holds the session; nothing here is
// ambient or global.
type Session struct {
	cfg      *config.Config
	Fetcher  *fetch.Fetcher
	enricher *enrich.Enricher
}

// NewSession builds a session from a validated config.
func NewSession(cfg *config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fetcher := fetch.New(cfg)
	enricher, err := enrich.New(cfg, fetcher)
	if err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, Fetcher: fetcher, enricher: enricher}, nil
}

// Run executes one full crawl: listing pages, then detail enrichment when
// enabled. Progress events are sent to the optional channel; the caller owns
// and drains it.
func (s *Session) Run(ctx context.Context, progress chan<- models.Progress) (*models.CrawlResult, error) {
	crawler := NewCrawler(s.cfg, s.Fetcher)
	result, err := crawler.Run(ctx, progress)
	if err != nil {
		return nil, err
	}

	if s.cfg.FetchDetails && result.RowCount() > 0 {
		results := s.enricher.Enrich(ctx, result.Dataset, progress)
		ok, failed := enrich.Join(result.Dataset, results)
		result.DetailOK = ok
		result.DetailFailed = failed
		result.EndTime = time.Now()
	}
	return result, nil
}
