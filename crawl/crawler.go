// Package crawl drives the page-by-page collection of listing results and
// owns the crawl session shared across runs.
package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-kiscon-crawler/config"
	"github.com/aluiziolira/go-kiscon-crawler/fetch"
	"github.com/aluiziolira/go-kiscon-crawler/listing"
	"github.com/aluiziolira/go-kiscon-crawler/models"
)

// Crawler is the pagination controller: a sequential state machine over a
// strictly increasing page counter. Page N+1 is only fetched after page N's
// termination signals have been evaluated.
type Crawler struct {
	cfg     *config.Config
	fetcher *fetch.Fetcher
}

// NewCrawler builds a pagination controller on a shared fetcher.
func NewCrawler(cfg *config.Config, fetcher *fetch.Fetcher) *Crawler {
	return &Crawler{cfg: cfg, fetcher: fetcher}
}

// Run collects every listing page for the configured date range. A range
// with no notices yields a successful empty dataset, not an error; hard
// errors are reserved for a page-1 fetch that survives all retries.
func (c *Crawler) Run(ctx context.Context, progress chan<- models.Progress) (*models.CrawlResult, error) {
	result := &models.CrawlResult{StartTime: time.Now()}

	markup, err := c.fetcher.Fetch(ctx, c.cfg.ListPageURL(1))
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	first, found := listing.Parse(markup, 1, c.cfg.DetailPageURL)
	if !found || len(first.Rows) == 0 {
		status := models.NoMoreRows
		if !found {
			status = models.PageNoTable
		}
		c.fetcher.Metrics.IncPage(string(status))
		slog.Info("no results for date range", slog.String("status", string(status)))
		result.Dataset = models.MergePages(nil)
		result.EndTime = time.Now()
		return result, nil
	}

	rowsPerPage := len(first.Rows)
	totalPages := listing.ResolveTotalPages(first, rowsPerPage)
	result.TotalPages = totalPages

	pages := []*models.Page{first}
	rowsTotal := rowsPerPage
	lastFingerprint := first.Fingerprint

	c.fetcher.Metrics.IncPage(string(models.PageOK))
	emit(progress, models.Progress{
		Stage: models.StageList, Page: 1, TotalPages: totalPages,
		RowsThisPage: rowsPerPage, RowsTotal: rowsTotal, Status: models.PageOK,
	})

	// Courtesy spacing between page requests; burst 1 so page 1 went out
	// immediately and every later fetch waits out the interval.
	var limiter *rate.Limiter
	if c.cfg.PageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(c.cfg.PageDelay), 1)
		limiter.Allow()
	}

	for page := 2; page <= totalPages; page++ {
		if ctx.Err() != nil {
			result.Aborted = true
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				result.Aborted = true
				break
			}
		}

		markup, err := c.fetcher.Fetch(ctx, c.cfg.ListPageURL(page))
		if err != nil {
			if c.pageFailed(result, progress, page, totalPages, rowsTotal, models.PageFail, err) {
				break
			}
			continue
		}

		parsed, found := listing.Parse(markup, page, c.cfg.DetailPageURL)
		if !found {
			if c.pageFailed(result, progress, page, totalPages, rowsTotal, models.PageNoTable, nil) {
				break
			}
			continue
		}

		if len(parsed.Rows) == 0 {
			// The registry has no more data; not an error.
			c.fetcher.Metrics.IncPage(string(models.NoMoreRows))
			emit(progress, models.Progress{
				Stage: models.StageList, Page: page, TotalPages: totalPages,
				RowsTotal: rowsTotal, Status: models.NoMoreRows,
			})
			break
		}

		if parsed.Fingerprint != "" && parsed.Fingerprint == lastFingerprint {
			// The site repeats its last page instead of erroring past the
			// end; stop before paginating forever.
			c.fetcher.Metrics.IncPage(string(models.RepeatPage))
			emit(progress, models.Progress{
				Stage: models.StageList, Page: page, TotalPages: totalPages,
				RowsTotal: rowsTotal, Status: models.RepeatPage,
			})
			break
		}
		lastFingerprint = parsed.Fingerprint

		pages = append(pages, parsed)
		rowsTotal += len(parsed.Rows)
		c.fetcher.Metrics.IncPage(string(models.PageOK))
		emit(progress, models.Progress{
			Stage: models.StageList, Page: page, TotalPages: totalPages,
			RowsThisPage: len(parsed.Rows), RowsTotal: rowsTotal, Status: models.PageOK,
		})
	}

	result.PagesOK = len(pages)
	result.Dataset = models.MergePages(pages)
	result.EndTime = time.Now()
	return result, nil
}

// pageFailed records a failed page attempt and reports whether the loop
// should stop, per the configured fail mode.
func (c *Crawler) pageFailed(result *models.CrawlResult, progress chan<- models.Progress, page, totalPages, rowsTotal int, status models.PageStatus, err error) bool {
	result.PagesFailed++
	result.FailedPages = append(result.FailedPages, page)
	c.fetcher.Metrics.IncPage(string(status))

	event := models.Progress{
		Stage: models.StageList, Page: page, TotalPages: totalPages,
		RowsTotal: rowsTotal, Status: status,
	}
	if err != nil {
		event.Err = err.Error()
	}
	emit(progress, event)

	slog.Warn("listing page failed",
		slog.Int("page", page),
		slog.String("status", string(status)),
		slog.Any("error", err),
	)

	if c.cfg.FailMode == config.FailStop {
		result.Aborted = true
		return true
	}
	return false
}

// emit sends a progress event without ever blocking the crawl on a slow
// consumer; a lagging consumer loses events, not pages.
func emit(progress chan<- models.Progress, event models.Progress) {
	if progress == nil {
		return
	}
	select {
	case progress <- event:
	default:
	}
}
