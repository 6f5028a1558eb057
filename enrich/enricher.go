// Package enrich fetches per-record detail pages under bounded concurrency
// and joins the results back into the listing dataset by record key.
package enrich

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-kiscon-crawler/config"
	"github.com/aluiziolira/go-kiscon-crawler/fetch"
	"github.com/aluiziolira/go-kiscon-crawler/listing"
	"github.com/aluiziolira/go-kiscon-crawler/models"
)

// taskJitterMax spreads worker start times so a fresh pool doesn't burst
// against the target server.
const taskJitterMax = 250 * time.Millisecond

// detailTextSelectors are tried in order; the first selector yielding
// non-empty text wins. They track the detail page's known layouts.
var detailTextSelectors = []string{
	"ul.bl3x.mglt25.clr",
	"div.subcon ul",
	"div.subcon",
}

// Error strings recorded on detail results.
const (
	errMissingURL      = "missing_url"
	errEmptyDetailText = "empty_detail_text"
)

// Enricher runs the detail-fetch stage. The LRU cache is session-scoped so
// repeated runs do not refetch unchanged notices.
type Enricher struct {
	cfg     *config.Config
	fetcher *fetch.Fetcher
	cache   *lru.Cache[string, models.DetailResult]
}

// New builds an enricher on a shared fetcher. A zero cache size disables the
// session cache.
func New(cfg *config.Config, fetcher *fetch.Fetcher) (*Enricher, error) {
	e := &Enricher{cfg: cfg, fetcher: fetcher}
	if cfg.DetailCacheSize > 0 {
		cache, err := lru.New[string, models.DetailResult](cfg.DetailCacheSize)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	return e, nil
}

type task struct {
	seqno string
	url   string
}

// Enrich fetches one detail page per unique seqno in the dataset through a
// bounded worker pool. Every failure is captured in that task's result; one
// record never aborts the batch. In-flight tasks run to completion even when
// ctx is canceled, but no new tasks start.
func (e *Enricher) Enrich(ctx context.Context, ds *models.Dataset, progress chan<- models.Progress) []models.DetailResult {
	targets := dedupeTargets(ds)
	total := len(targets)
	if total == 0 {
		return nil
	}

	workers := e.cfg.DetailWorkers
	if workers > total {
		workers = total
	}

	jobs := make(chan task)
	completions := make(chan models.DetailResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				completions <- e.fetchOne(ctx, t)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, t := range targets {
			select {
			case jobs <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(completions)
	}()

	results := make([]models.DetailResult, 0, total)
	done := 0
	okCount := 0
	for res := range completions {
		results = append(results, res)
		done++
		if res.OK {
			okCount++
		}
		emit(progress, models.Progress{
			Stage: models.StageDetail, Done: done, Total: total, OKSoFar: okCount,
		})
	}
	return results
}

// dedupeTargets keeps the first occurrence of each non-empty seqno, in
// listing order.
func dedupeTargets(ds *models.Dataset) []task {
	seqIdx := ds.ColumnIndex(models.ColSeqno)
	urlIdx := ds.ColumnIndex(models.ColNoticeURL)
	if seqIdx < 0 || urlIdx < 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var targets []task
	for _, rec := range ds.Records {
		seqno := rec[seqIdx]
		if seqno == "" {
			continue
		}
		if _, ok := seen[seqno]; ok {
			continue
		}
		seen[seqno] = struct{}{}
		targets = append(targets, task{seqno: seqno, url: rec[urlIdx]})
	}
	return targets
}

func (e *Enricher) fetchOne(ctx context.Context, t task) models.DetailResult {
	if t.url == "" {
		e.fetcher.Metrics.IncDetail("missing_url")
		return models.DetailResult{Seqno: t.seqno, Err: errMissingURL}
	}

	if e.cache != nil {
		if hit, ok := e.cache.Get(t.seqno); ok {
			e.fetcher.Metrics.IncDetail("cached")
			return hit
		}
	}

	sleepJitter(ctx)

	markup, err := e.fetcher.Fetch(ctx, t.url)
	if err != nil {
		e.fetcher.Metrics.IncDetail("error")
		return models.DetailResult{Seqno: t.seqno, Err: err.Error()}
	}

	text := DetailText(markup)
	if text == "" {
		e.fetcher.Metrics.IncDetail("empty")
		return models.DetailResult{Seqno: t.seqno, Err: errEmptyDetailText}
	}

	result := models.DetailResult{Seqno: t.seqno, DetailText: text, OK: true}
	if e.cache != nil {
		e.cache.Add(t.seqno, result)
	}
	e.fetcher.Metrics.IncDetail("ok")
	return result
}

// DetailText extracts the free-text body from detail page markup via the
// ordered candidate selectors.
func DetailText(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	for _, selector := range detailTextSelectors {
		node := doc.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		if text := listing.Normalize(node.Text()); text != "" {
			return text
		}
	}
	return ""
}

// Join left-joins detail results onto the dataset by seqno, appending the
// detail_text, detail_ok, detail_error and location columns. It returns how
// many unique records enriched ok and how many failed.
func Join(ds *models.Dataset, results []models.DetailResult) (okCount, failCount int) {
	seqIdx := ds.ColumnIndex(models.ColSeqno)
	if seqIdx < 0 {
		return 0, 0
	}

	textIdx := ds.AddColumn("detail_text")
	okIdx := ds.AddColumn("detail_ok")
	errIdx := ds.AddColumn("detail_error")
	locIdx := ds.AddColumn("location")

	byKey := make(map[string]models.DetailResult, len(results))
	for _, res := range results {
		byKey[res.Seqno] = res
		if res.OK {
			okCount++
		} else {
			failCount++
		}
	}

	for _, rec := range ds.Records {
		seqno := rec[seqIdx]
		if seqno == "" {
			// No detail task existed for this row.
			rec[okIdx] = "0"
			rec[errIdx] = errMissingURL
			continue
		}
		res, ok := byKey[seqno]
		if !ok {
			continue
		}
		rec[textIdx] = res.DetailText
		rec[errIdx] = res.Err
		rec[locIdx] = ExtractLocation(res.DetailText)
		if res.OK {
			rec[okIdx] = "1"
		} else {
			rec[okIdx] = "0"
		}
	}
	return okCount, failCount
}

func sleepJitter(ctx context.Context) {
	d := time.Duration(rand.Int63n(int64(taskJitterMax)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// emit sends a progress event without blocking on a slow consumer.
func emit(progress chan<- models.Progress, event models.Progress) {
	if progress == nil {
		return
	}
	select {
	case progress <- event:
	default:
	}
}
