// Package models defines data structures for the crawler.
package models

import "time"

// Schema is the ordered set of column names discovered from a listing page's
// header row. The schema is resolved per page; pages only share a schema when
// the site kept its header stable across pages.
type Schema struct {
	Columns []string
}

// Width returns the number of columns in the schema.
func (s Schema) Width() int {
	return len(s.Columns)
}

// Row is one parsed listing-table row. Cells are whitespace-normalized and
// padded to the owning page's maximum row width.
type Row struct {
	Seqno     string
	NoticeURL string
	PageNo    int
	Cells     []string
}

// Page is one fetched-and-parsed listing page.
type Page struct {
	Number int
	Schema Schema
	Rows   []Row

	// Fingerprint is a digest of the first row's leading cells, used to
	// detect the site repeating the last page instead of advancing.
	Fingerprint string

	// TotalCount is the record count advertised by the page text, 0 when
	// not discoverable. TotalPagesWidget is the page count read from the
	// "X page / Y" widget, 0 when the widget is absent.
	TotalCount       int
	TotalPagesWidget int
}

// DetailResult is the outcome of fetching one record's detail page. Exactly
// one result is produced per unique non-empty seqno.
type DetailResult struct {
	Seqno      string
	DetailText string
	OK         bool
	Err        string
}

// CrawlResult holds the merged dataset and counters for one crawl run.
type CrawlResult struct {
	Dataset *Dataset

	StartTime   time.Time
	EndTime     time.Time
	TotalPages  int
	PagesOK     int
	PagesFailed int
	FailedPages []int
	Aborted     bool

	DetailOK     int
	DetailFailed int
}

// RowCount returns the number of records in the merged dataset.
func (r *CrawlResult) RowCount() int {
	if r == nil || r.Dataset == nil {
		return 0
	}
	return len(r.Dataset.Records)
}
