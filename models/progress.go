package models

// Stage identifies which pipeline stage emitted a progress event.
type Stage string

const (
	StageList   Stage = "list"
	StageDetail Stage = "detail"
)

// PageStatus is the outcome of one listing-page attempt.
type PageStatus string

const (
	PageOK       PageStatus = "page_ok"
	PageFail     PageStatus = "page_fail"
	PageNoTable  PageStatus = "page_no_table"
	NoMoreRows   PageStatus = "no_more_rows"
	RepeatPage   PageStatus = "repeat_page_detected"
)

// Progress is one crawl progress event. List-stage events carry the page
// fields, detail-stage events the done/total counters.
type Progress struct {
	Stage Stage

	// List stage.
	Page         int
	TotalPages   int
	RowsThisPage int
	RowsTotal    int
	Status       PageStatus
	Err          string

	// Detail stage.
	Done    int
	Total   int
	OKSoFar int
}
