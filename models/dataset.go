package models

import "fmt"

// Derived column names always present in a merged dataset, ahead of the
// columns discovered from the listing header.
const (
	ColPage      = "page"
	ColSeqno     = "seqno"
	ColNoticeURL = "notice_url"
)

// Dataset is the tabular crawl output: named columns plus string records.
// Records all share the dataset's width.
type Dataset struct {
	Columns []string
	Records [][]string
}

// NewDataset builds an empty dataset with the given columns.
func NewDataset(columns ...string) *Dataset {
	return &Dataset{Columns: append([]string(nil), columns...)}
}

// ColumnIndex returns the position of the named column, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// AddColumn appends a new column, backfilling existing records with empty
// strings, and returns its index. An existing column is returned as is.
func (d *Dataset) AddColumn(name string) int {
	if i := d.ColumnIndex(name); i >= 0 {
		return i
	}
	d.Columns = append(d.Columns, name)
	for i := range d.Records {
		d.Records[i] = append(d.Records[i], "")
	}
	return len(d.Columns) - 1
}

// MergePages concatenates parsed pages into one dataset. Columns are aligned
// by header name across pages, so a page whose header drifted from page 1
// still lands its cells under the right names; names unseen so far are
// appended and earlier records backfilled.
func MergePages(pages []*Page) *Dataset {
	ds := NewDataset(ColPage, ColSeqno, ColNoticeURL)
	for _, page := range pages {
		idx := make([]int, page.Schema.Width())
		for i, name := range page.Schema.Columns {
			idx[i] = ds.AddColumn(name)
		}
		for _, row := range page.Rows {
			rec := make([]string, len(ds.Columns))
			rec[0] = fmt.Sprintf("%d", row.PageNo)
			rec[1] = row.Seqno
			rec[2] = row.NoticeURL
			for i, cell := range row.Cells {
				if i < len(idx) {
					rec[idx[i]] = cell
				}
			}
			ds.Records = append(ds.Records, rec)
		}
	}
	return ds
}
