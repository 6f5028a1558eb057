// Package listing locates and parses the disposal-notice table on the
// registry's server-rendered search results.
package listing

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-kiscon-crawler/models"
)

// minHeaderHits is how many header labels must match the vocabulary before a
// table is considered the notice listing. The page carries layout tables with
// one or two coincidental labels; three has been unambiguous in practice.
const minHeaderHits = 3

// fingerprintCells bounds how many leading values feed the page fingerprint.
const fingerprintCells = 6

// headerVocabulary is the fixed set of column names the listing table is
// known to use.
var headerVocabulary = map[string]struct{}{
	"No":     {},
	"공고번호": {},
	"공고일자": {},
	"대상업체": {},
	"해당업종": {},
	"처분내용": {},
	"소재지":  {},
	"종류":   {},
	"비고":   {},
}

// noResultPhrases are the site's "no results" notices; any of them inside the
// table (or a row) means the range has no data, not that parsing failed.
var noResultPhrases = []string{
	"검색 결과가 없습니다",
	"조회 결과가 없습니다",
	"검색결과가 없습니다",
}

var (
	// seqnoRE extracts the record identifier from the client-side handler
	// the site embeds on each row, e.g. onclick="f_go_location('12345')".
	seqnoRE = regexp.MustCompile(`(?i)f_go_location\s*\(\s*['"]?(\d+)['"]?\s*\)`)

	totalCountRE = regexp.MustCompile(`총\s*([\d,]+)\s*건`)
	pageWidgetRE = regexp.MustCompile(`(?i)\b\d+\s*page\s*/\s*(\d+)\b`)

	whitespaceRE = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// Normalize collapses whitespace runs to a single space and trims. It is
// idempotent.
func Normalize(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// Parse extracts the notice listing from decoded markup. The boolean reports
// whether a qualifying table was found at all; a found table with zero rows
// is the registry's way of saying "no more data" and is not an error.
func Parse(markup string, pageNo int, urlFor func(seqno string) string) (*models.Page, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, false
	}

	table := findNoticeTable(doc)
	if table == nil {
		return nil, false
	}

	page := &models.Page{
		Number:           pageNo,
		TotalCount:       totalCount(doc),
		TotalPagesWidget: totalPagesWidget(doc),
	}

	if tableHasNoResult(table) {
		return page, true
	}

	headers := headerCells(table)
	maxWidth := 0
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return // header row
		}
		cells := tr.Find("td, th")
		if cells.Length() == 0 {
			return
		}

		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, cell *goquery.Selection) {
			row = append(row, Normalize(cell.Text()))
		})

		joined := strings.Join(row, " ")
		if containsNoResult(joined) || Normalize(joined) == "" {
			return
		}

		seqno := extractSeqno(tr)
		url := ""
		if seqno != "" && urlFor != nil {
			url = urlFor(seqno)
		}
		if len(row) > maxWidth {
			maxWidth = len(row)
		}
		page.Rows = append(page.Rows, models.Row{
			Seqno:     seqno,
			NoticeURL: url,
			PageNo:    pageNo,
			Cells:     row,
		})
	})

	if len(page.Rows) == 0 {
		return page, true
	}

	// Pad every row to the widest row seen on this page, then reconcile the
	// header names to the same width.
	for i := range page.Rows {
		for len(page.Rows[i].Cells) < maxWidth {
			page.Rows[i].Cells = append(page.Rows[i].Cells, "")
		}
	}
	page.Schema = reconcileSchema(headers, maxWidth)
	page.Fingerprint = Fingerprint(page.Rows[0])
	return page, true
}

// Fingerprint builds the duplicate-page digest from a row's leading values:
// seqno and notice URL first (the row's leading derived columns), then cell
// text, capped at fingerprintCells values.
func Fingerprint(row models.Row) string {
	values := append([]string{row.Seqno, row.NoticeURL}, row.Cells...)
	if len(values) > fingerprintCells {
		values = values[:fingerprintCells]
	}
	return strings.Join(values, "|")
}

// ResolveTotalPages decides the page count for a crawl: the page widget is
// authoritative when present, else the total record count divided by the
// first page's row count, else exactly one page.
func ResolveTotalPages(page *models.Page, rowsPerPage int) int {
	if page.TotalPagesWidget > 0 {
		return page.TotalPagesWidget
	}
	if page.TotalCount > 0 && rowsPerPage > 0 {
		pages := int(math.Ceil(float64(page.TotalCount) / float64(rowsPerPage)))
		if pages < 1 {
			pages = 1
		}
		return pages
	}
	return 1
}

func reconcileSchema(headers []string, width int) models.Schema {
	columns := append([]string(nil), headers...)
	if len(columns) > width {
		columns = columns[:width]
	}
	for i := len(columns); i < width; i++ {
		columns = append(columns, fmt.Sprintf("col_%d", i))
	}
	return models.Schema{Columns: columns}
}

func headerCells(table *goquery.Selection) []string {
	firstRow := table.Find("tr").First()
	if firstRow.Length() == 0 {
		return nil
	}
	var headers []string
	firstRow.Find("th").Each(func(_ int, th *goquery.Selection) {
		if text := Normalize(th.Text()); text != "" {
			headers = append(headers, text)
		}
	})
	return headers
}

func isNoticeTable(table *goquery.Selection) bool {
	hits := 0
	for _, header := range headerCells(table) {
		if _, ok := headerVocabulary[header]; ok {
			hits++
		}
	}
	return hits >= minHeaderHits
}

// findNoticeTable picks the qualifying table with the most rows; ties go to
// the first one in document order.
func findNoticeTable(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestRows := -1
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if !isNoticeTable(table) {
			return
		}
		if rows := table.Find("tr").Length(); rows > bestRows {
			best = table
			bestRows = rows
		}
	})
	return best
}

func tableHasNoResult(table *goquery.Selection) bool {
	return containsNoResult(Normalize(table.Text()))
}

func containsNoResult(text string) bool {
	for _, phrase := range noResultPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// extractSeqno searches the row's cells, then its anchors, for the embedded
// handler call carrying the record identifier.
func extractSeqno(tr *goquery.Selection) string {
	seqno := ""
	tr.Find("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		if onclick, ok := td.Attr("onclick"); ok {
			if m := seqnoRE.FindStringSubmatch(onclick); m != nil {
				seqno = m[1]
				return false
			}
		}
		return true
	})
	if seqno != "" {
		return seqno
	}

	tr.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		for _, attr := range []string{"onclick", "href"} {
			if value, ok := a.Attr(attr); ok {
				if m := seqnoRE.FindStringSubmatch(value); m != nil {
					seqno = m[1]
					return false
				}
			}
		}
		return true
	})
	return seqno
}

func totalCount(doc *goquery.Document) int {
	m := totalCountRE.FindStringSubmatch(Normalize(doc.Text()))
	if m == nil {
		return 0
	}
	count, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0
	}
	return count
}

func totalPagesWidget(doc *goquery.Document) int {
	m := pageWidgetRE.FindStringSubmatch(Normalize(doc.Text()))
	if m == nil {
		return 0
	}
	pages, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return pages
}
