package enrich

import (
	"regexp"

	"github.com/aluiziolira/go-kiscon-crawler/listing"
)

// The location field is never scraped directly; it is derived from the
// detail free text by matching the labeled-field layout the site uses:
// "소재지 : <value> <next label> :". The strict pattern requires the next
// label to be one of the two known successors; the loose fallback accepts
// any short label-like token before a colon. Strict wins when both match.
var (
	locationStrictRE = regexp.MustCompile(`(?s)소재지\s*:\s*(.*?)\s*(?:업종|처분업종)\s*:`)
	locationLooseRE  = regexp.MustCompile(`소재지\s*:\s*(.*?)\s*[가-힣A-Za-z0-9ㆍ()]+\s*:`)
)

// ExtractLocation derives the location substring from normalized detail
// text. Pure function, no I/O; returns "" when no label is present.
func ExtractLocation(detailText string) string {
	if detailText == "" {
		return ""
	}
	text := listing.Normalize(detailText)
	if m := locationStrictRE.FindStringSubmatch(text); m != nil {
		return listing.Normalize(m[1])
	}
	if m := locationLooseRE.FindStringSubmatch(text); m != nil {
		return listing.Normalize(m[1])
	}
	return ""
}
