package fetch

import (
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/korean"
)

// The registry's Content-Type header is not trustworthy: pages have shipped
// with a missing, wrong, or misspelled charset. Decoding therefore runs a
// priority cascade (header, in-document meta tag, legacy default) and falls
// back through sibling encodings instead of failing.

const (
	// metaScanBytes bounds the raw-byte prefix scanned for a meta charset.
	metaScanBytes = 5000

	// legacyCharset is assumed when nothing advertises a charset.
	legacyCharset = "euc-kr"
)

var (
	headerCharsetRE = regexp.MustCompile(`(?i)charset\s*=\s*([a-zA-Z0-9_\-]+)`)
	metaCharsetRE   = regexp.MustCompile(`(?i)charset=["']?\s*([a-zA-Z0-9_\-]+)`)
)

// charsetFromHeader extracts a charset token from a Content-Type header.
func charsetFromHeader(contentType string) string {
	m := headerCharsetRE.FindStringSubmatch(contentType)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// charsetFromBody scans the leading raw bytes as ASCII for a charset= token
// in a meta tag. Non-ASCII bytes are dropped before matching, mirroring an
// ASCII decode that ignores errors.
func charsetFromBody(raw []byte) string {
	head := raw
	if len(head) > metaScanBytes {
		head = head[:metaScanBytes]
	}
	ascii := make([]byte, 0, len(head))
	for _, b := range head {
		if b < 0x80 {
			ascii = append(ascii, b)
		}
	}
	m := metaCharsetRE.FindSubmatch(ascii)
	if m == nil {
		return ""
	}
	return strings.ToLower(string(m[1]))
}

// decodeBody converts a raw response payload to UTF-8 text. The resolved
// charset is tried first; the EUC-KR family also tries its CP949 sibling
// before the universal fallbacks. Undecodable sequences become U+FFFD, so
// decoding never fails a fetch.
func decodeBody(raw []byte, contentType string) string {
	charset := charsetFromHeader(contentType)
	if charset == "" {
		charset = charsetFromBody(raw)
	}
	if charset == "" {
		charset = legacyCharset
	}

	candidates := []string{charset}
	if charset == "euc-kr" || charset == "euckr" {
		candidates = append(candidates, "cp949")
	}
	candidates = append(candidates, "cp949", "utf-8")

	seen := make(map[string]struct{}, len(candidates))
	for _, name := range candidates {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if decoded, ok := decodeAs(raw, name); ok {
			return decoded
		}
	}
	return strings.ToValidUTF8(string(raw), "�")
}

func decodeAs(raw []byte, name string) (string, bool) {
	switch name {
	case "utf-8", "utf8":
		return strings.ToValidUTF8(string(raw), "�"), true
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		// "euckr" is a header typo seen in the wild; "cp949" is a vendor
		// alias. Neither is a WHATWG label, but both mean the same x/text
		// encoding (its EUC-KR covers the full Windows-949 repertoire).
		switch name {
		case "euckr", "cp949", "ms949":
			enc = korean.EUCKR
		default:
			return "", false
		}
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}
