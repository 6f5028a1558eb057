package fetch

import (
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
)

func euckrBytes(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := korean.EUCKR.NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode to euc-kr: %v", err)
	}
	return raw
}

func TestCharsetFromHeader(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        string
	}{
		{name: "standard", contentType: "text/html; charset=EUC-KR", want: "euc-kr"},
		{name: "spaced", contentType: "text/html; charset = utf-8", want: "utf-8"},
		{name: "missing", contentType: "text/html", want: ""},
		{name: "empty", contentType: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := charsetFromHeader(tt.contentType); got != tt.want {
				t.Fatalf("charsetFromHeader(%q) = %q, want %q", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestCharsetFromBody(t *testing.T) {
	t.Run("meta tag in prefix", func(t *testing.T) {
		body := []byte(`<html><head><meta http-equiv="Content-Type" content="text/html; charset=euc-kr"></head>`)
		if got := charsetFromBody(body); got != "euc-kr" {
			t.Fatalf("charsetFromBody() = %q, want euc-kr", got)
		}
	})

	t.Run("html5 meta", func(t *testing.T) {
		body := []byte(`<head><meta charset="UTF-8"></head>`)
		if got := charsetFromBody(body); got != "utf-8" {
			t.Fatalf("charsetFromBody() = %q, want utf-8", got)
		}
	})

	t.Run("meta beyond scan window", func(t *testing.T) {
		body := append([]byte(strings.Repeat("<!-- pad -->", 500)), []byte(`<meta charset="euc-kr">`)...)
		if len(body) <= metaScanBytes {
			t.Fatalf("test body too short to exceed scan window")
		}
		if got := charsetFromBody(body); got != "" {
			t.Fatalf("charsetFromBody() = %q, want empty past the scan window", got)
		}
	})

	t.Run("non-ascii bytes before meta are ignored", func(t *testing.T) {
		body := append(euckrBytes(t, "건설업"), []byte(`<meta charset="euc-kr">`)...)
		if got := charsetFromBody(body); got != "euc-kr" {
			t.Fatalf("charsetFromBody() = %q, want euc-kr", got)
		}
	})
}

func TestDecodeBody(t *testing.T) {
	const sample = "건설업체 행정처분 공고"

	tests := []struct {
		name        string
		raw         []byte
		contentType string
	}{
		{name: "header charset", raw: euckrBytes(t, sample), contentType: "text/html; charset=euc-kr"},
		{name: "header typo euckr", raw: euckrBytes(t, sample), contentType: "text/html; charset=euckr"},
		{name: "header cp949", raw: euckrBytes(t, sample), contentType: "text/html; charset=cp949"},
		{name: "meta charset only", raw: append([]byte(`<meta charset="euc-kr">`), euckrBytes(t, sample)...), contentType: "text/html"},
		{name: "legacy default", raw: euckrBytes(t, sample), contentType: ""},
		{name: "utf-8 declared", raw: []byte(sample), contentType: "text/html; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded := decodeBody(tt.raw, tt.contentType)
			if !strings.Contains(decoded, sample) {
				t.Fatalf("decoded %q does not contain %q", decoded, sample)
			}
		})
	}
}

func TestDecodeBodyNeverReturnsInvalidUTF8(t *testing.T) {
	raw := []byte{0xFF, 0xFE, 0x80, 0x81, 'o', 'k'}
	decoded := decodeBody(raw, "text/html; charset=unknown-charset")
	if !utf8.ValidString(decoded) {
		t.Fatalf("decoded output is not valid UTF-8: %q", decoded)
	}
	if !strings.Contains(decoded, "ok") {
		t.Fatalf("ascii content lost during fallback decode: %q", decoded)
	}
}
