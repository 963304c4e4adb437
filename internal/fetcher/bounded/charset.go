package bounded

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// sniffWindow is how far into the body the meta-tag charset sniff looks. The
// sniff assumes ASCII-compatible framing, which holds for every encoding the
// allow-list admits.
const sniffWindow = 1024

var (
	metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?([a-zA-Z0-9_\-]+)`)
	metaEquivRe   = regexp.MustCompile(`(?i)<meta[^>]+http-equiv\s*=\s*["']?content-type["']?[^>]*content\s*=\s*["']?[^"'>]*charset=([a-zA-Z0-9_\-]+)`)
)

// decodeBody converts raw response bytes to UTF-8 text. Charset resolution
// order: response header, then a best-effort meta-tag sniff of the first
// ~1KB, then UTF-8. Sniff failures never abort the fetch.
func decodeBody(raw []byte, contentType string) (string, error) {
	enc := encodingFromHeader(contentType)
	if enc == nil {
		enc = encodingFromMeta(raw)
	}
	if enc == nil {
		// UTF-8 default; pass bytes through unchanged.
		return string(raw), nil
	}

	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("charset decode: %w", err)
	}
	return string(decoded), nil
}

func encodingFromHeader(contentType string) encoding.Encoding {
	if contentType == "" {
		return nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil
	}
	name := params["charset"]
	if name == "" || isUTF8(name) {
		return nil
	}
	enc, _ := charset.Lookup(name)
	return enc
}

func encodingFromMeta(raw []byte) encoding.Encoding {
	window := raw
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	name := ""
	if m := metaCharsetRe.FindSubmatch(window); m != nil {
		name = string(m[1])
	} else if m := metaEquivRe.FindSubmatch(window); m != nil {
		name = string(m[1])
	}
	if name == "" || isUTF8(name) {
		return nil
	}
	enc, _ := charset.Lookup(name)
	return enc
}

func isUTF8(name string) bool {
	switch strings.ToLower(name) {
	case "utf-8", "utf8":
		return true
	default:
		return false
	}
}
