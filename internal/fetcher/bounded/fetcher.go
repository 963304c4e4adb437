// Package bounded implements a single HTTP GET under strict time, size, and
// content-type bounds.
package bounded

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// Config controls fetch behavior.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

const (
	defaultTimeout  = 20 * time.Second
	defaultMaxBytes = 2 << 20 // 2 MiB

	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.5"
)

// Fetcher performs bounded HTTP GETs.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// New builds a Fetcher. A nil transport uses a pooled default.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: newHTTPTransport(),
		},
	}
}

// NewWithClient builds a Fetcher around an existing client (primarily for
// testing).
func NewWithClient(cfg Config, client *http.Client) *Fetcher {
	f := New(cfg)
	if client != nil {
		f.client = client
	}
	return f
}

// Fetch executes one GET. Redirects are followed by the transport; the
// returned FinalURL reflects them. Body bytes are streamed and the transfer
// is aborted the instant the accumulated size crosses MaxBytes.
func (f *Fetcher) Fetch(ctx context.Context, url string) (knowledge.FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return knowledge.FetchResult{}, knowledge.WrapError(knowledge.KindNetworkError, "build request", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return knowledge.FetchResult{}, classifyTransportError(url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side already consumed

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return knowledge.FetchResult{}, &knowledge.Error{
			Kind:    knowledge.KindHTTPError,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("fetch %s", url),
		}
	}

	mediaType := responseMediaType(resp)
	if !textLike(mediaType) {
		return knowledge.FetchResult{}, knowledge.NewError(
			knowledge.KindUnsupportedContentType,
			fmt.Sprintf("content type %q is not text-like", mediaType),
		)
	}

	// Reject before touching the body when the declared length already
	// exceeds the ceiling.
	if resp.ContentLength > f.cfg.MaxBytes {
		return knowledge.FetchResult{}, knowledge.NewError(
			knowledge.KindSizeLimitExceeded,
			fmt.Sprintf("declared content length %d exceeds limit %d", resp.ContentLength, f.cfg.MaxBytes),
		)
	}

	raw, err := readBounded(resp.Body, f.cfg.MaxBytes)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return knowledge.FetchResult{}, knowledge.NewError(
				knowledge.KindSizeLimitExceeded,
				fmt.Sprintf("body exceeded limit %d bytes", f.cfg.MaxBytes),
			)
		}
		if ctx.Err() != nil {
			return knowledge.FetchResult{}, knowledge.WrapError(knowledge.KindTimeout, "read body", ctx.Err())
		}
		return knowledge.FetchResult{}, knowledge.WrapError(knowledge.KindNetworkError, "read body", err)
	}

	html, err := decodeBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		// Decoding falls back to UTF-8 internally; an error here means the
		// decoder itself failed mid-stream.
		return knowledge.FetchResult{}, knowledge.WrapError(knowledge.KindNetworkError, "decode body", err)
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return knowledge.FetchResult{HTML: html, FinalURL: finalURL}, nil
}

var errTooLarge = errors.New("body too large")

// readBounded streams the body in fixed-size chunks and aborts at the first
// byte past limit, regardless of any declared length.
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	buf := make([]byte, 0, 32*1024)
	chunk := make([]byte, 32*1024)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return nil, errTooLarge
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func responseMediaType(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		// No declared type; let the decoder sniff. HTML without a header is
		// common enough that rejecting outright loses real pages.
		return "text/html"
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
	return mediaType
}

func textLike(mediaType string) bool {
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/xhtml+xml":
		return true
	case mediaType == "application/xml":
		return true
	default:
		return false
	}
}

func classifyTransportError(url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return knowledge.WrapError(knowledge.KindTimeout, fmt.Sprintf("fetch %s", url), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return knowledge.WrapError(knowledge.KindTimeout, fmt.Sprintf("fetch %s", url), err)
	}
	return knowledge.WrapError(knowledge.KindNetworkError, fmt.Sprintf("fetch %s", url), err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
