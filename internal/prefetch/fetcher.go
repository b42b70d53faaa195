package prefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// Fetcher retrieves the leading maxBytes of a segment. A maxBytes of zero
// or less asks for the whole resource. Implementations must honor ctx
// cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, url string, maxBytes int64) (Payload, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string, maxBytes int64) (Payload, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string, maxBytes int64) (Payload, error) {
	return f(ctx, url, maxBytes)
}

// HTTPFetcher fetches segments with byte-range GET requests. Requests are
// paced by a token bucket so that a burst of prefetches does not hammer
// the audio host.
type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// HTTPFetcherConfig configures an HTTPFetcher.
type HTTPFetcherConfig struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client

	// RequestsPerSecond limits request starts; zero disables pacing.
	RequestsPerSecond float64

	// Burst defaults to 2.
	Burst int

	UserAgent string
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(config HTTPFetcherConfig) *HTTPFetcher {
	if config.Client == nil {
		config.Client = http.DefaultClient
	}
	if config.Burst <= 0 {
		config.Burst = 2
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &HTTPFetcher{
		client:    config.Client,
		limiter:   rate.NewLimiter(limit, config.Burst),
		userAgent: config.UserAgent,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, maxBytes int64) (Payload, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Payload{}, &FetchError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Payload{}, &FetchError{URL: url, Err: err}
	}
	if maxBytes > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", maxBytes-1))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Payload{}, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	var total int64
	switch resp.StatusCode {
	case http.StatusOK:
		total = resp.ContentLength
	case http.StatusPartialContent:
		total = parseContentRangeTotal(resp.Header.Get("Content-Range"))
	default:
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Payload{}, &FetchError{URL: url, Status: resp.StatusCode}
	}

	body := io.Reader(resp.Body)
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Payload{}, &FetchError{URL: url, Err: err}
	}

	n := int64(len(data))
	complete := (total >= 0 && n >= total) || (total < 0 && (maxBytes <= 0 || n < maxBytes))
	if total < 0 && complete {
		total = n
	}

	return Payload{Data: data, Complete: complete, Total: total}, nil
}

// parseContentRangeTotal extracts the full length from a header such as
// "bytes 0-1023/4096". It returns -1 when the length is unknown.
func parseContentRangeTotal(h string) int64 {
	_, size, found := strings.Cut(h, "/")
	if !found || size == "*" {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(size), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
