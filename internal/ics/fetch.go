package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "homedash/internal/log"
)

const (
	// DefaultFetchTimeout bounds a single feed request.
	DefaultFetchTimeout = 10 * time.Second

	// maxFeedBytes caps the size of a feed body; larger feeds are rejected.
	maxFeedBytes = 10 << 20

	userAgent = "homedash/1.0 (+ics)"
)

var (
	// ErrFetch marks a feed that could not be retrieved: network error,
	// timeout or a non-2xx response.
	ErrFetch = errors.New("ics: fetch failed")
	// ErrFeedParse marks a payload that is not a usable iCalendar document.
	ErrFeedParse = errors.New("ics: feed parse failed")
)

// StatusError is returned (wrapped in ErrFetch) for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return "unexpected status " + e.Status
}

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config calendar ID).
	ID string
	// URL is the ICS endpoint, possibly using the webcal alias.
	URL string
}

// HTTPDoer is the subset of *http.Client used by Fetcher.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher retrieves raw calendar payloads. It keeps no state between calls.
type Fetcher struct {
	client  HTTPDoer
	timeout time.Duration
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c HTTPDoer) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithTimeout overrides DefaultFetchTimeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewFetcher creates a new ICS Fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{timeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}
	return f
}

// NormalizeURL rewrites the webcal:// and webcals:// aliases to https://.
// webcal is only a hint for calendar apps; the feed is always served over HTTP.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "webcal", "webcals":
		u.Scheme = "https"
	case "":
		return "", fmt.Errorf("url %q has no scheme", RedactURL(raw))
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", RedactURL(raw))
	}
	return u.String(), nil
}

// Fetch issues a single GET for the feed and returns the body. Every failure
// wraps ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	appLog.Debug("ics fetch start", "url", RedactURL(target))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %w", ErrFetch, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if len(body) > maxFeedBytes {
		return nil, fmt.Errorf("%w: feed larger than %d bytes", ErrFetch, maxFeedBytes)
	}

	appLog.Debug("ics fetch success", "url", RedactURL(target), "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

// RedactURL hides sensitive parts of an ICS URL for logging purposes.
// Private feed URLs usually embed a token in the path or query.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	i += 3

	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
