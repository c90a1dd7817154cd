// Package fetch retrieves documents from the statistics site.
//
// It owns the network side of the cache-or-fetch contract: a shared
// http.Client with a timeout and User-Agent, an optional retry policy with
// exponential backoff, and charset decoding for the site's GB2312 pages.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/pfrederiksen/geodash/internal/logger"
)

// RetrievalError reports a document that could not be obtained from the
// network (and had no cached copy to fall back on).
type RetrievalError struct {
	URL string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieving %s: %v", e.URL, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Options configures a Fetcher.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Retries   int
	Logger    *logger.Logger
}

// Fetcher downloads documents over HTTP.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	retries    int
	log        *logger.Logger
	newBackOff func() backoff.BackOff
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent: opts.UserAgent,
		retries:   opts.Retries,
		log:       opts.Logger,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Get downloads url and returns the undecoded body. Failures are returned as
// *RetrievalError. Server errors and transport failures are retried up to the
// configured number of times; 4xx responses are not.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	attempt := 0

	op := func() error {
		attempt++
		data, err := f.get(ctx, url)
		if err != nil {
			if se, ok := err.(*StatusError); ok && se.Code < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		body = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(f.retries)), ctx)
	notify := func(err error, wait time.Duration) {
		f.log.Warn("Fetch failed, retrying", logger.Fields{
			"url":     url,
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, &RetrievalError{URL: url, Err: err}
	}

	f.log.Debug("Fetched document", logger.Fields{
		"url":      url,
		"bytes":    len(body),
		"attempts": attempt,
	})
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return data, nil
}

// Decode returns a UTF-8 reader over an HTML document. When name is empty the
// encoding is sniffed from BOMs and <meta> declarations, defaulting to
// windows-1252 like browsers do; otherwise name is looked up in the WHATWG
// encoding index (e.g. "gb18030", "gbk").
func Decode(data []byte, name string) (io.Reader, error) {
	if name == "" {
		return charset.NewReader(bytes.NewReader(data), "")
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	return enc.NewDecoder().Reader(bytes.NewReader(data)), nil
}
