// Package fetch is the single point of contact with the network. Every
// document, feed and image request goes through Fetcher, which retries
// failed attempts with exponential backoff.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	DefaultRetries        = 3
	DefaultInitialBackoff = 1 * time.Second
	DefaultTimeout        = 20 * time.Second
	DefaultUserAgent      = "Mozilla/5.0 (compatible; novel2epub/1.0)"
	defaultMaxBodySize    = 64 << 20
)

// ErrFetchFailed is the kind of every error returned after retries are
// exhausted. Transport failures, timeouts and bad statuses all collapse into
// it; the underlying cause stays reachable through errors.Unwrap.
var ErrFetchFailed = errors.New("fetch failed")

// Error describes a request that could not be completed.
type Error struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch failed: %s %s after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrFetchFailed }

// StatusError reports a response with a non-2xx status code.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// Options configures a Fetcher. Zero values select the defaults.
type Options struct {
	Retries        int
	InitialBackoff time.Duration
	Timeout        time.Duration
	UserAgent      string
	// RateLimit caps outgoing attempts per second. Zero means unlimited.
	RateLimit float64
	// MaxBodySize bounds how many bytes a single response may carry.
	MaxBodySize int64
	Client      *http.Client
	// NewTimer returns the timer used for backoff waits. Tests inject a
	// fake to observe durations without sleeping.
	NewTimer func() backoff.Timer
	Logger   *slog.Logger
}

// Request is a generic HTTP request carried opaquely through the retry loop.
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Header      http.Header
}

// Fetcher retrieves remote resources with retry and backoff. It is safe for
// concurrent use.
type Fetcher struct {
	client         *http.Client
	retries        int
	initialBackoff time.Duration
	userAgent      string
	maxBodySize    int64
	limiter        *rate.Limiter
	newTimer       func() backoff.Timer
	logger         *slog.Logger
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Fetcher{
		client:         client,
		retries:        retries,
		initialBackoff: initial,
		userAgent:      ua,
		maxBodySize:    maxBody,
		limiter:        rate.NewLimiter(limit, 1),
		newTimer:       opts.NewTimer,
		logger:         logger,
	}
}

// Get fetches url with a GET request.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return f.Fetch(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

// PostForm posts form values as application/x-www-form-urlencoded.
func (f *Fetcher) PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	return f.Fetch(ctx, Request{
		Method:      http.MethodPost,
		URL:         rawURL,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	})
}

// Fetch performs req, retrying up to the configured number of attempts.
// Waits between attempts start at the initial backoff and double each time,
// without jitter or cap. There is no wait after the final attempt.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	attempts := 0
	var body []byte
	operation := func() error {
		attempts++
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		f.logger.Debug("request", "method", method, "url", req.URL, "attempt", attempts)
		data, err := f.do(ctx, method, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body = data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.logger.Warn("request failed, retrying",
			"method", method, "url", req.URL, "attempt", attempts, "wait", wait, "error", err)
	}

	var timer backoff.Timer
	if f.newTimer != nil {
		timer = f.newTimer()
	}

	b := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(f.retries-1)), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, timer); err != nil {
		f.logger.Error("giving up on request", "method", method, "url", req.URL, "attempts", attempts, "error", err)
		return nil, &Error{Method: method, URL: req.URL, Attempts: attempts, Err: err}
	}
	return body, nil
}

func (f *Fetcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	return b
}

func (f *Fetcher) do(ctx context.Context, method string, req Request) ([]byte, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > f.maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", f.maxBodySize)
	}
	return data, nil
}
