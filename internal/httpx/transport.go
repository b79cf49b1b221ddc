// Package httpx holds the HTTP plumbing shared by every upstream client:
// one pooled transport, consistent request headers, retries and circuit
// breaking.
package httpx

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	MusicUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 15 * time.Second,
	IdleConnTimeout:       90 * time.Second,
}

// CloseIdleConnections drops pooled connections on the shared transport.
func CloseIdleConnections() {
	sharedTransport.CloseIdleConnections()
}

type consistentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *consistentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	return t.base.RoundTrip(req)
}

// Options configures NewClient.
type Options struct {
	// Timeout bounds a single attempt. Zero leaves attempts unbounded, which
	// long transfers rely on.
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
	// Base overrides the shared transport, mostly for tests.
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewClient returns a retrying client whose attempts carry consistent headers.
func NewClient(opts Options) *retryablehttp.Client {
	base := opts.Base
	if base == nil {
		base = sharedTransport
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Timeout:   opts.Timeout,
		Transport: &consistentTransport{base: base, userAgent: ua},
	}
	client.RetryMax = opts.RetryMax
	if client.RetryMax < 0 {
		client.RetryMax = 0
	}
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if opts.Logger != nil {
		client.Logger = opts.Logger
	}
	return client
}
