package internal

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// HeaderTransport is a RoundTripper that adds default headers to requests
// that do not already set them.
type HeaderTransport struct {
	Base    http.RoundTripper
	Headers http.Header
}

func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for key, values := range t.Headers {
		if req.Header.Get(key) != "" {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewHTTPClient returns the client used for vendor calls.
// Requests are attempted exactly once.
func NewHTTPClient(timeout time.Duration, logger *slog.Logger, headers http.Header) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient.Timeout = timeout
	retryClient.HTTPClient.Transport = &HeaderTransport{
		Base:    cleanhttp.DefaultPooledTransport(),
		Headers: headers,
	}
	retryClient.Logger = nil
	if logger != nil {
		retryClient.Logger = logger
	}
	return retryClient.StandardClient()
}
