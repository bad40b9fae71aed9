// Package vendortest provides a recording HTTP server that stands in for a
// vendor API in tests.
package vendortest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// Request is one request received by the vendor.
type Request struct {
	Method  string
	Path    string
	RawPath string
	Query   url.Values
	Header  http.Header
	Body    string
}

// BasicAuth returns the Basic credentials of the request.
func (r Request) BasicAuth() (username, password string, ok bool) {
	req := &http.Request{Header: r.Header}
	return req.BasicAuth()
}

// Vendor records every request before passing it to its handler.
type Vendor struct {
	*httptest.Server

	mu    sync.Mutex
	calls []Request
}

// New starts a vendor that is closed when the test ends.
func New(t testing.TB, handler http.Handler) *Vendor {
	t.Helper()
	v := &Vendor{}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		v.mu.Lock()
		v.calls = append(v.calls, Request{
			Method:  r.Method,
			Path:    r.URL.Path,
			RawPath: r.URL.EscapedPath(),
			Query:   r.URL.Query(),
			Header:  r.Header.Clone(),
			Body:    string(body),
		})
		v.mu.Unlock()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(v.Close)
	return v
}

// Calls returns the requests received so far.
func (v *Vendor) Calls() []Request {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Request(nil), v.calls...)
}

// Methods returns the method of each request received so far.
func (v *Vendor) Methods() []string {
	var methods []string
	for _, c := range v.Calls() {
		methods = append(methods, c.Method)
	}
	return methods
}

// Respond answers every request with status and a JSON body.
func Respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}
