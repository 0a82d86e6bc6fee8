// Package fetch provides the Fetcher implementations used by sessions: HTTP
// origins, local files and a scheme router over both.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/jmylchreest/hlsclient/internal/stream"
)

// URI scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

// Router dispatches fetches by URI scheme. URIs without a scheme are treated
// as local paths.
type Router struct {
	routes map[string]stream.Fetcher
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]stream.Fetcher)}
}

// NewDefaultRouter routes http and https to httpFetcher and file URIs and
// bare paths to a FileFetcher.
func NewDefaultRouter(httpFetcher stream.Fetcher) *Router {
	r := NewRouter()
	r.Handle(SchemeHTTP, httpFetcher)
	r.Handle(SchemeHTTPS, httpFetcher)
	r.Handle(SchemeFile, NewFileFetcher())
	return r
}

// Handle registers f for scheme.
func (r *Router) Handle(scheme string, f stream.Fetcher) {
	r.routes[strings.ToLower(scheme)] = f
}

// Fetch implements stream.Fetcher.
func (r *Router) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme := SchemeOf(uri)
	f, ok := r.routes[scheme]
	if !ok {
		return nil, fmt.Errorf("no fetcher for scheme %q", scheme)
	}
	return f.Fetch(ctx, uri)
}

// SchemeOf returns the lower-cased scheme of uri, or "file" for paths.
func SchemeOf(uri string) string {
	u, err := url.Parse(uri)
	// Single letter schemes are Windows drive letters.
	if err != nil || len(u.Scheme) <= 1 {
		return SchemeFile
	}
	return strings.ToLower(u.Scheme)
}

var _ stream.Fetcher = (*Router)(nil)
