package fetch

import (
	"context"
	"io"

	"github.com/jmylchreest/hlsclient/internal/stream"
	"github.com/jmylchreest/hlsclient/pkg/httpclient"
)

// HTTPFetcher fetches over HTTP(S) with the resilient client.
type HTTPFetcher struct {
	client *httpclient.Client
}

// NewHTTPFetcher wraps client.
func NewHTTPFetcher(client *httpclient.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch implements stream.Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	return f.client.Fetch(ctx, uri)
}

var _ stream.Fetcher = (*HTTPFetcher)(nil)
