// Package stream implements the adaptive HLS download session: playlist
// tracking, bitrate ladder, segment decryption and the manifest and media
// loops that feed a downstream sink.
package stream

import (
	"context"
	"io"
)

// Fetcher retrieves manifests, keys and segments. The returned body may be
// read incrementally; callers close it.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, uri string) (io.ReadCloser, error)

// Fetch calls f(ctx, uri).
func (f FetcherFunc) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	return f(ctx, uri)
}

// Sink receives the media bytes produced by a session.
type Sink interface {
	// Push delivers bytes. discontinuity is set on the first push of a
	// segment that breaks continuity. A non-nil error rejects the data and
	// ends the session.
	Push(data []byte, discontinuity bool) error

	// EndOfStream is called once when a finite stream has been delivered.
	EndOfStream()

	// Error is called once when the session stops on a fatal error.
	Error(err error)
}

// StreamKind identifies the kind of stream a session is initialized with.
type StreamKind int

const (
	// StreamKindHLS is an HTTP Live Streaming playlist.
	StreamKindHLS StreamKind = iota
	// StreamKindProgressive is a plain progressive download. Sessions do not
	// handle it; it is listed so callers can be rejected explicitly.
	StreamKindProgressive
)

func (k StreamKind) String() string {
	switch k {
	case StreamKindHLS:
		return "hls"
	case StreamKindProgressive:
		return "progressive"
	default:
		return "unknown"
	}
}
