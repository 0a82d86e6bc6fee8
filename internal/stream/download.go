package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/hlsclient/internal/observability"
)

type fetchResult struct {
	body io.ReadCloser
	err  error
}

// open issues a fetch and waits for it to produce a body, for the fetch
// timeout, or for ctx to end, whichever happens first.
func (s *Session) open(ctx context.Context, op, uri string) (io.ReadCloser, error) {
	results := make(chan fetchResult, 1)
	go func() {
		body, err := s.fetcher.Fetch(ctx, uri)
		results <- fetchResult{body: body, err: err}
	}()

	timer := time.NewTimer(s.cfg.FetchTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &TransportError{Op: op, URI: uri, Err: r.err}
		}
		if r.body == nil {
			return nil, &TransportError{Op: op, URI: uri, Err: errors.New("empty response")}
		}
		return r.body, nil
	case <-timer.C:
		go discard(results)
		return nil, &TransportError{Op: op, URI: uri, Err: ErrFetchTimeout}
	case <-ctx.Done():
		go discard(results)
		return nil, ctx.Err()
	}
}

// discard closes the body of a fetch nobody waits for anymore.
func discard(results <-chan fetchResult) {
	if r := <-results; r.body != nil {
		_ = r.body.Close()
	}
}

// download streams the body at uri to fn in chunks. A body that stays idle
// for longer than the fetch timeout is abandoned. fn errors are returned as
// is; fetch failures as *TransportError.
func (s *Session) download(ctx context.Context, op, uri string, fn func(chunk []byte) error) (int64, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := s.open(fetchCtx, op, uri)
	if err != nil {
		return 0, err
	}

	var (
		timedOut  atomic.Bool
		closeOnce sync.Once
	)
	closeBody := func() {
		closeOnce.Do(func() { _ = body.Close() })
	}
	defer closeBody()

	watchdog := time.AfterFunc(s.cfg.FetchTimeout, func() {
		timedOut.Store(true)
		cancel()
		closeBody()
	})
	defer watchdog.Stop()

	buf := make([]byte, s.cfg.ChunkSize)
	var total int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			watchdog.Reset(s.cfg.FetchTimeout)
			total += int64(n)
			s.logger.Log(ctx, observability.LevelTrace, "chunk received",
				slog.String("op", op),
				slog.String("uri", uri),
				slog.Int("bytes", n),
				slog.Int64("total", total))
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := fn(chunk); err != nil {
				return total, err
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			switch {
			case timedOut.Load():
				return total, &TransportError{Op: op, URI: uri, Err: ErrFetchTimeout}
			case ctx.Err() != nil:
				return total, ctx.Err()
			default:
				return total, &TransportError{Op: op, URI: uri, Err: rerr}
			}
		}
	}
}

// fetchAll downloads a complete payload of at most limit bytes.
func (s *Session) fetchAll(ctx context.Context, op, uri string, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	_, err := s.download(ctx, op, uri, func(chunk []byte) error {
		if int64(buf.Len()+len(chunk)) > limit {
			return &TransportError{Op: op, URI: uri, Err: fmt.Errorf("payload exceeds %d bytes", limit)}
		}
		buf.Write(chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
