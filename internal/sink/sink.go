// Package sink provides stream.Sink implementations.
package sink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jmylchreest/hlsclient/internal/stream"
)

// ErrClosed is returned by Push after the sink has ended.
var ErrClosed = errors.New("sink closed")

// WriterSink writes pushed bytes to an io.Writer and records how the stream
// ended. Write failures reject the push.
type WriterSink struct {
	mu              sync.Mutex
	w               io.Writer
	logger          *slog.Logger
	bytes           uint64
	pushes          uint64
	discontinuities uint64
	closed          bool
	err             error

	done chan struct{}
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer, logger *slog.Logger) *WriterSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WriterSink{
		w:      w,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Push implements stream.Sink.
func (s *WriterSink) Push(data []byte, discontinuity bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if discontinuity {
		s.discontinuities++
		s.logger.Debug("discontinuity", slog.Uint64("offset", s.bytes))
	}
	n, err := s.w.Write(data)
	s.bytes += uint64(n)
	s.pushes++
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// EndOfStream implements stream.Sink.
func (s *WriterSink) EndOfStream() {
	s.finish(nil)
}

// Error implements stream.Sink.
func (s *WriterSink) Error(err error) {
	s.finish(err)
}

func (s *WriterSink) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}

// Done is closed once the stream has ended or failed.
func (s *WriterSink) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the stream failed with, if any.
func (s *WriterSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SinkStats summarises what a WriterSink received.
type SinkStats struct {
	Bytes           uint64 `json:"bytes" yaml:"bytes"`
	Pushes          uint64 `json:"pushes" yaml:"pushes"`
	Discontinuities uint64 `json:"discontinuities" yaml:"discontinuities"`
	Ended           bool   `json:"ended" yaml:"ended"`
}

// Stats returns the current counters.
func (s *WriterSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SinkStats{
		Bytes:           s.bytes,
		Pushes:          s.pushes,
		Discontinuities: s.discontinuities,
		Ended:           s.closed,
	}
}

var _ stream.Sink = (*WriterSink)(nil)
