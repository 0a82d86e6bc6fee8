package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmylchreest/hlsclient/internal/observability"
	"github.com/jmylchreest/hlsclient/pkg/playlist"
	"golang.org/x/time/rate"
)

// State is the orchestrator state of a Session.
type State int32

const (
	// StateStopped is the initial and terminal state.
	StateStopped State = iota
	// StatePreparingManifest means a master or variant playlist is being loaded.
	StatePreparingManifest
	// StateStreamingMedia means segments are being fetched and pushed.
	StateStreamingMedia
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePreparingManifest:
		return "preparing_manifest"
	case StateStreamingMedia:
		return "streaming_media"
	default:
		return "unknown"
	}
}

// Session defaults.
const (
	DefaultFetchTimeout      = 30 * time.Second
	DefaultMinReloadInterval = time.Second
	DefaultMaxPlaylistBytes  = 4 * 1024 * 1024
	DefaultChunkSize         = 64 * 1024
)

// SessionConfig configures a Session.
type SessionConfig struct {
	Ladder LadderConfig

	// FetchTimeout bounds the wait for a fetch to open and the idle time
	// between two reads of its body.
	FetchTimeout time.Duration

	// MinReloadInterval is the minimum spacing of live manifest reloads.
	MinReloadInterval time.Duration

	// LookaheadFactor is the number of target durations that count as
	// sufficient lookahead.
	LookaheadFactor float64

	// StripPadding removes PKCS#7 padding from decrypted segments.
	StripPadding bool

	// CryptoErrorsFatal stops the session on key setup failures instead of
	// delivering the segment undecrypted.
	CryptoErrorsFatal bool

	// BandwidthWindow is the number of segment samples averaged for ladder
	// decisions.
	BandwidthWindow int

	MaxPlaylistBytes int64
	ChunkSize        int
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Ladder:            DefaultLadderConfig(),
		FetchTimeout:      DefaultFetchTimeout,
		MinReloadInterval: DefaultMinReloadInterval,
		LookaheadFactor:   DefaultLookaheadFactor,
		BandwidthWindow:   DefaultBandwidthWindowSize,
		MaxPlaylistBytes:  DefaultMaxPlaylistBytes,
		ChunkSize:         DefaultChunkSize,
	}
}

func (c *SessionConfig) applyDefaults() {
	def := DefaultSessionConfig()
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.MinReloadInterval < 0 {
		c.MinReloadInterval = 0
	}
	if c.LookaheadFactor <= 0 {
		c.LookaheadFactor = def.LookaheadFactor
	}
	if c.BandwidthWindow <= 0 {
		c.BandwidthWindow = def.BandwidthWindow
	}
	if c.MaxPlaylistBytes <= 0 {
		c.MaxPlaylistBytes = def.MaxPlaylistBytes
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
}

// Stats is a point-in-time view of a session's progress.
type Stats struct {
	SessionID        string  `json:"session_id" yaml:"session_id"`
	State            string  `json:"state" yaml:"state"`
	Segments         uint64  `json:"segments" yaml:"segments"`
	Bytes            uint64  `json:"bytes" yaml:"bytes"`
	LastBandwidth    float64 `json:"last_bandwidth_bps" yaml:"last_bandwidth_bps"`
	AverageBandwidth float64 `json:"average_bandwidth_bps" yaml:"average_bandwidth_bps"`
	Switches         uint64  `json:"switches" yaml:"switches"`
	Variant          int     `json:"variant" yaml:"variant"`
	VariantBandwidth int64   `json:"variant_bandwidth,omitempty" yaml:"variant_bandwidth,omitempty"`
	Cursor           uint64  `json:"cursor" yaml:"cursor"`

	// BandwidthHistory holds the per-segment rates of the averaging window,
	// oldest first.
	BandwidthHistory []float64 `json:"bandwidth_history,omitempty" yaml:"bandwidth_history,omitempty"`
}

// Session downloads an HLS stream and feeds it to a Sink. It runs a manifest
// loop and a media loop; both stop on Stop, on end of stream, or on the
// first fatal error.
//
// Sink callbacks are invoked from the media loop. They must not call Stop,
// Deinitialize or Destroy, which wait for the loops to exit.
type Session struct {
	id      string
	cfg     SessionConfig
	fetcher Fetcher
	logger  *slog.Logger

	mu        sync.Mutex
	state     State
	exiting   bool
	destroyed bool
	kind      StreamKind
	uri       string
	sink      Sink
	client    *PlaylistClient
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	terminate *sync.Once

	ladder    *Ladder
	bandwidth *BandwidthTracker
	limiter   *rate.Limiter

	wake     chan struct{}
	flush    atomic.Bool
	segments atomic.Uint64
	switches atomic.Uint64
}

// NewSession creates a stopped session.
func NewSession(cfg SessionConfig, fetcher Fetcher, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Session{
		id:        id,
		cfg:       cfg,
		fetcher:   fetcher,
		logger:    observability.WithSession(logger, id),
		bandwidth: NewBandwidthTracker(cfg.BandwidthWindow),
		wake:      make(chan struct{}, 1),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Initialize binds the session to a stream and a sink.
func (s *Session) Initialize(kind StreamKind, uri string, sink Sink) error {
	if kind != StreamKindHLS {
		return ErrUnsupportedKind
	}
	if sink == nil {
		return errors.New("sink is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionStopped
	}
	if s.done != nil {
		return ErrAlreadyStarted
	}
	s.kind = kind
	s.uri = uri
	s.sink = sink
	return nil
}

// Start begins downloading. The session runs until ctx is cancelled, Stop is
// called, the stream ends or a fatal error occurs.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionStopped
	}
	if s.sink == nil {
		return ErrNotInitialized
	}
	if s.done != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	s.exiting = false
	s.terminate = new(sync.Once)
	s.client = NewPlaylistClient(s.uri)
	s.client.lookaheadFactor = s.cfg.LookaheadFactor
	s.client.logger = observability.WithComponent(s.logger, "playlist")
	s.ladder = NewLadder(s.cfg.Ladder)
	s.bandwidth.Reset()
	s.segments.Store(0)
	s.switches.Store(0)
	s.flush.Store(false)
	s.limiter = newReloadLimiter(s.cfg.MinReloadInterval)
	s.state = StatePreparingManifest

	s.logger.Info("starting session",
		slog.String("uri", s.uri),
		slog.String("kind", s.kind.String()))

	requests := make(chan manifestRequest)
	events := make(chan manifestEvent)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.manifestLoop(runCtx, s.client, requests, events)
	}()
	go func() {
		defer wg.Done()
		s.mediaLoop(runCtx, s.client, s.sink, requests, events)
	}()

	done := s.done
	go func() {
		wg.Wait()
		cancel()
		s.mu.Lock()
		s.state = StateStopped
		if s.done == done {
			s.done = nil
		}
		s.mu.Unlock()
		close(done)
	}()
	return nil
}

func newReloadLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Pause is a flush hint for live streams: the next segment is taken from the
// live edge and pushed as discontinuous. It has no effect on finite streams.
func (s *Session) Pause() {
	s.mu.Lock()
	client := s.client
	running := s.done != nil && !s.exiting
	s.mu.Unlock()

	if !running || client == nil || !client.IsLive() {
		return
	}
	s.flush.Store(true)
	s.Wake()
}

// Wake cuts short a pending live reload wait.
func (s *Session) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop sets the exit flag, cancels outstanding fetches and waits for both
// loops to exit. It is safe to call from any state and more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return
	}
	s.exiting = true
	s.cancel()
	s.mu.Unlock()

	<-done
	s.logger.Debug("session stopped")
}

// Deinitialize stops the session and releases the stream binding.
func (s *Session) Deinitialize() {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uri = ""
	s.sink = nil
	s.client = nil
}

// Destroy deinitializes the session. A destroyed session cannot be reused.
func (s *Session) Destroy() {
	s.Deinitialize()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

// Wait blocks until the session loops have exited and returns the fatal
// error that ended the session, if any.
func (s *Session) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the current orchestrator state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	client := s.client
	state := s.state
	s.mu.Unlock()

	st := Stats{
		SessionID:        s.id,
		State:            state.String(),
		Segments:         s.segments.Load(),
		Bytes:            s.bandwidth.TotalBytes(),
		AverageBandwidth: s.bandwidth.AverageBps(),
		Switches:         s.switches.Load(),
		Variant:          MasterIndex,
		BandwidthHistory: s.bandwidth.History(),
	}
	if last, ok := s.bandwidth.Last(); ok {
		st.LastBandwidth = last.BitsPerSecond()
	}
	if client != nil {
		st.Variant = client.CurrentIndex()
		st.Cursor = client.Cursor()
		if rungs := client.Bandwidths(); st.Variant >= 0 && st.Variant < len(rungs) {
			st.VariantBandwidth = rungs[st.Variant]
		}
	}
	return st
}

// PlaylistSnapshot is a copy of a session's playlist tree.
type PlaylistSnapshot struct {
	Master  *playlist.Document `json:"master" yaml:"master"`
	Current int                `json:"current" yaml:"current"`
	Cursor  uint64             `json:"cursor" yaml:"cursor"`
}

// Snapshot returns a copy of the playlist tree of the last started session,
// or nil before Start.
func (s *Session) Snapshot() *PlaylistSnapshot {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	return &PlaylistSnapshot{
		Master:  client.Snapshot(),
		Current: client.CurrentIndex(),
		Cursor:  client.Cursor(),
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exiting {
		return
	}
	s.state = st
}

// fail ends the session with err. Only the first terminal event of a run
// reaches the sink.
func (s *Session) fail(sink Sink, err error) {
	s.end(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.logger.Error("session failed", slog.String("error", err.Error()))
		sink.Error(err)
	})
}

func (s *Session) endOfStream(sink Sink) {
	s.end(func() {
		s.logger.Info("end of stream",
			slog.Uint64("segments", s.segments.Load()),
			slog.Uint64("bytes", s.bandwidth.TotalBytes()))
		sink.EndOfStream()
	})
}

func (s *Session) end(fn func()) {
	s.mu.Lock()
	once := s.terminate
	cancel := s.cancel
	s.mu.Unlock()

	once.Do(func() {
		fn()
		s.mu.Lock()
		s.exiting = true
		s.state = StateStopped
		s.mu.Unlock()
		cancel()
	})
}
