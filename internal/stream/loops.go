package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/hlsclient/pkg/playlist"
)

// manifestRequest asks the manifest loop to (re)load the current playlist,
// switching to another variant first when switchTo is set.
type manifestRequest struct {
	switchTo *int
}

// manifestEvent reports that the requested playlist is in place.
type manifestEvent struct {
	err error
}

// keySize is the length of an AES-128 key payload.
const keySize = 16

// manifestLoop owns rung selection. It serves one request at a time.
func (s *Session) manifestLoop(ctx context.Context, client *PlaylistClient, requests <-chan manifestRequest, events chan<- manifestEvent) {
	loaded := false
	for {
		var req manifestRequest
		select {
		case req = <-requests:
		case <-ctx.Done():
			return
		}

		err := s.prepareManifest(ctx, client, req, &loaded)

		select {
		case events <- manifestEvent{err: err}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) prepareManifest(ctx context.Context, client *PlaylistClient, req manifestRequest, loaded *bool) error {
	s.setState(StatePreparingManifest)

	if req.switchTo != nil {
		from := client.CurrentIndex()
		if err := client.SetCurrent(*req.switchTo); err != nil {
			return err
		}
		s.switches.Add(1)
		s.logger.Info("switching variant",
			slog.Int("from", from),
			slog.Int("to", *req.switchTo),
			slog.String("uri", client.CurrentURI()))
	}

	for {
		uri := client.CurrentURI()
		raw, err := s.fetchAll(ctx, OpManifest, uri, s.cfg.MaxPlaylistBytes)
		if err != nil {
			return err
		}

		outcome, err := client.Update(raw)
		switch {
		case err != nil && !*loaded:
			return fmt.Errorf("loading playlist %s: %w", uri, err)
		case err != nil:
			s.logger.Warn("ignoring malformed playlist",
				slog.String("uri", uri),
				slog.String("error", err.Error()),
				slog.Int("failed_updates", client.FailedUpdateCount()))
		default:
			s.logger.Debug("playlist updated",
				slog.String("uri", uri),
				slog.String("outcome", outcome.String()))
		}
		if outcome == UpdateChanged {
			*loaded = true
		}

		if client.CurrentIndex() != MasterIndex || !client.HasVariants() {
			return nil
		}

		idx, err := s.ladder.InitialRung(client.Bandwidths())
		if err != nil {
			return err
		}
		if err := client.SetCurrent(idx); err != nil {
			return err
		}
		s.logger.Info("selected initial variant",
			slog.Int("variant", idx),
			slog.Int64("bandwidth", client.Bandwidths()[idx]),
			slog.String("uri", client.CurrentURI()))
	}
}

// mediaLoop drives the session: it asks for playlists, walks segments and
// pushes their bytes to the sink.
func (s *Session) mediaLoop(ctx context.Context, client *PlaylistClient, sink Sink, requests chan<- manifestRequest, events <-chan manifestEvent) {
	m := &mediaState{client: client, sink: sink}
	req := manifestRequest{}

	for {
		select {
		case requests <- req:
		case <-ctx.Done():
			return
		}

		var ev manifestEvent
		select {
		case ev = <-events:
		case <-ctx.Done():
			return
		}
		if ev.err != nil {
			s.stopOnError(ctx, sink, ev.err)
			return
		}

		s.setState(StateStreamingMedia)

		next, finished, err := s.streamSegments(ctx, m)
		if err != nil {
			s.stopOnError(ctx, sink, err)
			return
		}
		if finished {
			s.endOfStream(sink)
			return
		}
		req = next
	}
}

func (s *Session) stopOnError(ctx context.Context, sink Sink, err error) {
	if ctx.Err() != nil {
		return
	}
	s.fail(sink, err)
}

// mediaState is owned by the media loop.
type mediaState struct {
	client *PlaylistClient
	sink   Sink

	keyURI string
	key    [keySize]byte

	forceDiscontinuity bool
}

// streamSegments pushes segments until the media loop needs a playlist
// reload or a variant switch, or the stream ends.
func (s *Session) streamSegments(ctx context.Context, m *mediaState) (manifestRequest, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return manifestRequest{}, false, err
		}

		if s.flush.Swap(false) {
			if m.client.SeekLiveEdge() {
				s.logger.Debug("flushed to live edge", slog.Uint64("cursor", m.client.Cursor()))
			}
			m.forceDiscontinuity = true
		}

		seg, discontinuity, ok := m.client.NextSegment()
		if !ok {
			if !m.client.IsLive() {
				return manifestRequest{}, true, nil
			}
			if !m.client.HasSufficientLookahead() {
				if err := s.waitReload(ctx, m.client.ReloadInterval()); err != nil {
					return manifestRequest{}, false, err
				}
			}
			return manifestRequest{}, false, nil
		}

		discontinuity = discontinuity || seg.Discontinuity || m.forceDiscontinuity
		m.forceDiscontinuity = false

		sample, err := s.streamSegment(ctx, m, seg, discontinuity)
		if err != nil {
			return manifestRequest{}, false, err
		}
		s.segments.Add(1)
		s.bandwidth.Record(sample)

		active := m.client.CurrentIndex()
		if active == MasterIndex {
			continue
		}
		if idx, changed := s.ladder.Observe(m.client.Bandwidths(), active, sample.BitsPerSecond()); changed {
			s.logger.Debug("bandwidth crossed ladder threshold",
				slog.Float64("bps", sample.BitsPerSecond()),
				slog.Int("active", active),
				slog.Int("next", idx))
			return manifestRequest{switchTo: &idx}, false, nil
		}
	}
}

// waitReload sleeps for the reload interval, returning early on Wake.
// Reloads are additionally paced by the reload limiter.
func (s *Session) waitReload(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.wake:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.limiter.Wait(ctx)
}

// streamSegment fetches one segment, decrypting it when it carries a key,
// and pushes its bytes. The returned sample counts bytes as received.
func (s *Session) streamSegment(ctx context.Context, m *mediaState, seg playlist.Segment, discontinuity bool) (BandwidthSample, error) {
	var dec *Decryptor
	if seg.Encrypted() {
		d, err := s.decryptorFor(ctx, m, seg)
		if err != nil {
			return BandwidthSample{}, err
		}
		dec = d
	}

	first := true
	push := func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		disc := first && discontinuity
		first = false
		if err := m.sink.Push(data, disc); err != nil {
			return fmt.Errorf("%w: %w", ErrSinkRejected, err)
		}
		return nil
	}

	start := time.Now()
	n, err := s.download(ctx, OpSegment, seg.URI, func(chunk []byte) error {
		if dec != nil {
			chunk = dec.Decrypt(chunk)
		}
		return push(chunk)
	})
	if err != nil {
		return BandwidthSample{}, err
	}

	if dec != nil {
		tail, ferr := dec.Finalize()
		if ferr != nil {
			if cerr := s.cryptoFailure(seg.Key.URI, ferr); cerr != nil {
				return BandwidthSample{}, cerr
			}
		}
		if err := push(tail); err != nil {
			return BandwidthSample{}, err
		}
	}

	elapsed := time.Since(start)
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}

	s.logger.Debug("segment complete",
		slog.Uint64("sequence", seg.Sequence),
		slog.Int64("bytes", n),
		slog.Duration("elapsed", elapsed),
		slog.Bool("discontinuity", discontinuity),
		slog.Bool("encrypted", dec != nil))

	return BandwidthSample{Bytes: uint64(n), Elapsed: elapsed}, nil
}

// decryptorFor returns a decryptor for seg, fetching its key unless it is
// the key of the previous encrypted segment. A nil decryptor with a nil error
// means the segment is delivered as received.
func (s *Session) decryptorFor(ctx context.Context, m *mediaState, seg playlist.Segment) (*Decryptor, error) {
	if seg.Key.URI != m.keyURI {
		raw, err := s.fetchAll(ctx, OpKey, seg.Key.URI, keySize*4)
		if err != nil {
			return nil, err
		}
		if len(raw) != keySize {
			m.keyURI = ""
			return nil, s.cryptoFailure(seg.Key.URI,
				fmt.Errorf("%w: got %d", ErrInvalidKeyLength, len(raw)))
		}
		copy(m.key[:], raw)
		m.keyURI = seg.Key.URI
	}

	var opts []DecryptorOption
	if s.cfg.StripPadding {
		opts = append(opts, WithPaddingStrip())
	}
	dec, err := NewDecryptor(m.key, seg.Key.IV, opts...)
	if err != nil {
		return nil, s.cryptoFailure(seg.Key.URI, err)
	}
	return dec, nil
}

// cryptoFailure returns the error to stop on, or nil when crypto failures
// are tolerated.
func (s *Session) cryptoFailure(keyURI string, err error) error {
	cerr := &CryptoError{KeyURI: keyURI, Err: err}
	if s.cfg.CryptoErrorsFatal {
		return cerr
	}
	s.logger.Warn("continuing without decryption", slog.String("error", cerr.Error()))
	return nil
}
