package stream

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/hlsclient/pkg/playlist"
)

// UpdateOutcome is the result of feeding fresh playlist text to a client.
type UpdateOutcome int

const (
	// UpdateUnchanged means the text was byte-identical to the last stored text.
	UpdateUnchanged UpdateOutcome = iota
	// UpdateChanged means a new document replaced the previous one.
	UpdateChanged
	// UpdateFailed means the text could not be parsed; the previous document is kept.
	UpdateFailed
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateUnchanged:
		return "unchanged"
	case UpdateChanged:
		return "changed"
	case UpdateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MasterIndex selects the master document as the current document.
const MasterIndex = -1

// reloadFactors scale the target duration by the number of reloads that
// produced no visible change.
var reloadFactors = [...]float64{1, 0.5, 1.5, 3}

// DefaultLookaheadFactor is how many target durations of segments must be
// queued beyond the cursor for the lookahead to count as sufficient.
const DefaultLookaheadFactor = 3

// PlaylistClient owns the playlist document tree of a session and tracks the
// active variant and the fetch cursor. It is safe for concurrent use.
type PlaylistClient struct {
	mu sync.Mutex

	master  *playlist.Document
	current int

	cursor            uint64
	failedUpdateCount int
	lastText          []byte

	lookaheadFactor float64
	logger          *slog.Logger
}

// NewPlaylistClient creates a client for the playlist at uri. Until the first
// successful Update the master document is an empty live playlist.
func NewPlaylistClient(uri string) *PlaylistClient {
	return &PlaylistClient{
		master: &playlist.Document{
			URI:            uri,
			IsLive:         true,
			AllowCache:     true,
			TargetDuration: playlist.DefaultTargetDuration,
		},
		current:         MasterIndex,
		lookaheadFactor: DefaultLookaheadFactor,
	}
}

func (c *PlaylistClient) currentDoc() *playlist.Document {
	if c.current == MasterIndex {
		return c.master
	}
	return c.master.Variants[c.current]
}

// Update parses raw into the current document. Identical text and parse
// failures both count towards the reload back-off.
func (c *PlaylistClient) Update(raw []byte) (UpdateOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastText != nil && bytes.Equal(raw, c.lastText) {
		c.failedUpdateCount++
		return UpdateUnchanged, nil
	}

	cur := c.currentDoc()
	doc, err := playlist.ParseWithOptions(raw, cur.URI, playlist.Options{
		SequenceBase: cur.MediaSequenceBase,
		Logger:       c.logger,
	})
	if err != nil {
		c.failedUpdateCount++
		return UpdateFailed, err
	}

	if c.current == MasterIndex {
		c.master = doc
	} else {
		// The variant attributes live in the master, not in the media playlist.
		doc.Bandwidth = cur.Bandwidth
		doc.ProgramID = cur.ProgramID
		doc.Resolution = cur.Resolution
		doc.Codecs = cur.Codecs
		c.master.Variants[c.current] = doc
	}
	c.lastText = bytes.Clone(raw)
	return UpdateChanged, nil
}

// SetCurrent makes the variant at index (or MasterIndex) the current
// document and resets the reload back-off. The cursor is kept.
func (c *PlaylistClient) SetCurrent(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < MasterIndex || index >= len(c.master.Variants) {
		return fmt.Errorf("variant index %d out of range [%d, %d)", index, MasterIndex, len(c.master.Variants))
	}
	c.current = index
	c.failedUpdateCount = 0
	c.lastText = nil
	return nil
}

// NextSegment returns the first segment at or after the cursor and advances
// the cursor past it. discontinuity reports whether segments were skipped.
func (c *PlaylistClient) NextSegment() (seg playlist.Segment, discontinuity bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.currentDoc().Segments {
		if s.Sequence < c.cursor {
			continue
		}
		discontinuity = s.Sequence != c.cursor
		c.cursor = s.Sequence + 1
		return s, discontinuity, true
	}
	return playlist.Segment{}, false, false
}

// HasSufficientLookahead reports whether the queued segments at or after the
// cursor add up to more than three target durations.
func (c *PlaylistClient) HasSufficientLookahead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.currentDoc()
	var queued time.Duration
	for _, s := range doc.Segments {
		if s.Sequence >= c.cursor {
			queued += s.Duration
		}
	}
	return queued > time.Duration(float64(doc.TargetDuration)*c.lookaheadFactor)
}

// SeekLiveEdge moves the cursor forward so that roughly three target
// durations of the newest segments remain queued. It never moves backwards.
func (c *PlaylistClient) SeekLiveEdge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.currentDoc()
	if !doc.IsLive || len(doc.Segments) == 0 {
		return false
	}
	window := time.Duration(float64(doc.TargetDuration) * c.lookaheadFactor)
	var queued time.Duration
	edge := doc.Segments[len(doc.Segments)-1].Sequence
	for i := len(doc.Segments) - 1; i >= 0; i-- {
		queued += doc.Segments[i].Duration
		edge = doc.Segments[i].Sequence
		if queued >= window {
			break
		}
	}
	if edge <= c.cursor {
		return false
	}
	c.cursor = edge
	return true
}

// ReloadInterval is the wait before the next manifest reload.
func (c *PlaylistClient) ReloadInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.failedUpdateCount
	if n >= len(reloadFactors) {
		n = len(reloadFactors) - 1
	}
	return time.Duration(float64(c.currentDoc().TargetDuration) * reloadFactors[n])
}

// IsLive reports whether the current document is still open-ended.
func (c *PlaylistClient) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDoc().IsLive
}

// HasVariants reports whether the master document lists variant streams.
func (c *PlaylistClient) HasVariants() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master.IsMaster()
}

// Bandwidths returns the variant ladder, highest bandwidth first.
func (c *PlaylistClient) Bandwidths() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master.Bandwidths()
}

// CurrentIndex returns the current variant index or MasterIndex.
func (c *PlaylistClient) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// CurrentURI returns the URI of the current document.
func (c *PlaylistClient) CurrentURI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDoc().URI
}

// TargetDuration returns the current document's target duration.
func (c *PlaylistClient) TargetDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDoc().TargetDuration
}

// Cursor returns the next media sequence number to fetch.
func (c *PlaylistClient) Cursor() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// FailedUpdateCount returns the number of reloads without a visible change
// since the last SetCurrent.
func (c *PlaylistClient) FailedUpdateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failedUpdateCount
}

// Snapshot returns a deep copy of the master document tree.
func (c *PlaylistClient) Snapshot() *playlist.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master.Clone()
}
