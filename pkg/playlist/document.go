// Package playlist parses HLS playlists into an owned document tree.
//
// A Document is either a master playlist (it has Variants and no Segments) or
// a media playlist (it has Segments and no Variants). Variants are always kept
// sorted by descending bandwidth.
package playlist

import (
	"fmt"
	"time"
)

// DefaultTargetDuration is used when a playlist omits #EXT-X-TARGETDURATION
// or declares it as zero.
const DefaultTargetDuration = 10 * time.Second

// Key methods understood by the parser.
const (
	KeyMethodNone   = "NONE"
	KeyMethodAES128 = "AES-128"
)

// Resolution is a variant's declared video resolution.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// IsZero reports whether no resolution was declared.
func (r Resolution) IsZero() bool {
	return r.Width == 0 && r.Height == 0
}

func (r Resolution) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Key describes the encryption applied to a segment.
type Key struct {
	Method string   `json:"method" yaml:"method"`
	URI    string   `json:"uri" yaml:"uri"`
	IV     [16]byte `json:"-" yaml:"-"`
}

// IVHex returns the IV as a 0x-prefixed hex string.
func (k *Key) IVHex() string {
	return fmt.Sprintf("0x%X", k.IV[:])
}

// Segment is one media segment entry of a media playlist.
type Segment struct {
	URI           string        `json:"uri" yaml:"uri"`
	Title         string        `json:"title,omitempty" yaml:"title,omitempty"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
	Sequence      uint64        `json:"sequence" yaml:"sequence"`
	Discontinuity bool          `json:"discontinuity,omitempty" yaml:"discontinuity,omitempty"`
	Key           *Key          `json:"key,omitempty" yaml:"key,omitempty"`
}

// Encrypted reports whether the segment references a decryption key.
func (s Segment) Encrypted() bool {
	return s.Key != nil && s.Key.URI != ""
}

// Document is a parsed playlist.
type Document struct {
	URI               string        `json:"uri" yaml:"uri"`
	Version           int           `json:"version,omitempty" yaml:"version,omitempty"`
	TargetDuration    time.Duration `json:"target_duration" yaml:"target_duration"`
	MediaSequenceBase uint64        `json:"media_sequence_base" yaml:"media_sequence_base"`
	IsLive            bool          `json:"is_live" yaml:"is_live"`
	AllowCache        bool          `json:"allow_cache" yaml:"allow_cache"`

	// Set only on variant entries of a master playlist.
	Bandwidth  int64      `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
	ProgramID  int        `json:"program_id,omitempty" yaml:"program_id,omitempty"`
	Resolution Resolution `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Codecs     string     `json:"codecs,omitempty" yaml:"codecs,omitempty"`

	Variants []*Document `json:"variants,omitempty" yaml:"variants,omitempty"`
	Segments []Segment   `json:"segments,omitempty" yaml:"segments,omitempty"`
}

// IsMaster reports whether the document lists variant streams.
func (d *Document) IsMaster() bool {
	return len(d.Variants) > 0
}

// Duration returns the summed duration of all segments.
func (d *Document) Duration() time.Duration {
	var total time.Duration
	for _, s := range d.Segments {
		total += s.Duration
	}
	return total
}

// Bandwidths returns the variant bandwidths in ladder order.
func (d *Document) Bandwidths() []int64 {
	out := make([]int64, len(d.Variants))
	for i, v := range d.Variants {
		out[i] = v.Bandwidth
	}
	return out
}

// Clone returns a deep copy of the document tree.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Segments != nil {
		clone.Segments = make([]Segment, len(d.Segments))
		for i, s := range d.Segments {
			if s.Key != nil {
				k := *s.Key
				s.Key = &k
			}
			clone.Segments[i] = s
		}
	}
	if d.Variants != nil {
		clone.Variants = make([]*Document, len(d.Variants))
		for i, v := range d.Variants {
			clone.Variants[i] = v.Clone()
		}
	}
	return &clone
}
