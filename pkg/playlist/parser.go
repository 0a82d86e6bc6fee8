package playlist

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Playlist tags recognised by the parser. Anything else is ignored.
const (
	tagHeader         = "#EXTM3U"
	tagEndList        = "#EXT-X-ENDLIST"
	tagVersion        = "#EXT-X-VERSION"
	tagTargetDuration = "#EXT-X-TARGETDURATION"
	tagMediaSequence  = "#EXT-X-MEDIA-SEQUENCE"
	tagStreamInf      = "#EXT-X-STREAM-INF"
	tagInf            = "#EXTINF"
	tagAllowCache     = "#EXT-X-ALLOW-CACHE"
	tagKey            = "#EXT-X-KEY"
	tagDiscontinuity  = "#EXT-X-DISCONTINUITY"
)

const maxLineSize = 1024 * 1024

// attrRegex matches KEY=value and KEY="quoted, value" attribute pairs.
var attrRegex = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]*"|[^,]*)`)

// Options tune parsing of a single playlist text.
type Options struct {
	// SequenceBase seeds the media sequence counter. It is overridden by an
	// #EXT-X-MEDIA-SEQUENCE tag that precedes the first segment.
	SequenceBase uint64

	// Logger receives warnings about tolerated defects. Nil discards them.
	Logger *slog.Logger
}

// Parse parses playlist text. Relative URIs are resolved against baseURI.
func Parse(text []byte, baseURI string) (*Document, error) {
	return ParseWithOptions(text, baseURI, Options{})
}

// ParseWithOptions is Parse with explicit options.
func ParseWithOptions(text []byte, baseURI string, opts Options) (*Document, error) {
	p := &parser{
		doc: &Document{
			URI:               baseURI,
			IsLive:            true,
			AllowCache:        true,
			MediaSequenceBase: opts.SequenceBase,
		},
		sequence: opts.SequenceBase,
		logger:   opts.Logger,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if baseURI != "" {
		if base, err := url.Parse(baseURI); err == nil {
			p.base = base
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		p.line++
		line := strings.TrimSpace(scanner.Text())
		if !p.seenHeader {
			line = strings.TrimPrefix(line, "\ufeff")
			if line == "" {
				continue
			}
			if !isHeader(line) {
				return nil, &ParseError{Line: p.line, Err: ErrMissingHeader}
			}
			p.seenHeader = true
			continue
		}
		if line == "" {
			continue
		}
		if err := p.parseLine(line); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Line: p.line, Err: fmt.Errorf("scanning playlist: %w", err)}
	}
	if !p.seenHeader {
		return nil, &ParseError{Err: ErrMissingHeader}
	}

	return p.finish(), nil
}

// isHeader reports whether line is the #EXTM3U tag, optionally followed by
// whitespace and trailing text.
func isHeader(line string) bool {
	rest, ok := strings.CutPrefix(line, tagHeader)
	return ok && (rest == "" || rest[0] == ' ' || rest[0] == '\t')
}

type pendingInf struct {
	duration time.Duration
	title    string
}

type keyState struct {
	uri string
	iv  *[16]byte
}

type parser struct {
	doc        *Document
	base       *url.URL
	line       int
	seenHeader bool
	logger     *slog.Logger

	sequence      uint64
	variant       *Document
	inf           *pendingInf
	discontinuity bool
	key           *keyState
}

func (p *parser) parseLine(line string) error {
	if !strings.HasPrefix(line, "#") {
		p.addURI(line)
		return nil
	}

	name, value, _ := strings.Cut(line, ":")
	switch name {
	case tagEndList:
		p.doc.IsLive = false

	case tagVersion:
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return parseErrorf(p.line, ErrInvalidAttribute, "version %q", value)
		}
		p.doc.Version = v

	case tagTargetDuration:
		d, err := parseSeconds(value)
		if err != nil {
			return parseErrorf(p.line, ErrInvalidAttribute, "target duration %q", value)
		}
		p.doc.TargetDuration = d

	case tagMediaSequence:
		seq, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return parseErrorf(p.line, ErrInvalidAttribute, "media sequence %q", value)
		}
		if len(p.doc.Segments) > 0 {
			p.logger.Warn("ignoring media sequence after first segment",
				slog.Int("line", p.line),
				slog.Uint64("sequence", seq))
			return nil
		}
		p.sequence = seq
		p.doc.MediaSequenceBase = seq

	case tagStreamInf:
		v, err := p.parseStreamInf(value)
		if err != nil {
			return err
		}
		p.variant = v

	case tagInf:
		durStr, title, _ := strings.Cut(value, ",")
		d, err := parseSeconds(durStr)
		if err != nil {
			return parseErrorf(p.line, ErrInvalidAttribute, "segment duration %q", durStr)
		}
		p.inf = &pendingInf{duration: d, title: strings.TrimSpace(title)}

	case tagAllowCache:
		p.doc.AllowCache = strings.EqualFold(strings.TrimSpace(value), "YES")

	case tagKey:
		return p.parseKey(value)

	case tagDiscontinuity:
		p.discontinuity = true
	}
	return nil
}

func (p *parser) parseStreamInf(value string) (*Document, error) {
	v := &Document{IsLive: true, AllowCache: true}
	for key, raw := range parseAttributes(value) {
		val := unquote(raw)
		switch key {
		case "BANDWIDTH":
			bw, err := strconv.ParseInt(val, 10, 64)
			if err != nil || bw < 0 {
				return nil, parseErrorf(p.line, ErrInvalidAttribute, "bandwidth %q", val)
			}
			v.Bandwidth = bw
		case "PROGRAM-ID":
			id, err := strconv.Atoi(val)
			if err != nil {
				p.skipAttribute(key, val)
				continue
			}
			v.ProgramID = id
		case "CODECS":
			v.Codecs = val
		case "RESOLUTION":
			res, err := parseResolution(val)
			if err != nil {
				p.skipAttribute(key, val)
				continue
			}
			v.Resolution = res
		}
	}
	return v, nil
}

// skipAttribute logs an optional variant attribute that could not be parsed.
func (p *parser) skipAttribute(key, value string) {
	p.logger.Warn("ignoring invalid variant attribute",
		slog.Int("line", p.line),
		slog.String("attribute", key),
		slog.String("value", value))
}

func (p *parser) parseKey(value string) error {
	attrs := parseAttributes(value)
	method := unquote(attrs["METHOD"])

	switch method {
	case KeyMethodNone:
		// NONE wins over any URI or IV on the same line.
		p.key = nil
		return nil

	case KeyMethodAES128:
		raw, ok := attrs["URI"]
		if !ok || len(raw) < 2 || !strings.HasPrefix(raw, `"`) || !strings.HasSuffix(raw, `"`) || unquote(raw) == "" {
			return &ParseError{Line: p.line, Err: ErrMissingKeyURI}
		}
		ks := &keyState{uri: p.resolve(unquote(raw))}
		if ivRaw, ok := attrs["IV"]; ok {
			iv, err := parseIV(unquote(ivRaw))
			if err != nil {
				return &ParseError{Line: p.line, Err: err}
			}
			ks.iv = &iv
		}
		p.key = ks
		return nil

	default:
		// Following segments cannot be decrypted here; they are delivered
		// as fetched.
		p.logger.Warn("unsupported key method, clearing key",
			slog.Int("line", p.line),
			slog.String("method", method))
		p.key = nil
		return nil
	}
}

func (p *parser) addURI(line string) {
	if p.variant != nil {
		p.variant.URI = p.resolve(line)
		if p.variant.TargetDuration == 0 {
			p.variant.TargetDuration = DefaultTargetDuration
		}
		p.doc.Variants = append(p.doc.Variants, p.variant)
		p.variant = nil
		return
	}
	if p.inf == nil {
		// URI lines without #EXTINF carry no duration and are skipped.
		return
	}

	seg := Segment{
		URI:           p.resolve(line),
		Title:         p.inf.title,
		Duration:      p.inf.duration,
		Sequence:      p.sequence,
		Discontinuity: p.discontinuity,
	}
	if p.key != nil {
		k := &Key{Method: KeyMethodAES128, URI: p.key.uri}
		if p.key.iv != nil {
			k.IV = *p.key.iv
		} else {
			k.IV = SequenceIV(p.sequence)
		}
		seg.Key = k
	}
	p.doc.Segments = append(p.doc.Segments, seg)

	p.sequence++
	p.inf = nil
	p.discontinuity = false
}

func (p *parser) finish() *Document {
	doc := p.doc
	if doc.TargetDuration <= 0 {
		doc.TargetDuration = DefaultTargetDuration
	}
	if len(doc.Variants) > 0 {
		doc.Segments = nil
		sort.SliceStable(doc.Variants, func(i, j int) bool {
			return doc.Variants[i].Bandwidth > doc.Variants[j].Bandwidth
		})
	}
	return doc
}

// resolve resolves a possibly relative reference against the playlist URI.
func (p *parser) resolve(ref string) string {
	if p.base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return ref
	}
	return p.base.ResolveReference(u).String()
}

// SequenceIV derives the implicit IV of a segment: sixteen bytes of zero
// with the media sequence number big-endian in the last four.
func SequenceIV(sequence uint64) [16]byte {
	var iv [16]byte
	binary.BigEndian.PutUint32(iv[12:], uint32(sequence))
	return iv
}

func parseIV(s string) ([16]byte, error) {
	var iv [16]byte
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return iv, ErrInvalidIV
	}
	digits := s[2:]
	if len(digits) != 32 {
		return iv, ErrInvalidIV
	}
	if _, err := hex.Decode(iv[:], []byte(digits)); err != nil {
		return iv, ErrInvalidIV
	}
	return iv, nil
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("negative duration %v", f)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func parseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("missing separator")
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, err
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Width: width, Height: height}, nil
}

// parseAttributes splits an attribute list into raw values. Quoted values
// keep their quotes so callers can tell them apart.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRegex.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = strings.TrimSpace(m[2])
	}
	return attrs
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
