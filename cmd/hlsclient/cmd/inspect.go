package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/hlsclient/internal/observability"
	"github.com/jmylchreest/hlsclient/internal/stream"
	"github.com/jmylchreest/hlsclient/pkg/playlist"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <uri>",
	Short: "Fetch and print a parsed playlist",
	Long: `Fetch a playlist and print its parsed form.

For master playlists, --variants also fetches every variant playlist and
includes its segments.

Examples:
  hlsclient inspect https://example.com/master.m3u8
  hlsclient inspect --variants -o json https://example.com/master.m3u8
  hlsclient inspect ./capture/index.m3u8.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringP("output", "o", outputYAML, "output format (json, yaml)")
	inspectCmd.Flags().Bool("variants", false, "fetch and include variant playlists")
}

// PlaylistView is the printed form of a playlist document.
type PlaylistView struct {
	URI            string         `json:"uri" yaml:"uri"`
	Live           bool           `json:"live" yaml:"live"`
	Version        int            `json:"version,omitempty" yaml:"version,omitempty"`
	TargetDuration string         `json:"target_duration" yaml:"target_duration"`
	MediaSequence  uint64         `json:"media_sequence" yaml:"media_sequence"`
	Duration       string         `json:"duration,omitempty" yaml:"duration,omitempty"`
	Bandwidth      int64          `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
	Resolution     string         `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Codecs         string         `json:"codecs,omitempty" yaml:"codecs,omitempty"`
	Variants       []PlaylistView `json:"variants,omitempty" yaml:"variants,omitempty"`
	Segments       []SegmentView  `json:"segments,omitempty" yaml:"segments,omitempty"`
}

// SegmentView is the printed form of a media segment.
type SegmentView struct {
	Sequence      uint64 `json:"sequence" yaml:"sequence"`
	URI           string `json:"uri" yaml:"uri"`
	Duration      string `json:"duration" yaml:"duration"`
	Discontinuity bool   `json:"discontinuity,omitempty" yaml:"discontinuity,omitempty"`
	KeyURI        string `json:"key_uri,omitempty" yaml:"key_uri,omitempty"`
	IV            string `json:"iv,omitempty" yaml:"iv,omitempty"`
}

func newPlaylistView(doc *playlist.Document) PlaylistView {
	v := PlaylistView{
		URI:            doc.URI,
		Live:           doc.IsLive,
		Version:        doc.Version,
		TargetDuration: doc.TargetDuration.String(),
		MediaSequence:  doc.MediaSequenceBase,
		Bandwidth:      doc.Bandwidth,
		Resolution:     doc.Resolution.String(),
		Codecs:         doc.Codecs,
	}
	if len(doc.Segments) > 0 {
		v.Duration = doc.Duration().String()
	}
	for _, variant := range doc.Variants {
		v.Variants = append(v.Variants, newPlaylistView(variant))
	}
	for _, s := range doc.Segments {
		sv := SegmentView{
			Sequence:      s.Sequence,
			URI:           s.URI,
			Duration:      s.Duration.Round(time.Millisecond).String(),
			Discontinuity: s.Discontinuity,
		}
		if s.Encrypted() {
			sv.KeyURI = s.Key.URI
			sv.IV = s.Key.IVHex()
		}
		v.Segments = append(v.Segments, sv)
	}
	return v
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	variants, _ := cmd.Flags().GetBool("variants")

	logger := observability.WithComponent(slog.Default(), "inspect")
	fetcher := newFetcher(cfg.Fetch, logger)

	doc, err := inspect(cmd.Context(), fetcher, args[0], cfg.Fetch.MaxPlaylistBytes, variants)
	if err != nil {
		return err
	}
	return writeOutput(os.Stdout, format, newPlaylistView(doc))
}

// inspect loads the playlist at uri through a PlaylistClient, following
// variants when requested so their attributes are merged the same way a
// session sees them.
func inspect(ctx context.Context, fetcher stream.Fetcher, uri string, limit int64, variants bool) (*playlist.Document, error) {
	client := stream.NewPlaylistClient(uri)
	if err := loadInto(ctx, fetcher, client, limit); err != nil {
		return nil, err
	}
	if variants && client.HasVariants() {
		for i := range client.Bandwidths() {
			if err := client.SetCurrent(i); err != nil {
				return nil, err
			}
			if err := loadInto(ctx, fetcher, client, limit); err != nil {
				return nil, err
			}
		}
	}
	return client.Snapshot(), nil
}

func loadInto(ctx context.Context, fetcher stream.Fetcher, client *stream.PlaylistClient, limit int64) error {
	uri := client.CurrentURI()
	body, err := fetcher.Fetch(ctx, uri)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", uri, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return fmt.Errorf("reading %s: %w", uri, err)
	}
	if int64(len(data)) > limit {
		return fmt.Errorf("playlist %s exceeds %d bytes", uri, limit)
	}
	if _, err := client.Update(data); err != nil {
		return fmt.Errorf("parsing %s: %w", uri, err)
	}
	return nil
}
