package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmylchreest/hlsclient/internal/config"
	"github.com/jmylchreest/hlsclient/internal/fetch"
	"github.com/jmylchreest/hlsclient/internal/observability"
	"github.com/jmylchreest/hlsclient/internal/sink"
	"github.com/jmylchreest/hlsclient/internal/stream"
	"github.com/jmylchreest/hlsclient/pkg/httpclient"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var playCmd = &cobra.Command{
	Use:   "play <uri>",
	Short: "Download a stream and write its media to a file or stdout",
	Long: `Download an HLS stream and write the decrypted media bytes in order.

The URI may be an http(s) URL, a file:// URI or a local path. Local
playlists may be gzip, bzip2 or xz compressed.

Examples:
  # Write a live stream to a file until interrupted
  hlsclient play https://example.com/live/master.m3u8 -o capture.ts

  # Pipe to a player, starting on the lowest variant
  hlsclient play --initial-rung lowest https://example.com/master.m3u8 | mpv -

  # Print session statistics when done
  hlsclient play -o out.ts --stats yaml https://example.com/vod.m3u8`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringP("output", "o", "-", "output file, - for stdout")
	playCmd.Flags().String("stats", "", "print session statistics to stderr when done (json, yaml)")
	addSessionFlags(playCmd.Flags())
}

// addSessionFlags registers flags that override session configuration.
func addSessionFlags(fs *pflag.FlagSet) {
	fs.String("initial-rung", stream.RungHighest, "variant to start on (highest, lowest)")
	fs.Bool("strip-padding", false, "remove PKCS#7 padding from decrypted segments")
	fs.Bool("crypto-errors-fatal", false, "stop the session when a segment cannot be decrypted")
	fs.Duration("fetch-timeout", stream.DefaultFetchTimeout, "timeout for each fetch and body read")
}

// applySessionFlags copies explicitly set flags over the loaded configuration.
func applySessionFlags(fs *pflag.FlagSet, sc *config.SessionConfig) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "initial-rung":
			sc.InitialRung, _ = fs.GetString(f.Name)
		case "strip-padding":
			sc.StripPadding, _ = fs.GetBool(f.Name)
		case "crypto-errors-fatal":
			sc.CryptoErrorsFatal, _ = fs.GetBool(f.Name)
		case "fetch-timeout":
			sc.FetchTimeout, _ = fs.GetDuration(f.Name)
		}
	})
}

// newFetcher builds the scheme router used by sessions.
func newFetcher(fc config.FetchConfig, logger *slog.Logger) *fetch.Router {
	client := httpclient.New(httpclient.Config{
		Timeout:             fc.Timeout,
		RetryAttempts:       fc.RetryAttempts,
		RetryDelay:          fc.RetryDelay,
		RetryMaxDelay:       httpclient.DefaultRetryMaxDelay,
		BackoffMultiplier:   httpclient.DefaultBackoffMultiplier,
		CircuitThreshold:    fc.CircuitThreshold,
		CircuitTimeout:      fc.CircuitTimeout,
		CircuitHalfOpenMax:  httpclient.DefaultCircuitHalfOpenMax,
		UserAgent:           fc.UserAgent,
		Logger:              observability.WithComponent(logger, "httpclient"),
		EnableDecompression: true,
	})
	return fetch.NewDefaultRouter(fetch.NewHTTPFetcher(client))
}

// sessionConfig maps the loaded configuration onto a stream.SessionConfig.
func sessionConfig(c *config.Config) stream.SessionConfig {
	sc := stream.DefaultSessionConfig()
	sc.Ladder = stream.LadderConfig{
		UpFactor:       c.Session.UpFactor,
		DownFactor:     c.Session.DownFactor,
		WarmupSegments: c.Session.WarmupSegments,
		InitialRung:    c.Session.InitialRung,
	}
	sc.FetchTimeout = c.Session.FetchTimeout
	sc.MinReloadInterval = c.Session.MinReloadInterval
	sc.LookaheadFactor = c.Session.LookaheadFactor
	sc.BandwidthWindow = c.Session.BandwidthWindow
	sc.StripPadding = c.Session.StripPadding
	sc.CryptoErrorsFatal = c.Session.CryptoErrorsFatal
	sc.MaxPlaylistBytes = c.Fetch.MaxPlaylistBytes
	return sc
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applySessionFlags(cmd.Flags(), &cfg.Session)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	outPath, _ := cmd.Flags().GetString("output")
	statsFormat, _ := cmd.Flags().GetString("stats")

	out, err := openOutput(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	logger := observability.WithComponent(slog.Default(), "play")
	stats, err := play(ctx, args[0], out, logger)
	if statsFormat != "" {
		if werr := writeOutput(os.Stderr, statsFormat, stats); werr != nil {
			logger.Warn("writing stats", slog.String("error", werr.Error()))
		}
	}
	return err
}

// play runs one session over uri to completion, cancellation or failure.
func play(ctx context.Context, uri string, w io.Writer, logger *slog.Logger) (stats stream.Stats, err error) {
	done := observability.TimedOperationWithError(ctx, logger, "play", &err)
	defer done()

	session := stream.NewSession(sessionConfig(cfg), newFetcher(cfg.Fetch, logger), logger)
	defer session.Destroy()

	out := sink.NewWriterSink(w, logger)
	if err = session.Initialize(stream.StreamKindHLS, uri, out); err != nil {
		return session.Stats(), fmt.Errorf("initializing session: %w", err)
	}
	if err = session.Start(ctx); err != nil {
		return session.Stats(), fmt.Errorf("starting session: %w", err)
	}
	if err = session.Wait(); err != nil {
		return session.Stats(), fmt.Errorf("session failed: %w", err)
	}

	stats = session.Stats()
	logger.Info("playback finished",
		slog.Uint64("segments", stats.Segments),
		slog.Uint64("bytes", stats.Bytes),
		slog.Bool("end_of_stream", out.Stats().Ended),
	)
	return stats, nil
}
