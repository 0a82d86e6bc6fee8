package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmylchreest/hlsclient/internal/config"
	"github.com/jmylchreest/hlsclient/internal/fetch"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func loadTestConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	loaded, err := config.Load("")
	require.NoError(t, err)
	prev := cfg
	cfg = loaded
	t.Cleanup(func() { cfg = prev })
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const testMaster = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=250000,RESOLUTION=640x360
low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2"
high.m3u8
`

func testMedia(prefix string) string {
	return `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:7
#EXTINF:4.0,
` + prefix + `0.ts
#EXT-X-DISCONTINUITY
#EXTINF:3.5,
` + prefix + `1.ts
#EXT-X-ENDLIST
`
}

func TestWriteOutput(t *testing.T) {
	value := map[string]any{"segments": 3}

	var js bytes.Buffer
	require.NoError(t, writeOutput(&js, outputJSON, value))
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, 3, decoded["segments"])

	var ym bytes.Buffer
	require.NoError(t, writeOutput(&ym, outputYAML, value))
	assert.Equal(t, "segments: 3\n", ym.String())

	assert.Error(t, writeOutput(&bytes.Buffer{}, "xml", value))
}

func TestDumpConfig(t *testing.T) {
	loadTestConfig(t)

	data, err := dumpConfig(cfg)
	require.NoError(t, err)

	var dumped map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &dumped))
	assert.Equal(t, "30s", dumped["fetch"]["timeout"])
	assert.Equal(t, "highest", dumped["session"]["initial_rung"])
	assert.Equal(t, "1s", dumped["session"]["min_reload_interval"])
	assert.Equal(t, "info", dumped["logging"]["level"])
}

func TestApplySessionFlags(t *testing.T) {
	fs := pflag.NewFlagSet("play", pflag.ContinueOnError)
	addSessionFlags(fs)
	require.NoError(t, fs.Parse([]string{"--initial-rung", "lowest", "--strip-padding", "--fetch-timeout", "5s"}))

	sc := config.SessionConfig{InitialRung: "highest", CryptoErrorsFatal: true, FetchTimeout: time.Minute}
	applySessionFlags(fs, &sc)

	assert.Equal(t, "lowest", sc.InitialRung)
	assert.True(t, sc.StripPadding)
	assert.Equal(t, 5*time.Second, sc.FetchTimeout)
	assert.True(t, sc.CryptoErrorsFatal, "unset flags keep configured values")
}

func TestSessionConfig(t *testing.T) {
	loadTestConfig(t)
	cfg.Session.InitialRung = "lowest"
	cfg.Fetch.MaxPlaylistBytes = 1024
	cfg.Session.BandwidthWindow = 7

	sc := sessionConfig(cfg)
	assert.Equal(t, "lowest", sc.Ladder.InitialRung)
	assert.Equal(t, cfg.Session.UpFactor, sc.Ladder.UpFactor)
	assert.Equal(t, cfg.Session.WarmupSegments, sc.Ladder.WarmupSegments)
	assert.Equal(t, int64(1024), sc.MaxPlaylistBytes)
	assert.Equal(t, 7, sc.BandwidthWindow)
	assert.Positive(t, sc.ChunkSize)
}

func TestInspect_MasterWithVariants(t *testing.T) {
	loadTestConfig(t)
	dir := t.TempDir()
	master := writeFile(t, dir, "master.m3u8", testMaster)
	writeFile(t, dir, "low.m3u8", testMedia("low"))
	writeFile(t, dir, "high.m3u8", testMedia("high"))

	doc, err := inspect(context.Background(), newFetcher(cfg.Fetch, slog.Default()), master, cfg.Fetch.MaxPlaylistBytes, true)
	require.NoError(t, err)

	view := newPlaylistView(doc)
	require.Len(t, view.Variants, 2)
	high := view.Variants[0]
	assert.Equal(t, int64(1000000), high.Bandwidth)
	assert.Equal(t, "1280x720", high.Resolution)
	assert.Equal(t, "avc1.4d401f,mp4a.40.2", high.Codecs)
	assert.False(t, high.Live)
	assert.Equal(t, "7.5s", high.Duration)
	require.Len(t, high.Segments, 2)
	assert.Equal(t, uint64(7), high.Segments[0].Sequence)
	assert.Equal(t, filepath.Join(dir, "high0.ts"), high.Segments[0].URI)
	assert.True(t, high.Segments[1].Discontinuity)
	assert.Equal(t, "3.5s", high.Segments[1].Duration)
}

func TestInspect_MasterOnly(t *testing.T) {
	loadTestConfig(t)
	dir := t.TempDir()
	master := writeFile(t, dir, "master.m3u8", testMaster)

	doc, err := inspect(context.Background(), fetch.NewFileFetcher(), master, 1<<20, false)
	require.NoError(t, err)

	require.Len(t, doc.Variants, 2)
	assert.Empty(t, doc.Variants[0].Segments)
}

func TestInspect_Errors(t *testing.T) {
	loadTestConfig(t)
	dir := t.TempDir()

	_, err := inspect(context.Background(), fetch.NewFileFetcher(), filepath.Join(dir, "missing.m3u8"), 1<<20, false)
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.m3u8", "not a playlist\n")
	_, err = inspect(context.Background(), fetch.NewFileFetcher(), bad, 1<<20, false)
	assert.ErrorContains(t, err, "parsing")

	big := writeFile(t, dir, "big.m3u8", testMaster)
	_, err = inspect(context.Background(), fetch.NewFileFetcher(), big, 16, false)
	assert.ErrorContains(t, err, "exceeds 16 bytes")
}

func TestPlay_LocalPlaylist(t *testing.T) {
	loadTestConfig(t)
	dir := t.TempDir()
	index := writeFile(t, dir, "index.m3u8", testMedia("seg"))
	writeFile(t, dir, "seg0.ts", "first-")
	writeFile(t, dir, "seg1.ts", "second")

	var out bytes.Buffer
	stats, err := play(context.Background(), index, &out, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "first-second", out.String())
	assert.Equal(t, uint64(2), stats.Segments)
	assert.Equal(t, uint64(12), stats.Bytes)
}

func TestPlay_MissingSegment(t *testing.T) {
	loadTestConfig(t)
	dir := t.TempDir()
	index := writeFile(t, dir, "index.m3u8", testMedia("seg"))
	writeFile(t, dir, "seg0.ts", "first-")

	var out bytes.Buffer
	_, err := play(context.Background(), index, &out, slog.Default())
	assert.ErrorContains(t, err, "session failed")
	assert.Equal(t, "first-", out.String())
}
