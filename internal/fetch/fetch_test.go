package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/jmylchreest/hlsclient/internal/stream"
	"github.com/jmylchreest/hlsclient/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const playlistText = "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4,\nseg0.ts\n#EXT-X-ENDLIST\n"

func readAll(t *testing.T, f stream.Fetcher, uri string) string {
	t.Helper()
	body, err := f.Fetch(context.Background(), uri)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	return string(data)
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFileFetcher_Compression(t *testing.T) {
	dir := t.TempDir()

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write([]byte(playlistText))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var bz bytes.Buffer
	bw, err := bzip2.NewWriter(&bz, nil)
	require.NoError(t, err)
	_, err = bw.Write([]byte(playlistText))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, err = xw.Write([]byte(playlistText))
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	tests := []struct {
		name string
		file string
		data []byte
	}{
		{name: "plain", file: "plain.m3u8", data: []byte(playlistText)},
		{name: "gzip", file: "vod.m3u8.gz", data: gz.Bytes()},
		{name: "bzip2", file: "vod.m3u8.bz2", data: bz.Bytes()},
		{name: "xz", file: "vod.m3u8.xz", data: xzBuf.Bytes()},
	}

	f := NewFileFetcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.data)
			assert.Equal(t, playlistText, readAll(t, f, path))
			assert.Equal(t, playlistText, readAll(t, f, "file://"+filepath.ToSlash(path)))
		})
	}
}

func TestFileFetcher_Errors(t *testing.T) {
	dir := t.TempDir()
	f := NewFileFetcher()

	_, err := f.Fetch(context.Background(), filepath.Join(dir, "missing.m3u8"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := writeFile(t, dir, "bad.m3u8.gz", []byte("not gzip"))
	_, err = f.Fetch(context.Background(), bad)
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), "file://remote-host/tmp/a.m3u8")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, bad)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{uri: "/var/media/vod.m3u8", want: "/var/media/vod.m3u8"},
		{uri: "relative/vod.m3u8", want: "relative/vod.m3u8"},
		{uri: "file:///var/media/vod.m3u8", want: filepath.FromSlash("/var/media/vod.m3u8")},
		{uri: "file://localhost/var/media/vod.m3u8", want: filepath.FromSlash("/var/media/vod.m3u8")},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := LocalPath(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemeOf(t *testing.T) {
	assert.Equal(t, SchemeHTTP, SchemeOf("http://cdn/a.m3u8"))
	assert.Equal(t, SchemeHTTPS, SchemeOf("HTTPS://cdn/a.m3u8"))
	assert.Equal(t, SchemeFile, SchemeOf("file:///a.m3u8"))
	assert.Equal(t, SchemeFile, SchemeOf("/srv/a.m3u8"))
	assert.Equal(t, SchemeFile, SchemeOf(`C:\media\a.m3u8`))
	assert.Equal(t, "rtmp", SchemeOf("rtmp://cdn/live"))
}

func TestRouter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(playlistText))
	}))
	defer server.Close()

	dir := t.TempDir()
	path := writeFile(t, dir, "local.m3u8", []byte(strings.ToUpper("local")))

	r := NewDefaultRouter(NewHTTPFetcher(httpclient.NewWithDefaults()))
	assert.Equal(t, playlistText, readAll(t, r, server.URL+"/vod.m3u8"))
	assert.Equal(t, "LOCAL", readAll(t, r, path))

	_, err := r.Fetch(context.Background(), "rtmp://cdn/live")
	assert.ErrorContains(t, err, "rtmp")
}

func TestHTTPFetcher_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewHTTPFetcher(httpclient.NewWithDefaults()).Fetch(context.Background(), server.URL)
	var statusErr *httpclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}
