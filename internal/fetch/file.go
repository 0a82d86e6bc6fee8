package fetch

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/jmylchreest/hlsclient/internal/stream"
	"github.com/ulikunitz/xz"
)

// FileFetcher reads local files. Files ending in .gz, .bz2 or .xz are
// decompressed transparently so archived playlists can be replayed.
type FileFetcher struct{}

// NewFileFetcher creates a FileFetcher.
func NewFileFetcher() *FileFetcher {
	return &FileFetcher{}
}

// Fetch implements stream.Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := LocalPath(uri)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	rc, err := decompress(file, filepath.Ext(path))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return rc, nil
}

// LocalPath converts a file URI or plain path to a filesystem path.
func LocalPath(uri string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(uri), SchemeFile+":") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing file uri: %w", err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("file uri with remote host %q", u.Host)
	}
	if u.Path == "" {
		return u.Opaque, nil
	}
	return filepath.FromSlash(u.Path), nil
}

func decompress(file *os.File, ext string) (io.ReadCloser, error) {
	switch strings.ToLower(ext) {
	case ".gz":
		gzr, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return &layeredReader{Reader: gzr, closers: []io.Closer{gzr, file}}, nil

	case ".bz2":
		bzr, err := bzip2.NewReader(file, nil)
		if err != nil {
			return nil, fmt.Errorf("creating bzip2 reader: %w", err)
		}
		return &layeredReader{Reader: bzr, closers: []io.Closer{bzr, file}}, nil

	case ".xz":
		xzr, err := xz.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return &layeredReader{Reader: xzr, closers: []io.Closer{file}}, nil

	default:
		return file, nil
	}
}

// layeredReader closes a decompressor and the file beneath it.
type layeredReader struct {
	io.Reader
	closers []io.Closer
}

func (l *layeredReader) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ stream.Fetcher = (*FileFetcher)(nil)
