package source

import (
	"compress/bzip2"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// decompressed closes the decompressor (when it has a Close) and the file.
type decompressed struct {
	io.Reader
	closers []func() error
}

func (d *decompressed) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openDecompressed opens path and wraps it in the reader for codec.
func openDecompressed(path string, codec Codec) (body, error) {
	origin := CompressedPath(path).Describe()

	file, err := os.Open(path)
	if err != nil {
		return body{}, acquisitionError(origin, "open", err)
	}

	r, closeFn, err := newDecompressor(file, codec)
	if err != nil {
		file.Close()
		return body{}, acquisitionError(origin, "decompress", err)
	}

	d := &decompressed{Reader: r}
	if closeFn != nil {
		d.closers = append(d.closers, closeFn)
	}
	d.closers = append(d.closers, file.Close)
	return body{ReadCloser: d, size: -1}, nil
}

func newDecompressor(r io.Reader, codec Codec) (io.Reader, func() error, error) {
	switch codec {
	case CodecGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip reader: %w", err)
		}
		return gz, gz.Close, nil

	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec, func() error { dec.Close(); return nil }, nil

	case CodecXZ:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("xz reader: %w", err)
		}
		return xzr, nil, nil

	case CodecBzip2:
		return bzip2.NewReader(r), nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported codec %q", codec)
	}
}
