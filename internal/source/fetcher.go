package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	// Unbounded disables the size quota.
	Unbounded int64 = -1

	// DefaultTimeout bounds connecting to and reading from remote origins.
	DefaultTimeout = 10 * time.Second

	// DefaultCompressionRatio is the assumed compressed/original size ratio
	// used to estimate a compressed file's uncompressed size.
	DefaultCompressionRatio = 0.4

	// DefaultChunkSize is the remote read granularity; the quota is checked
	// after every chunk.
	DefaultChunkSize = 1024
)

// Fetcher opens origins. Construct it with NewFetcher: a zero Fetcher
// enforces a quota of zero bytes.
type Fetcher struct {
	// Quota is the maximum number of bytes read per pass over an origin.
	// Zero is a valid quota; use Unbounded to disable it.
	Quota int64

	Timeout          time.Duration
	Client           *http.Client
	CompressionRatio float64
	ChunkSize        int
	Logger           *slog.Logger
}

// NewFetcher returns a Fetcher with an unbounded quota and default settings.
func NewFetcher() *Fetcher {
	return &Fetcher{
		Quota:            Unbounded,
		Timeout:          DefaultTimeout,
		CompressionRatio: DefaultCompressionRatio,
		ChunkSize:        DefaultChunkSize,
	}
}

// Open checks the origin against the quota and returns a stream positioned
// at the first byte. Sizes known up front are compared directly; otherwise,
// when a quota is set, one full pass is read and discarded first. Every pass
// is metered as well, so an origin that grows between passes still fails.
func (f *Fetcher) Open(ctx context.Context, o Origin) (Stream, error) {
	switch o := o.(type) {
	case LocalPath:
		return f.openLocal(o)
	case CompressedPath:
		return f.openCompressed(o)
	case Content:
		return f.openContent(o)
	case RemoteURL:
		return f.openRemote(ctx, o)
	default:
		return nil, fmt.Errorf("%w: unsupported origin %T", ErrAcquisition, o)
	}
}

func (f *Fetcher) openLocal(p LocalPath) (Stream, error) {
	origin := p.Describe()

	info, err := os.Stat(string(p))
	if err != nil {
		return nil, acquisitionError(origin, "stat", err)
	}
	if f.exceeds(info.Size()) {
		return nil, f.quotaError(origin, info.Size(), false)
	}

	return f.start(origin, func() (body, error) {
		file, err := os.Open(string(p))
		if err != nil {
			return body{}, acquisitionError(origin, "open", err)
		}
		return body{ReadCloser: file, size: info.Size()}, nil
	})
}

func (f *Fetcher) openCompressed(p CompressedPath) (Stream, error) {
	origin := p.Describe()

	info, err := os.Stat(string(p))
	if err != nil {
		return nil, acquisitionError(origin, "stat", err)
	}
	estimate := int64(float64(info.Size()) / f.ratio())
	if f.exceeds(estimate) {
		return nil, f.quotaError(origin, estimate, true)
	}

	codec := CodecFor(string(p))
	return f.start(origin, func() (body, error) {
		return openDecompressed(string(p), codec)
	})
}

func (f *Fetcher) openContent(c Content) (Stream, error) {
	origin := c.Describe()
	if size := int64(len(c)); f.exceeds(size) {
		return nil, f.quotaError(origin, size, false)
	}

	return f.start(origin, func() (body, error) {
		return body{ReadCloser: io.NopCloser(strings.NewReader(string(c))), size: int64(len(c))}, nil
	})
}

func (f *Fetcher) start(origin string, open opener) (Stream, error) {
	f.logger().Debug("opening origin", "origin", origin, "quota", f.Quota)

	s := &stream{
		origin: origin,
		open:   open,
		quota:  f.Quota,
		logger: f.logger(),
	}
	if err := s.begin(); err != nil {
		return nil, err
	}

	// Sizes that are only known after reading are checked by reading, so a
	// quota breach fails Open rather than a later read.
	if f.Quota >= 0 && s.Size() < 0 {
		if err := s.measure(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (f *Fetcher) exceeds(size int64) bool {
	return f.Quota >= 0 && size > f.Quota
}

func (f *Fetcher) quotaError(origin string, size int64, estimated bool) error {
	err := &QuotaError{Origin: origin, Limit: f.Quota, Size: size, Estimated: estimated}
	f.logger().Warn("size quota exceeded", "origin", origin, "size", size, "limit", f.Quota, "estimated", estimated)
	return err
}

func (f *Fetcher) ratio() float64 {
	if f.CompressionRatio <= 0 || f.CompressionRatio > 1 {
		return DefaultCompressionRatio
	}
	return f.CompressionRatio
}

func (f *Fetcher) chunkSize() int {
	if f.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return f.ChunkSize
}

func (f *Fetcher) timeout() time.Duration {
	if f.Timeout <= 0 {
		return DefaultTimeout
	}
	return f.Timeout
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.Logger
}
