package source

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
)

// Stream is a rewindable byte stream over one origin.
type Stream interface {
	io.ReadCloser

	// Rewind restarts the stream at byte zero. The quota meter restarts too.
	Rewind() error

	// CanRewind reports whether Rewind is supported. Every origin kind
	// supports it; remote origins do so by fetching again.
	CanRewind() bool

	// Charset returns the charset declared by the transport, if any.
	Charset() string

	// BytesRead returns the bytes read from the origin during this pass.
	BytesRead() int64

	// Size returns the exact number of bytes a full pass yields, or -1 when
	// it is only known after reading.
	Size() int64
}

// body is one pass over an origin.
type body struct {
	io.ReadCloser
	charset string // declared by the transport
	size    int64  // -1 if unknown
}

// opener produces a fresh body positioned at byte zero of an origin.
type opener func() (body, error)

type stream struct {
	origin string
	open   opener
	quota  int64
	logger *slog.Logger

	body    io.ReadCloser
	meter   *meteredReader
	pass    body
	drained bool // the pass hit io.EOF and its body was released
	closed  bool
}

func (s *stream) begin() error {
	b, err := s.open()
	if err != nil {
		return err
	}
	s.pass = b
	s.body = b.ReadCloser
	s.drained = false
	s.meter = newMeteredReader(&acquisitionReader{r: b, origin: s.origin}, s.origin, s.quota)
	return nil
}

func (s *stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if s.drained {
		return 0, io.EOF
	}
	n, err := s.meter.Read(p)
	if err == io.EOF {
		// The file or connection is not needed until the next Rewind.
		s.drained = true
		if cerr := s.release(); cerr != nil {
			s.logger.Debug("closing drained origin", "origin", s.origin, "error", cerr)
		}
		return n, err
	}
	if errors.Is(err, ErrQuotaExceeded) {
		s.logger.Warn("size quota exceeded while reading", "origin", s.origin, "limit", s.quota)
		// Drop the connection or file handle; nothing more will be read.
		s.release()
	}
	return n, err
}

func (s *stream) release() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

func (s *stream) Rewind() error {
	if s.closed {
		return ErrClosed
	}
	s.logger.Debug("rewinding origin", "origin", s.origin, "bytes_read", s.meter.read)
	if err := s.release(); err != nil {
		s.logger.Debug("closing before rewind", "origin", s.origin, "error", err)
	}
	return s.begin()
}

// measure reads one full pass and rewinds.
func (s *stream) measure() error {
	n, err := io.Copy(io.Discard, s)
	if err != nil {
		return err
	}
	s.logger.Debug("measured origin", "origin", s.origin, "size", n, "limit", s.quota)
	return s.Rewind()
}

func (s *stream) CanRewind() bool {
	return true
}

func (s *stream) Charset() string {
	return s.pass.charset
}

func (s *stream) Size() int64 {
	return s.pass.size
}

func (s *stream) BytesRead() int64 {
	if s.meter == nil {
		return 0
	}
	return s.meter.read
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.release()
}

// meteredReader counts bytes and fails once the count passes the limit. The
// chunk that crosses the limit is discarded, never delivered.
type meteredReader struct {
	r      io.Reader
	origin string
	limit  int64
	read   int64
	err    error
}

func newMeteredReader(r io.Reader, origin string, limit int64) *meteredReader {
	return &meteredReader{r: r, origin: origin, limit: limit}
}

func (m *meteredReader) Read(p []byte) (int, error) {
	if m.err != nil {
		return 0, m.err
	}

	n, err := m.r.Read(p)
	m.read += int64(n)
	if m.limit >= 0 && m.read > m.limit {
		m.err = &QuotaError{Origin: m.origin, Limit: m.limit, Size: m.read}
		return 0, m.err
	}
	return n, err
}

// acquisitionReader tags I/O failures with ErrAcquisition, leaving io.EOF
// untouched.
type acquisitionReader struct {
	r      io.Reader
	origin string
}

func (a *acquisitionReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if err != nil && err != io.EOF && !errors.Is(err, ErrAcquisition) && !errors.Is(err, ErrQuotaExceeded) {
		err = acquisitionError(a.origin, "read", err)
	}
	return n, err
}

// DefaultSampleLines is the number of lines sampled for sniffing.
const DefaultSampleLines = 100

// Sample is a bounded prefix of an origin used for dialect and encoding
// inference.
type Sample struct {
	Data    []byte
	Lines   int
	Charset string
}

// ReadSample reads at most maxLines physical lines from s, then rewinds s so
// the full read starts at byte zero.
func ReadSample(s Stream, maxLines int) (Sample, error) {
	if maxLines <= 0 {
		maxLines = DefaultSampleLines
	}

	var (
		buf   bytes.Buffer
		lines int
		br    = bufio.NewReader(s)
	)
	for lines < maxLines {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			buf.Write(line)
			lines++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Sample{}, err
		}
	}

	sample := Sample{Data: buf.Bytes(), Lines: lines, Charset: s.Charset()}
	if err := s.Rewind(); err != nil {
		return Sample{}, err
	}
	return sample, nil
}
