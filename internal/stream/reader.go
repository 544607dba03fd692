// Package stream turns a rewindable byte stream into lazily parsed records
// with a logical-line cursor.
//
// Records are decoded and parsed one at a time; nothing beyond the current
// record and the decoder's buffers is held in memory. Seeking backwards
// rewinds the byte source and skips forward again, which for remote origins
// means downloading the prefix a second time.
package stream

import (
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/anycsv/internal/charset"
	"github.com/JonMunkholm/anycsv/internal/dialect"
	"github.com/JonMunkholm/anycsv/internal/record"
	"github.com/JonMunkholm/anycsv/internal/source"
)

// ErrLineOutOfRange is returned by SeekLine for a negative line or one past
// the end of the table.
var ErrLineOutOfRange = errors.New("line out of range")

// Reader yields the records of one table.
type Reader struct {
	src     source.Stream
	dialect dialect.Dialect
	enc     charset.Result
	policy  charset.Policy

	rec  *record.Reader
	line int // logical index of the next record
	eof  bool

	err    error // first fatal error, returned forever after
	closed bool
}

// New returns a Reader over src, which must be positioned at byte zero.
func New(src source.Stream, d dialect.Dialect, enc charset.Result, policy charset.Policy) *Reader {
	r := &Reader{
		src:     src,
		dialect: d,
		enc:     enc,
		policy:  policy,
	}
	r.reset()
	return r
}

func (r *Reader) reset() {
	decoded := charset.NewReader(r.src, r.enc, r.policy)
	r.rec = record.NewReader(decoded, r.dialect.Delimiter, r.dialect.Quote)
	r.line = 0
	r.eof = false
}

// Next returns the next record, or io.EOF once the table is exhausted.
// Reaching the end releases the underlying file or connection; SeekLine can
// still move back by reopening it.
func (r *Reader) Next() ([]string, error) {
	if r.closed {
		return nil, source.ErrClosed
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.eof {
		return nil, io.EOF
	}

	rec, err := r.rec.Read()
	if err == io.EOF {
		r.eof = true
		return nil, io.EOF
	}
	if err != nil {
		r.err = err
		return nil, err
	}
	r.line++
	return rec, nil
}

// SeekLine positions the cursor so the next record returned is logical
// record n, counting from zero. Seeking to exactly the number of records
// succeeds and leaves the reader at end of data.
func (r *Reader) SeekLine(n int) error {
	if r.closed {
		return source.ErrClosed
	}
	if r.err != nil {
		return r.err
	}
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrLineOutOfRange, n)
	}

	if n < r.line {
		if err := r.src.Rewind(); err != nil {
			r.err = err
			return err
		}
		r.reset()
	}

	for r.line < n {
		_, err := r.Next()
		if err == io.EOF {
			return fmt.Errorf("%w: %d, table has %d records", ErrLineOutOfRange, n, r.line)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Line returns the logical index of the record the next call to Next
// returns.
func (r *Reader) Line() int {
	return r.line
}

// PhysicalLine returns the source line on which the most recently returned
// record started. Quoted fields spanning line breaks make it run ahead of
// the logical index.
func (r *Reader) PhysicalLine() int {
	return r.rec.Line()
}

// Err returns the fatal error that stopped the reader, if any.
func (r *Reader) Err() error {
	return r.err
}

// Close releases the byte source. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.src.Close()
}
