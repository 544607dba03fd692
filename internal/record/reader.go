// Package record splits decoded text into CSV records using a configurable
// delimiter and quote character.
//
// The grammar is the conventional one: a field that starts with the quote
// character may contain the delimiter and line breaks, and a doubled quote
// inside such a field is a literal quote. The reader is lenient in the same
// places most spreadsheet exports need it to be:
//
//   - a quote appearing inside an unquoted field is kept as a literal
//   - text following a closing quote is appended to the field
//   - an unterminated quoted field at end of input keeps its content
//
// Blank lines are skipped and records may have differing field counts.
package record

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrInvalidDialect is returned by Validate for delimiter/quote pairs the
// grammar cannot represent.
var ErrInvalidDialect = errors.New("invalid dialect")

type state int

const (
	fieldStart state = iota
	inField
	inQuoted
	quoteInQuoted
)

// Reader reads records one at a time from a rune stream.
type Reader struct {
	r     *bufio.Reader
	delim rune
	quote rune

	line      int // current physical line, 1-based
	lastStart int // physical line the last returned record started on
	open      bool

	field strings.Builder
}

// NewReader returns a Reader splitting fields on delim and quoting with quote.
func NewReader(r io.Reader, delim, quote rune) *Reader {
	return &Reader{
		r:     bufio.NewReader(r),
		delim: delim,
		quote: quote,
		line:  1,
	}
}

// Validate reports whether delim and quote form a usable pair.
func Validate(delim, quote rune) error {
	switch {
	case delim == 0:
		return fmt.Errorf("%w: delimiter not set", ErrInvalidDialect)
	case !utf8.ValidRune(delim) || delim == utf8.RuneError:
		return fmt.Errorf("%w: delimiter %q is not a valid rune", ErrInvalidDialect, delim)
	case isNewline(delim) || isNewline(quote):
		return fmt.Errorf("%w: line breaks cannot delimit or quote fields", ErrInvalidDialect)
	case delim == quote:
		return fmt.Errorf("%w: delimiter and quote are both %q", ErrInvalidDialect, delim)
	}
	return nil
}

// Line returns the physical line on which the most recent record started.
func (r *Reader) Line() int {
	return r.lastStart
}

// Unterminated reports whether the most recent record ran into end of input
// inside a quoted field.
func (r *Reader) Unterminated() bool {
	return r.open
}

// Read returns the next record. It returns io.EOF when the input holds no
// further records. Errors from the underlying reader are returned as-is and
// the partially read record is discarded.
func (r *Reader) Read() ([]string, error) {
	var (
		rec     []string
		st      = fieldStart
		started bool
	)

	r.field.Reset()
	r.open = false

	emit := func() {
		rec = append(rec, r.field.String())
		r.field.Reset()
	}

	for {
		c, _, err := r.r.ReadRune()
		if err == io.EOF {
			if !started {
				return nil, io.EOF
			}
			r.open = st == inQuoted
			emit()
			return rec, nil
		}
		if err != nil {
			return nil, err
		}

		if !started && !isNewline(c) {
			started = true
			r.lastStart = r.line
		}

		switch st {
		case fieldStart:
			switch {
			case c == r.quote:
				st = inQuoted
			case c == r.delim:
				emit()
			case isNewline(c):
				r.endLine(c)
				if !started {
					continue // blank line
				}
				emit()
				return rec, nil
			default:
				r.field.WriteRune(c)
				st = inField
			}

		case inField:
			switch {
			case c == r.delim:
				emit()
				st = fieldStart
			case isNewline(c):
				r.endLine(c)
				emit()
				return rec, nil
			default:
				r.field.WriteRune(c)
			}

		case inQuoted:
			switch {
			case c == r.quote:
				st = quoteInQuoted
			case isNewline(c):
				r.endLine(c)
				r.field.WriteByte('\n')
			default:
				r.field.WriteRune(c)
			}

		case quoteInQuoted:
			switch {
			case c == r.quote:
				r.field.WriteRune(c)
				st = inQuoted
			case c == r.delim:
				emit()
				st = fieldStart
			case isNewline(c):
				r.endLine(c)
				emit()
				return rec, nil
			default:
				r.field.WriteRune(c)
				st = inField
			}
		}
	}
}

// endLine consumes the '\n' of a "\r\n" pair and advances the line counter.
func (r *Reader) endLine(c rune) {
	if c == '\r' {
		if next, _, err := r.r.ReadRune(); err == nil && next != '\n' {
			_ = r.r.UnreadRune()
		}
	}
	r.line++
}

func isNewline(c rune) bool {
	return c == '\n' || c == '\r'
}
