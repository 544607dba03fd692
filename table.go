package anycsv

import (
	"io"
	"iter"
	"log/slog"

	"github.com/JonMunkholm/anycsv/internal/charset"
	"github.com/JonMunkholm/anycsv/internal/dialect"
	"github.com/JonMunkholm/anycsv/internal/stream"
)

// Table is an opened input. It is not safe for concurrent use.
type Table struct {
	id       string
	origin   string
	dialect  dialect.Dialect
	encoding charset.Result
	reader   *stream.Reader
	logger   *slog.Logger

	err error // set when Rows stops on an error
}

// Next returns the next row. It returns io.EOF when the table is exhausted;
// any other error ends the table and is returned again by later calls.
func (t *Table) Next() ([]string, error) {
	return t.reader.Next()
}

// Rows iterates over the remaining rows, yielding each row's logical line
// number. Iteration stops at the first error, which Err then returns.
func (t *Table) Rows() iter.Seq2[int, []string] {
	return func(yield func(int, []string) bool) {
		for {
			line := t.reader.Line()
			row, err := t.reader.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				t.err = err
				t.logger.Debug("row iteration stopped", "line", line, "error", err)
				return
			}
			if !yield(line, row) {
				return
			}
		}
	}
}

// Err returns the error that stopped Rows, if any.
func (t *Table) Err() error {
	return t.err
}

// SeekLine positions the table so the next row is logical row n, counting
// from zero. Seeking backwards re-reads the input from the start; for a URL
// that means downloading it again.
func (t *Table) SeekLine(n int) error {
	if n < t.reader.Line() {
		t.logger.Debug("seeking backwards", "from", t.reader.Line(), "to", n)
	}
	return t.reader.SeekLine(n)
}

// Line returns the logical line number of the next row.
func (t *Table) Line() int {
	return t.reader.Line()
}

// Delimiter returns the field delimiter in use.
func (t *Table) Delimiter() rune {
	return t.dialect.Delimiter
}

// QuoteChar returns the quote character in use.
func (t *Table) QuoteChar() rune {
	return t.dialect.Quote
}

// Encoding returns the name of the encoding the input is decoded with.
func (t *Table) Encoding() string {
	return t.encoding.Name
}

// EncodingSource reports how the encoding was chosen: "magic" for a byte
// order mark, "statistical", "hint" for a transport header, "explicit" or
// "default".
func (t *Table) EncodingSource() string {
	return t.encoding.Method.String()
}

// ID returns an identifier unique to this Table, also attached to its log
// records.
func (t *Table) ID() string {
	return t.id
}

// Origin describes where the table was read from.
func (t *Table) Origin() string {
	return t.origin
}

// Close releases the file or connection behind the table. It is safe to call
// more than once.
func (t *Table) Close() error {
	return t.reader.Close()
}
