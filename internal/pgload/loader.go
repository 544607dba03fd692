// Package pgload copies tables into PostgreSQL with COPY FROM STDIN.
//
// Rows are pulled from the table one at a time while the copy runs, so a
// load holds no more than one row in memory regardless of table size. The
// copy happens in a transaction: a table that fails mid-way (size quota,
// network error, decoding error) leaves nothing behind.
package pgload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrRowTooWide is returned when a row has more fields than the target has
// columns.
var ErrRowTooWide = errors.New("row has more fields than columns")

// ErrEmptyTable is returned when there is no row to take columns from.
var ErrEmptyTable = errors.New("table has no rows")

// RowSource yields rows until io.EOF. *anycsv.Table satisfies it.
type RowSource interface {
	Next() ([]string, error)
}

// DB starts transactions. *pgxpool.Pool and *pgx.Conn satisfy it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Target describes where and how rows land.
type Target struct {
	Schema string
	Table  string

	// Header takes column names from the first row.
	Header bool

	// Create issues CREATE TABLE IF NOT EXISTS with text columns first.
	Create bool

	// EmptyAsNull stores empty fields as NULL rather than ''.
	EmptyAsNull bool
}

// Identifier returns the schema-qualified table name.
func (t Target) Identifier() pgx.Identifier {
	if t.Schema == "" {
		return pgx.Identifier{t.Table}
	}
	return pgx.Identifier{t.Schema, t.Table}
}

// Result summarizes a completed load.
type Result struct {
	Table    string
	Columns  []string
	Rows     int64
	Duration time.Duration
}

// Loader copies tables into a database.
type Loader struct {
	db     DB
	logger *slog.Logger
}

// New creates a Loader. A nil logger discards.
func New(db DB, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{db: db, logger: logger}
}

// Load copies every remaining row of src into target.
func (l *Loader) Load(ctx context.Context, src RowSource, target Target) (*Result, error) {
	if target.Table == "" {
		return nil, errors.New("pgload: target table is required")
	}
	start := time.Now()

	first, err := src.Next()
	if err == io.EOF {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("read first row: %w", err)
	}

	rows := &rowSource{src: src, emptyAsNull: target.EmptyAsNull}
	var columns []string
	if target.Header {
		columns = ColumnNames(first)
	} else {
		columns = GenericColumns(len(first))
		rows.pending = first
	}
	rows.width = len(columns)

	ident := target.Identifier()
	var copied int64
	err = pgx.BeginFunc(ctx, l.db, func(tx pgx.Tx) error {
		if target.Create {
			if _, err := tx.Exec(ctx, createTableSQL(ident, columns)); err != nil {
				return fmt.Errorf("create table %s: %w", ident.Sanitize(), err)
			}
		}

		n, err := tx.CopyFrom(ctx, ident, columns, rows)
		if err != nil {
			return fmt.Errorf("copy into %s: %w", ident.Sanitize(), err)
		}
		copied = n
		return nil
	})
	if err != nil {
		l.logger.Warn("load failed",
			"target", ident.Sanitize(),
			"rows_read", rows.line,
			"error", err,
		)
		return nil, err
	}

	res := &Result{
		Table:    ident.Sanitize(),
		Columns:  columns,
		Rows:     copied,
		Duration: time.Since(start),
	}
	l.logger.Info("load completed",
		"target", res.Table,
		"rows", res.Rows,
		"columns", len(columns),
		"duration", res.Duration,
	)
	return res, nil
}

// rowSource adapts a RowSource to pgx.CopyFromSource. Short rows are padded
// with NULLs; rows wider than the column list fail the copy.
type rowSource struct {
	src         RowSource
	width       int
	emptyAsNull bool

	pending []string // first row, when it is data rather than a header
	values  []any
	line    int
	err     error
}

func (r *rowSource) Next() bool {
	if r.err != nil {
		return false
	}

	row := r.pending
	r.pending = nil
	if row == nil {
		var err error
		row, err = r.src.Next()
		if err == io.EOF {
			return false
		}
		if err != nil {
			r.err = err
			return false
		}
	}
	r.line++

	if len(row) > r.width {
		r.err = fmt.Errorf("%w: row %d has %d fields, %d columns", ErrRowTooWide, r.line, len(row), r.width)
		return false
	}

	if r.values == nil {
		r.values = make([]any, r.width)
	}
	for i := range r.values {
		if i >= len(row) {
			r.values[i] = pgtype.Text{}
			continue
		}
		r.values[i] = toPgText(row[i], r.emptyAsNull)
	}
	return true
}

func (r *rowSource) Values() ([]any, error) {
	return r.values, nil
}

func (r *rowSource) Err() error {
	return r.err
}

func toPgText(s string, emptyAsNull bool) pgtype.Text {
	if s == "" && emptyAsNull {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
