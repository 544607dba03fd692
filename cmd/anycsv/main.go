// Command anycsv reads a delimited table from a file, URL or stdin, detects
// its encoding and dialect, and writes it back out as UTF-8 with a fixed
// delimiter.
//
// Usage:
//
//	anycsv [flags] <path | url | ->
//
// Defaults come from the ANYCSV_* environment variables (and a .env file);
// flags override them.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/anycsv"
	"github.com/JonMunkholm/anycsv/internal/config"
	"github.com/JonMunkholm/anycsv/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A missing .env file is fine; real environment variables win.
	_ = godotenv.Load()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "anycsv:", err)
		}
		os.Exit(exitCode(err))
	}
}

// options holds the parsed command line.
type options struct {
	input       string
	output      string
	outDelim    string
	delimiter   string
	encoding    string
	errorPolicy string
	maxSize     int64
	sniffLines  int
	skip        int
	limit       int
	info        bool
	verbose     bool
}

func parseFlags(args []string, cfg *config.Config, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("anycsv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: anycsv [flags] <path | url | ->")
		fs.PrintDefaults()
	}

	o := &options{}
	fs.StringVar(&o.output, "o", "-", "output file, - for stdout")
	fs.StringVar(&o.outDelim, "out-delimiter", "|", "output delimiter (character or name such as tab)")
	fs.StringVar(&o.delimiter, "d", cfg.CSV.Delimiter, "force the input delimiter")
	fs.StringVar(&o.encoding, "encoding", cfg.CSV.Encoding, "input encoding, detected when empty")
	fs.StringVar(&o.errorPolicy, "error-policy", cfg.CSV.ErrorPolicy, "strict or replace")
	fs.Int64Var(&o.maxSize, "max-size", cfg.CSV.MaxSize, "size quota in bytes, -1 for none")
	fs.IntVar(&o.sniffLines, "sniff-lines", cfg.CSV.SniffLines, "lines sampled for detection")
	fs.IntVar(&o.skip, "skip", 0, "rows to skip before writing")
	fs.IntVar(&o.limit, "limit", 0, "maximum rows to write, 0 for all")
	fs.BoolVar(&o.info, "info", false, "print the detected dialect and encoding instead of rows")
	fs.BoolVar(&o.verbose, "v", false, "debug logging on stderr")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errors.New("expected exactly one input")
	}
	o.input = fs.Arg(0)

	if o.skip < 0 || o.limit < 0 {
		return nil, errors.New("-skip and -limit must be non-negative")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	o, err := parseFlags(args, cfg, stderr)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if o.verbose {
		level = "debug"
	}
	logger := logging.New(stderr, level, cfg.Logging.Format)

	cfg.CSV.Delimiter = o.delimiter
	cfg.CSV.Encoding = o.encoding
	cfg.CSV.ErrorPolicy = o.errorPolicy
	cfg.CSV.MaxSize = o.maxSize
	cfg.CSV.SniffLines = o.sniffLines
	opts, err := cfg.CSV.Options(logger)
	if err != nil {
		return err
	}

	outDelim, err := config.ParseDelimiter(o.outDelim)
	if err != nil {
		return fmt.Errorf("-out-delimiter: %w", err)
	}

	in, err := inputFor(o.input, stdin, o.maxSize)
	if err != nil {
		return err
	}

	tbl, err := anycsv.Open(ctx, in, opts...)
	if err != nil {
		return err
	}
	defer tbl.Close()

	if o.info {
		fmt.Fprintf(stdout, "origin:    %s\ndelimiter: %q\nquote:     %q\nencoding:  %s (%s)\n",
			tbl.Origin(), tbl.Delimiter(), tbl.QuoteChar(), tbl.Encoding(), tbl.EncodingSource())
		return nil
	}

	if o.skip > 0 {
		if err := tbl.SeekLine(o.skip); err != nil {
			return err
		}
	}

	out := stdout
	if o.output != "-" {
		f, err := os.Create(o.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	n, err := writeRows(out, tbl, outDelim, o.limit)
	if err != nil {
		return err
	}
	logger.Info("table written", "table_id", tbl.ID(), "rows", n, "origin", tbl.Origin())

	if f, ok := out.(*os.File); ok && f != os.Stdout {
		return f.Close()
	}
	return nil
}

// inputFor interprets the positional argument: "-" reads stdin, anything
// with a scheme is a URL, the rest are paths. Stdin is read at most one byte
// past maxSize, enough for Open to report the quota breach.
func inputFor(arg string, stdin io.Reader, maxSize int64) (anycsv.Input, error) {
	switch {
	case arg == "-":
		if maxSize >= 0 {
			stdin = io.LimitReader(stdin, maxSize+1)
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return anycsv.Input{}, fmt.Errorf("read stdin: %w", err)
		}
		return anycsv.Input{Content: string(data)}, nil
	case strings.Contains(arg, "://"):
		return anycsv.Input{URL: arg}, nil
	default:
		return anycsv.Input{Path: arg}, nil
	}
}

// writeRows copies up to limit rows (all when limit is 0) from tbl to w.
func writeRows(w io.Writer, tbl *anycsv.Table, delim rune, limit int) (int, error) {
	cw := csv.NewWriter(w)
	cw.Comma = delim

	n := 0
	for _, row := range tbl.Rows() {
		if err := cw.Write(row); err != nil {
			return n, err
		}
		n++
		if n == limit {
			break
		}
	}
	if err := tbl.Err(); err != nil {
		return n, err
	}

	cw.Flush()
	return n, cw.Error()
}

// exitCode distinguishes usage errors from input errors.
func exitCode(err error) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, anycsv.ErrQuotaExceeded):
		return 3
	case errors.Is(err, anycsv.ErrAcquisition):
		return 4
	default:
		return 1
	}
}
