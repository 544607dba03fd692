package anycsv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JonMunkholm/anycsv/internal/charset"
	"github.com/JonMunkholm/anycsv/internal/dialect"
	"github.com/JonMunkholm/anycsv/internal/record"
	"github.com/JonMunkholm/anycsv/internal/source"
	"github.com/JonMunkholm/anycsv/internal/stream"
)

// Input names where a table comes from. Exactly one field must be set.
//
// A Path ending in .gz, .gzip, .zst, .zstd, .xz or .bz2 is decompressed.
// Empty Content counts as unset.
type Input struct {
	Path    string
	URL     string
	Content string
}

func (in Input) origin() (source.Origin, error) {
	var origins []source.Origin
	if in.Path != "" {
		origins = append(origins, source.Classify(in.Path))
	}
	if in.URL != "" {
		origins = append(origins, source.RemoteURL(in.URL))
	}
	if in.Content != "" {
		origins = append(origins, source.Content(in.Content))
	}

	switch len(origins) {
	case 0:
		return nil, ErrNoInputSpecified
	case 1:
		return origins[0], nil
	default:
		return nil, ErrAmbiguousInput
	}
}

// Open acquires the input, detects its encoding and dialect, and returns a
// Table positioned at the first row.
//
// ctx bounds every network request the Table makes, including those issued
// later by SeekLine; cancelling it aborts the table.
func Open(ctx context.Context, in Input, opts ...Option) (*Table, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	origin, err := in.origin()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := s.logger.With("table_id", id, "origin", origin.Describe())

	var enc charset.Result
	if s.encoding != "" {
		if enc, err = charset.Lookup(s.encoding); err != nil {
			return nil, err
		}
	}

	fetcher := &source.Fetcher{
		Quota:            s.maxSize,
		Timeout:          s.timeout,
		Client:           s.client,
		CompressionRatio: s.compressionRatio,
		ChunkSize:        source.DefaultChunkSize,
		Logger:           logger,
	}

	src, err := fetcher.Open(ctx, origin)
	if err != nil {
		return nil, err
	}

	t, err := bind(src, s, enc, logger)
	if err != nil {
		src.Close()
		return nil, err
	}
	t.id = id
	t.origin = origin.Describe()
	return t, nil
}

// bind samples src, resolves the encoding and dialect, and wraps src in a
// Table. src is rewound to byte zero before rows are read.
func bind(src source.Stream, s settings, enc charset.Result, logger *slog.Logger) (*Table, error) {
	sample, err := source.ReadSample(src, s.sniffLines)
	if err != nil {
		return nil, err
	}

	if enc.Encoding == nil {
		enc = charset.NewDetector().Detect(sample.Data, sample.Charset)
	}
	logger.Debug("resolved encoding", "encoding", enc.Name, "method", enc.Method.String())

	text, err := decodeSample(sample.Data, enc)
	if err != nil {
		return nil, err
	}

	sniffer := dialect.Sniffer{Delimiters: s.delimiters, Quotes: s.quotes}
	d := sniffer.Sniff(text)
	logger.Debug("sniffed dialect",
		"delimiter", printable(d.Delimiter),
		"quote", printable(d.Quote),
		"sample_lines", sample.Lines,
	)

	if s.delimiter != 0 {
		if d.HasDelimiter() && d.Delimiter != s.delimiter {
			logger.Warn("given delimiter differs from detected delimiter",
				"given", printable(s.delimiter),
				"detected", printable(d.Delimiter),
			)
		}
		if d.Delimiter != s.delimiter {
			d = dialect.Dialect{Delimiter: s.delimiter, Quote: sniffer.QuoteFor(text, s.delimiter)}
		}
	}
	if !d.HasDelimiter() {
		return nil, ErrNoDelimiterDetected
	}
	if err := record.Validate(d.Delimiter, d.Quote); err != nil {
		return nil, err
	}

	return &Table{
		dialect:  d,
		encoding: enc,
		reader:   stream.New(src, d, enc, s.policy),
		logger:   logger,
	}, nil
}

// decodeSample converts the sample to text for sniffing. Invalid sequences
// are replaced so a single bad byte cannot hide the dialect; the error
// policy applies to the full read.
func decodeSample(data []byte, enc charset.Result) (string, error) {
	b, err := io.ReadAll(charset.NewReader(bytes.NewReader(data), enc, charset.PolicyReplace))
	if err != nil {
		return "", fmt.Errorf("decode sample as %s: %w", enc.Name, err)
	}
	return string(b), nil
}

func printable(r rune) string {
	switch r {
	case 0:
		return ""
	case '\t':
		return `\t`
	default:
		return string(r)
	}
}
