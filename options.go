package anycsv

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/anycsv/internal/charset"
	"github.com/JonMunkholm/anycsv/internal/dialect"
	"github.com/JonMunkholm/anycsv/internal/source"
)

// ErrorPolicy decides what happens to bytes that are invalid in the
// resolved encoding.
type ErrorPolicy = charset.Policy

const (
	// Strict fails the read that meets an invalid sequence.
	Strict = charset.PolicyStrict

	// Replace substitutes U+FFFD for invalid sequences.
	Replace = charset.PolicyReplace
)

// ParseErrorPolicy converts "strict" or "replace" to an ErrorPolicy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	return charset.ParsePolicy(s)
}

const (
	// DefaultSniffLines is the number of lines sampled for detection.
	DefaultSniffLines = source.DefaultSampleLines

	// DefaultTimeout bounds connecting to and reading from a URL.
	DefaultTimeout = source.DefaultTimeout

	// Unbounded disables the size quota.
	Unbounded = source.Unbounded
)

// Option configures Open.
type Option func(*settings)

type settings struct {
	delimiter        rune
	sniffLines       int
	maxSize          int64
	timeout          time.Duration
	client           *http.Client
	encoding         string
	policy           ErrorPolicy
	delimiters       []rune
	quotes           []rune
	compressionRatio float64
	logger           *slog.Logger
}

func defaultSettings() settings {
	sniffer := dialect.Default()
	return settings{
		sniffLines:       DefaultSniffLines,
		maxSize:          Unbounded,
		timeout:          DefaultTimeout,
		policy:           Strict,
		delimiters:       sniffer.Delimiters,
		quotes:           sniffer.Quotes,
		compressionRatio: source.DefaultCompressionRatio,
		logger:           slog.New(slog.DiscardHandler),
	}
}

// WithDelimiter forces the delimiter. Detection still runs, and a warning is
// logged if it disagrees.
func WithDelimiter(d rune) Option {
	return func(s *settings) { s.delimiter = d }
}

// WithSniffLines sets how many lines are sampled for detection.
func WithSniffLines(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.sniffLines = n
		}
	}
}

// WithMaxSize sets the size quota in bytes. Zero is a valid quota; pass
// Unbounded to remove it.
func WithMaxSize(n int64) Option {
	return func(s *settings) { s.maxSize = n }
}

// WithTimeout bounds connecting to a URL and each wait for response data.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient replaces the client used for URLs. Timeouts configured on
// the client apply in addition to WithTimeout's read timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithEncoding skips encoding detection and decodes with the named
// encoding. Names are resolved against the WHATWG and IANA registries.
func WithEncoding(name string) Option {
	return func(s *settings) { s.encoding = name }
}

// WithErrorPolicy sets the decoding error policy. The default is Strict.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(s *settings) { s.policy = p }
}

// WithDelimiterCandidates replaces the delimiters tried during detection,
// highest priority first.
func WithDelimiterCandidates(delims ...rune) Option {
	return func(s *settings) {
		if len(delims) > 0 {
			s.delimiters = delims
		}
	}
}

// WithQuoteCandidates replaces the quote characters tried during detection,
// highest priority first. The first one is used when none is evident.
func WithQuoteCandidates(quotes ...rune) Option {
	return func(s *settings) {
		if len(quotes) > 0 {
			s.quotes = quotes
		}
	}
}

// WithCompressionRatio sets the assumed compressed-to-original size ratio
// used to check compressed files against the quota before reading them.
func WithCompressionRatio(r float64) Option {
	return func(s *settings) {
		if r > 0 && r <= 1 {
			s.compressionRatio = r
		}
	}
}

// WithLogger sets the logger for diagnostics such as delimiter override
// warnings. Nothing is logged by default.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
