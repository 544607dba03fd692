// Package dialect infers the delimiter and quote character of CSV-like text
// from a bounded sample.
//
// Sniffing is a heuristic. Every (delimiter, quote) pair from the configured
// candidate lists splits the sample into records, and the pair whose modal
// field count is shared by the most records wins. A pair only qualifies when
// the modal count is greater than one and a strict majority of records
// share it. Ties go to the earlier delimiter in Sniffer.Delimiters, then the
// earlier quote in Sniffer.Quotes, so the outcome is reproducible.
//
// Once the delimiter is fixed, the quote character is the candidate with the
// most balanced pairs wrapping a field that contains the delimiter. Without
// such evidence the first quote candidate is used.
package dialect

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/anycsv/internal/record"
)

// DefaultQuote is used whenever no better quote character is found.
const DefaultQuote = '"'

// Dialect describes how raw text splits into fields.
// A zero Delimiter means none was detected.
type Dialect struct {
	Delimiter rune
	Quote     rune
}

// HasDelimiter reports whether a delimiter was detected or set.
func (d Dialect) HasDelimiter() bool {
	return d.Delimiter != 0
}

// Sniffer holds the candidate sets, in priority order.
type Sniffer struct {
	Delimiters []rune
	Quotes     []rune
}

// Default returns a Sniffer over comma, tab, semicolon and pipe, preferring
// double quotes over single quotes.
func Default() Sniffer {
	return Sniffer{
		Delimiters: []rune{',', '\t', ';', '|'},
		Quotes:     []rune{'"', '\''},
	}
}

// Score is the evaluation of one candidate pair against a sample.
type Score struct {
	Dialect    Dialect
	Fields     int // modal field count
	Consistent int // records with the modal field count
	Records    int
}

// Qualifies reports whether the pair splits the sample consistently.
func (s Score) Qualifies() bool {
	return s.Fields > 1 && s.Consistent*2 > s.Records
}

// Sniff returns the best dialect for sample. If no candidate qualifies the
// returned Dialect has no delimiter and the default quote.
func (s Sniffer) Sniff(sample string) Dialect {
	best, ok := s.best(sample)
	if !ok {
		return Dialect{Quote: s.defaultQuote()}
	}
	return Dialect{
		Delimiter: best.Dialect.Delimiter,
		Quote:     s.QuoteFor(sample, best.Dialect.Delimiter),
	}
}

// QuoteFor picks the quote candidate with the most quoted fields holding
// delim. Ties and the no-evidence case resolve to the earliest candidate
// that differs from delim.
func (s Sniffer) QuoteFor(sample string, delim rune) rune {
	quote, most := s.defaultQuote(), -1
	for _, q := range s.Quotes {
		if record.Validate(delim, q) != nil {
			continue
		}
		if n := quotedDelimiters(sample, delim, q); n > most {
			quote, most = q, n
		}
	}
	return quote
}

// quotedDelimiters counts fields of the form <q>...<delim>...<q> that sit on
// field boundaries.
func quotedDelimiters(sample string, delim, quote rune) int {
	q := regexp.QuoteMeta(string(quote))
	d := regexp.QuoteMeta(string(delim))
	notQ := `[^` + q + `\r\n]*`
	re := regexp.MustCompile(q + notQ + d + notQ + q)

	n := 0
	for _, loc := range re.FindAllStringIndex(sample, -1) {
		if atBoundary(sample, loc[0], loc[1], delim) {
			n++
		}
	}
	return n
}

func atBoundary(sample string, start, end int, delim rune) bool {
	before := start == 0 || isBoundaryRune(lastRune(sample[:start]), delim)
	after := end == len(sample) || isBoundaryRune(firstRune(sample[end:]), delim)
	return before && after
}

func isBoundaryRune(r, delim rune) bool {
	return r == delim || r == '\n' || r == '\r'
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

// Scores evaluates every candidate pair in priority order.
func (s Sniffer) Scores(sample string) []Score {
	quotes := s.Quotes
	if len(quotes) == 0 {
		quotes = []rune{DefaultQuote}
	}

	scores := make([]Score, 0, len(s.Delimiters)*len(quotes))
	for _, d := range s.Delimiters {
		for _, q := range quotes {
			if record.Validate(d, q) != nil {
				continue
			}
			scores = append(scores, score(sample, Dialect{Delimiter: d, Quote: q}))
		}
	}
	return scores
}

func (s Sniffer) best(sample string) (Score, bool) {
	var (
		best  Score
		found bool
	)
	// Scores are in priority order, so only a strictly better score replaces
	// the current best.
	for _, sc := range s.Scores(sample) {
		if !sc.Qualifies() {
			continue
		}
		if !found || sc.Consistent > best.Consistent {
			best, found = sc, true
		}
	}
	return best, found
}

func (s Sniffer) defaultQuote() rune {
	if len(s.Quotes) > 0 {
		return s.Quotes[0]
	}
	return DefaultQuote
}

func score(sample string, d Dialect) Score {
	counts := fieldCounts(sample, d)

	freq := make(map[int]int, len(counts))
	for _, n := range counts {
		freq[n]++
	}

	sc := Score{Dialect: d, Records: len(counts)}
	for n, c := range freq {
		// Prefer the wider split when two counts are equally common.
		if c > sc.Consistent || (c == sc.Consistent && n > sc.Fields) {
			sc.Fields, sc.Consistent = n, c
		}
	}
	return sc
}

// fieldCounts returns the field count of every complete record in sample.
// The sample is cut at a line boundary, so the final record is dropped when
// it ends inside an open quoted field.
func fieldCounts(sample string, d Dialect) []int {
	r := record.NewReader(strings.NewReader(sample), d.Delimiter, d.Quote)

	var (
		counts []int
		open   bool
	)
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		counts = append(counts, len(rec))
		open = r.Unterminated()
	}

	if open {
		counts = counts[:len(counts)-1]
	}
	return counts
}
