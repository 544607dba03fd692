package config

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/anycsv"
)

// delimiterNames spells out characters that are awkward in environment
// variables and URLs.
var delimiterNames = map[string]rune{
	"comma":     ',',
	"tab":       '\t',
	"semicolon": ';',
	"pipe":      '|',
	"colon":     ':',
	"space":     ' ',
}

// ParseDelimiter accepts a single character, a name such as "tab" or
// "semicolon", or the escape `\t`.
func ParseDelimiter(s string) (rune, error) {
	if r, ok := delimiterNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return r, nil
	}
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter %q must be a single character or one of comma, tab, semicolon, pipe, colon, space", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return 0, fmt.Errorf("delimiter %q is not valid UTF-8", s)
	}
	return r, nil
}

// Options converts the CSV settings into options for anycsv.Open.
func (c *CSVConfig) Options(logger *slog.Logger) ([]anycsv.Option, error) {
	policy, err := anycsv.ParseErrorPolicy(c.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	candidates := make([]rune, 0, len(c.Delimiters))
	for _, name := range c.Delimiters {
		r, err := ParseDelimiter(name)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, r)
	}

	opts := []anycsv.Option{
		anycsv.WithSniffLines(c.SniffLines),
		anycsv.WithMaxSize(c.MaxSize),
		anycsv.WithTimeout(c.Timeout),
		anycsv.WithErrorPolicy(policy),
		anycsv.WithDelimiterCandidates(candidates...),
		anycsv.WithCompressionRatio(c.CompressionRatio),
		anycsv.WithLogger(logger),
	}
	if c.Encoding != "" {
		opts = append(opts, anycsv.WithEncoding(c.Encoding))
	}
	if c.Delimiter != "" {
		r, err := ParseDelimiter(c.Delimiter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, anycsv.WithDelimiter(r))
	}
	return opts, nil
}
