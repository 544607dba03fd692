// Package charset resolves the character encoding of a text sample and
// decodes streams in that encoding to UTF-8.
//
// Detection runs a fixed fallback chain and the first confident method wins:
//
//  1. byte-order mark
//  2. statistical detection (UTF-8 validity, then github.com/saintfish/chardet)
//  3. the charset declared by the transport, e.g. an HTTP Content-Type
//  4. UTF-8
//
// Detection never fails; the default is used silently.
package charset

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// ErrUnknownEncoding is returned by Lookup for names no index recognizes.
var ErrUnknownEncoding = errors.New("unknown encoding")

// UTF8 is the canonical name of the default encoding.
const UTF8 = "utf-8"

// DefaultThreshold is the minimum chardet confidence (0-100) accepted.
const DefaultThreshold = 50

// Method records which step of the chain produced a Result.
type Method int

const (
	MethodDefault Method = iota
	MethodMagic
	MethodStatistical
	MethodHint
	MethodExplicit
)

func (m Method) String() string {
	switch m {
	case MethodMagic:
		return "magic"
	case MethodStatistical:
		return "statistical"
	case MethodHint:
		return "hint"
	case MethodExplicit:
		return "explicit"
	default:
		return "default"
	}
}

// Result is a resolved encoding.
type Result struct {
	Name     string
	Method   Method
	Encoding encoding.Encoding
}

// IsUTF8 reports whether the result needs no transcoding.
func (r Result) IsUTF8() bool {
	return r.Name == UTF8
}

// Default returns the UTF-8 result used when nothing else is confident.
func Default() Result {
	return Result{Name: UTF8, Method: MethodDefault, Encoding: unicode.UTF8}
}

// Detector runs the detection chain.
type Detector struct {
	// Threshold is the minimum statistical confidence, 0-100.
	Threshold int
}

// NewDetector returns a Detector with DefaultThreshold.
func NewDetector() Detector {
	return Detector{Threshold: DefaultThreshold}
}

// Detect resolves the encoding of sample. hint is a transport-declared
// charset name and may be empty.
func (d Detector) Detect(sample []byte, hint string) Result {
	if res, ok := detectBOM(sample); ok {
		return res
	}
	if res, ok := d.detectStatistical(sample); ok {
		return res
	}
	if hint != "" {
		if res, err := Lookup(hint); err == nil {
			res.Method = MethodHint
			return res
		}
	}
	return Default()
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

func detectBOM(sample []byte) (Result, bool) {
	switch {
	case bytes.HasPrefix(sample, bomUTF8):
		return Result{Name: UTF8, Method: MethodMagic, Encoding: unicode.UTF8}, true
	case bytes.HasPrefix(sample, bomUTF16LE):
		return Result{
			Name:     "utf-16le",
			Method:   MethodMagic,
			Encoding: unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM),
		}, true
	case bytes.HasPrefix(sample, bomUTF16BE):
		return Result{
			Name:     "utf-16be",
			Method:   MethodMagic,
			Encoding: unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM),
		}, true
	}
	return Result{}, false
}

func (d Detector) detectStatistical(sample []byte) (Result, bool) {
	if len(sample) == 0 {
		return Result{}, false
	}
	if utf8.Valid(sample) {
		return Result{Name: UTF8, Method: MethodStatistical, Encoding: unicode.UTF8}, true
	}

	guess, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || guess == nil || guess.Confidence < d.Threshold {
		return Result{}, false
	}

	res, err := Lookup(guess.Charset)
	if err != nil {
		return Result{}, false
	}
	res.Method = MethodStatistical
	return res, true
}

// chardet spells some names differently from the WHATWG and IANA indexes.
var aliases = map[string]string{
	"gb-18030": "gb18030",
}

// Lookup resolves an encoding by name using the WHATWG index first and the
// IANA registry second.
func Lookup(name string) (Result, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	if key == "" {
		return Result{}, fmt.Errorf("%w: empty name", ErrUnknownEncoding)
	}

	if enc, err := htmlindex.Get(key); err == nil {
		canonical, err := htmlindex.Name(enc)
		if err != nil {
			canonical = key
		}
		return Result{Name: canonical, Method: MethodExplicit, Encoding: enc}, nil
	}

	enc, err := ianaindex.IANA.Encoding(key)
	if err != nil || enc == nil {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = key
	}
	return Result{Name: strings.ToLower(canonical), Method: MethodExplicit, Encoding: enc}, nil
}
