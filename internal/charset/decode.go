package charset

// decode.go provides streaming readers that turn encoded bytes into UTF-8.
//
// Each reader holds at most one chunk of input at a time:
//
//   - BOMSkippingReader: removes a leading UTF-8 BOM
//   - utf8Validator: passes valid UTF-8 through, fails on the first bad sequence
//   - replacementGuard: fails when a transcoder had to substitute U+FFFD
//
// Use NewReader to pick the right chain for a Result and Policy.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrDecoding is wrapped by every DecodeError.
var ErrDecoding = errors.New("decoding failure")

// Policy controls what happens to byte sequences invalid in the encoding.
type Policy int

const (
	// PolicyStrict fails the read with a *DecodeError.
	PolicyStrict Policy = iota
	// PolicyReplace substitutes U+FFFD and keeps going.
	PolicyReplace
)

func (p Policy) String() string {
	if p == PolicyReplace {
		return "replace"
	}
	return "strict"
}

// ParsePolicy converts "strict" or "replace" (case-insensitive) to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return PolicyStrict, nil
	case "replace":
		return PolicyReplace, nil
	default:
		return PolicyStrict, fmt.Errorf("unknown error policy %q", s)
	}
}

// DecodeError reports where decoding stopped under PolicyStrict. For UTF-8
// input Offset counts input bytes; for transcoded input it counts decoded
// output bytes.
type DecodeError struct {
	Encoding string
	Offset   int64
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid %s sequence at byte %d", e.Encoding, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecoding
}

// NewReader returns a reader producing UTF-8 text from r, which holds text
// encoded as res describes.
func NewReader(r io.Reader, res Result, policy Policy) io.Reader {
	if res.Encoding == nil || res.IsUTF8() {
		r = NewBOMSkippingReader(r)
		if policy == PolicyStrict {
			return newUTF8Validator(r)
		}
		return transform.NewReader(r, unicode.UTF8.NewDecoder())
	}

	decoded := transform.NewReader(r, res.Encoding.NewDecoder())
	if policy == PolicyStrict {
		return &replacementGuard{r: decoded, encoding: res.Name}
	}
	return decoded
}

// utf8Validator passes through valid UTF-8 and fails on the first invalid
// sequence. Bytes before the bad sequence are still delivered.
type utf8Validator struct {
	r   io.Reader
	buf []byte

	start, end int // validated bytes ready to deliver
	carry      int // incomplete sequence following end, kept for the next fill

	offset int64
	err    error // returned once the validated bytes drain
}

func newUTF8Validator(r io.Reader) *utf8Validator {
	return &utf8Validator{r: r, buf: make([]byte, 4096)}
}

func (v *utf8Validator) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for v.start == v.end {
		if v.err != nil {
			return 0, v.err
		}
		v.fill()
	}
	n := copy(p, v.buf[v.start:v.end])
	v.start += n
	return n, nil
}

func (v *utf8Validator) fill() {
	c := copy(v.buf, v.buf[v.end:v.end+v.carry])
	m, err := v.r.Read(v.buf[c:])
	n := c + m

	valid, bad := scanUTF8(v.buf[:n], errors.Is(err, io.EOF))
	v.start, v.end, v.carry = 0, valid, n-valid
	v.offset += int64(valid)

	switch {
	case bad:
		v.carry = 0
		v.err = &DecodeError{Encoding: UTF8, Offset: v.offset}
	case err != nil:
		v.err = err
	}
}

// scanUTF8 returns the length of the valid prefix of data and whether it is
// followed by an invalid sequence. An incomplete sequence at the end of data
// is not invalid unless atEOF.
func scanUTF8(data []byte, atEOF bool) (int, bool) {
	for i := 0; i < len(data); {
		if data[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			if !atEOF && !utf8.FullRune(data[i:]) {
				return i, false
			}
			return i, true
		}
		i += size
	}
	return len(data), false
}

var replacement = []byte(string(utf8.RuneError))

// replacementGuard fails once a transcoder emits U+FFFD, which x/text
// decoders use for bytes invalid in the source encoding.
type replacementGuard struct {
	r        io.Reader
	encoding string
	tail     []byte // last bytes of the previous chunk, for split U+FFFD
	offset   int64
	err      error
}

func (g *replacementGuard) Read(p []byte) (int, error) {
	if g.err != nil {
		return 0, g.err
	}

	n, err := g.r.Read(p)
	if n > 0 {
		window := append(g.tail, p[:n]...)
		if i := bytes.Index(window, replacement); i >= 0 {
			valid := i - len(g.tail)
			if valid < 0 {
				valid = 0
			}
			g.err = &DecodeError{Encoding: g.encoding, Offset: g.offset + int64(valid)}
			return valid, g.err
		}
		keep := len(replacement) - 1
		if len(window) < keep {
			keep = len(window)
		}
		g.tail = append(g.tail[:0], window[len(window)-keep:]...)
		g.offset += int64(n)
	}
	return n, err
}
