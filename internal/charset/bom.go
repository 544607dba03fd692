package charset

import (
	"bytes"
	"io"
)

// BOMSkippingReader wraps an io.Reader and drops a leading UTF-8 BOM
// (0xEF 0xBB 0xBF), which spreadsheet exports on Windows commonly add.
type BOMSkippingReader struct {
	reader  io.Reader
	checked bool
	buf     [3]byte
	pending []byte // bytes read during the BOM check that were not a BOM
	err     error  // error from the BOM check, returned once pending drains
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: r}
}

// Read implements io.Reader. The first call inspects up to three bytes.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true

		n, err := io.ReadFull(r.reader, r.buf[:])
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if n == 3 && bytes.Equal(r.buf[:], bomUTF8) {
			n = 0
		}
		r.pending = r.buf[:n]
		r.err = err
	}

	if len(r.pending) > 0 {
		copied := copy(p, r.pending)
		r.pending = r.pending[copied:]
		return copied, nil
	}
	if r.err != nil {
		return 0, r.err
	}

	return r.reader.Read(p)
}
