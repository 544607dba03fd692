package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func fetcherWithQuota(q int64) *Fetcher {
	f := NewFetcher()
	f.Quota = q
	return f
}

func readAll(t *testing.T, s Stream) string {
	t.Helper()
	b, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(b)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Origin
	}{
		{"data.csv", LocalPath("data.csv")},
		{"data.csv.gz", CompressedPath("data.csv.gz")},
		{"DATA.TSV.GZ", CompressedPath("DATA.TSV.GZ")},
		{"data.csv.zst", CompressedPath("data.csv.zst")},
		{"data.csv.xz", CompressedPath("data.csv.xz")},
		{"data.csv.bz2", CompressedPath("data.csv.bz2")},
		{"archive.gzx", LocalPath("archive.gzx")},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}
}

func TestOpen_Content(t *testing.T) {
	s, err := fetcherWithQuota(Unbounded).Open(context.Background(), Content("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if got := readAll(t, s); got != "a,b\n1,2\n" {
		t.Errorf("got %q", got)
	}
	if err := s.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if got := readAll(t, s); got != "a,b\n1,2\n" {
		t.Errorf("after rewind got %q", got)
	}
}

func TestOpen_ContentQuota(t *testing.T) {
	_, err := fetcherWithQuota(3).Open(context.Background(), Content("a\tb\n1\t2\n"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}

	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err %T is not *QuotaError", err)
	}
	if qe.Size != 8 || qe.Limit != 3 || qe.Estimated {
		t.Errorf("QuotaError = %+v", qe)
	}
}

func TestOpen_ZeroQuotaAllowsEmptyContent(t *testing.T) {
	s, err := fetcherWithQuota(0).Open(context.Background(), Content(""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := readAll(t, s); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestOpen_LocalPath(t *testing.T) {
	path := writeFile(t, "data.csv", []byte("x;y\n1;2\n"))

	t.Run("reads and rewinds", func(t *testing.T) {
		s, err := fetcherWithQuota(Unbounded).Open(context.Background(), LocalPath(path))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Close()

		if got := readAll(t, s); got != "x;y\n1;2\n" {
			t.Errorf("got %q", got)
		}
		if s.BytesRead() != 8 {
			t.Errorf("BytesRead = %d, want 8", s.BytesRead())
		}
		if err := s.Rewind(); err != nil {
			t.Fatalf("Rewind: %v", err)
		}
		if s.BytesRead() != 0 {
			t.Errorf("BytesRead after rewind = %d, want 0", s.BytesRead())
		}
		if got := readAll(t, s); got != "x;y\n1;2\n" {
			t.Errorf("after rewind got %q", got)
		}
	})

	t.Run("quota checked before reading", func(t *testing.T) {
		_, err := fetcherWithQuota(7).Open(context.Background(), LocalPath(path))
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("err = %v, want ErrQuotaExceeded", err)
		}
	})

	t.Run("quota equal to size passes", func(t *testing.T) {
		s, err := fetcherWithQuota(8).Open(context.Background(), LocalPath(path))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Close()
		readAll(t, s)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := fetcherWithQuota(Unbounded).Open(context.Background(), LocalPath(path+".missing"))
		if !errors.Is(err, ErrAcquisition) {
			t.Fatalf("err = %v, want ErrAcquisition", err)
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("err = %v, want it to wrap os.ErrNotExist", err)
		}
	})
}

func TestOpen_Compressed(t *testing.T) {
	const content = "id|name\n1|alpha\n2|beta\n"

	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	if err != nil {
		t.Fatal(err)
	}
	zw.Write([]byte(content))
	zw.Close()

	var xbuf bytes.Buffer
	xw, err := xz.NewWriter(&xbuf)
	if err != nil {
		t.Fatal(err)
	}
	xw.Write([]byte(content))
	xw.Close()

	files := map[string][]byte{
		"data.csv.gz":  gzipBytes(t, content),
		"data.csv.zst": zbuf.Bytes(),
		"data.csv.xz":  xbuf.Bytes(),
	}

	for name, data := range files {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, name, data)
			s, err := fetcherWithQuota(Unbounded).Open(context.Background(), Classify(path))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer s.Close()

			if got := readAll(t, s); got != content {
				t.Errorf("got %q, want %q", got, content)
			}
			if err := s.Rewind(); err != nil {
				t.Fatalf("Rewind: %v", err)
			}
			if got := readAll(t, s); got != content {
				t.Errorf("after rewind got %q", got)
			}
		})
	}
}

func TestOpen_CompressedEstimate(t *testing.T) {
	data := gzipBytes(t, "a,b\n1,2\n")
	path := writeFile(t, "small.csv.gz", data)

	// The estimate is the on-disk size divided by the assumed ratio.
	estimate := int64(float64(len(data)) / DefaultCompressionRatio)

	_, err := fetcherWithQuota(estimate-1).Open(context.Background(), CompressedPath(path))
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want *QuotaError", err)
	}
	if !qe.Estimated || qe.Size != estimate {
		t.Errorf("QuotaError = %+v, want estimated size %d", qe, estimate)
	}

	s, err := fetcherWithQuota(estimate).Open(context.Background(), CompressedPath(path))
	if err != nil {
		t.Fatalf("Open at estimate: %v", err)
	}
	s.Close()
}

func TestOpen_CompressedMeasuredBeforeReading(t *testing.T) {
	// Highly compressible input slips past the estimate but not the
	// measuring pass.
	content := strings.Repeat("aaaa,bbbb\n", 2000)
	data := gzipBytes(t, content)
	path := writeFile(t, "big.csv.gz", data)

	quota := int64(float64(len(data))/DefaultCompressionRatio) + 10
	if quota >= int64(len(content)) {
		t.Fatalf("test setup: quota %d not below content size %d", quota, len(content))
	}

	_, err := fetcherWithQuota(quota).Open(context.Background(), CompressedPath(path))
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want *QuotaError", err)
	}
	if qe.Estimated {
		t.Errorf("QuotaError = %+v, want a counted size", qe)
	}
}

func TestOpen_CorruptCompressed(t *testing.T) {
	path := writeFile(t, "bad.csv.gz", []byte("definitely not gzip"))

	_, err := fetcherWithQuota(Unbounded).Open(context.Background(), CompressedPath(path))
	if !errors.Is(err, ErrAcquisition) {
		t.Fatalf("err = %v, want ErrAcquisition", err)
	}
}

func TestOpen_Remote(t *testing.T) {
	const body = "a,b\n1,2\n3,4\n"
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/csv; charset=ISO-8859-1")
		io.WriteString(w, body)
	}))
	defer srv.Close()

	s, err := fetcherWithQuota(Unbounded).Open(context.Background(), RemoteURL(srv.URL))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.Charset() != "ISO-8859-1" {
		t.Errorf("Charset = %q", s.Charset())
	}
	if got := readAll(t, s); got != body {
		t.Errorf("got %q", got)
	}
	if err := s.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if got := readAll(t, s); got != body {
		t.Errorf("after rewind got %q", got)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("server hits = %d, want 2 (rewind restarts the download)", n)
	}
}

func TestOpen_RemoteContentLengthQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "a,b\n1,2\n")
	}))
	defer srv.Close()

	_, err := fetcherWithQuota(3).Open(context.Background(), RemoteURL(srv.URL))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestOpen_RemoteChunkedQuota(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// Flushing forces chunked encoding, so no Content-Length is sent.
		for i := 0; i < 50; i++ {
			io.WriteString(w, strings.Repeat("x", 99)+"\n")
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	f := fetcherWithQuota(1000)
	f.ChunkSize = 64

	_, err := f.Open(context.Background(), RemoteURL(srv.URL))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
}

func TestOpen_RemoteGrowsBetweenPasses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := 5
		if hits.Add(1) > 1 {
			lines = 50
		}
		for i := 0; i < lines; i++ {
			io.WriteString(w, strings.Repeat("y", 99)+"\n")
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	f := fetcherWithQuota(1000)
	f.ChunkSize = 64

	s, err := f.Open(context.Background(), RemoteURL(srv.URL))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := io.ReadAll(s)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if len(got) > 1000 {
		t.Errorf("delivered %d bytes past a 1000 byte quota", len(got))
	}
}

func TestStream_Size(t *testing.T) {
	path := writeFile(t, "data.csv", []byte("a,b\n"))
	gz := writeFile(t, "data.csv.gz", gzipBytes(t, "a,b\n"))
	chunked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "a,b\n")
		w.(http.Flusher).Flush()
	}))
	defer chunked.Close()

	tests := []struct {
		name   string
		origin Origin
		want   int64
	}{
		{"local", LocalPath(path), 4},
		{"content", Content("a,b\n"), 4},
		{"compressed", CompressedPath(gz), -1},
		{"chunked remote", RemoteURL(chunked.URL), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := fetcherWithQuota(Unbounded).Open(context.Background(), tt.origin)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer s.Close()
			if got := s.Size(); got != tt.want {
				t.Errorf("Size = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOpen_RemoteFailures(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"status 404", notFound.URL},
		{"header timeout", slow.URL},
		{"connection refused", closedURL},
		{"unsupported scheme", "ftp://example.com/data.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fetcherWithQuota(Unbounded)
			f.Timeout = 100 * time.Millisecond

			_, err := f.Open(context.Background(), RemoteURL(tt.url))
			if !errors.Is(err, ErrAcquisition) {
				t.Fatalf("err = %v, want ErrAcquisition", err)
			}
			if errors.Is(err, ErrQuotaExceeded) {
				t.Errorf("acquisition failure reported as quota failure: %v", err)
			}
		})
	}
}

func TestOpen_RemoteStalledBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "a,b\n")
		w.(http.Flusher).Flush()
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f := fetcherWithQuota(Unbounded)
	f.Timeout = 100 * time.Millisecond

	s, err := f.Open(context.Background(), RemoteURL(srv.URL))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_, err = io.ReadAll(s)
	if !errors.Is(err, ErrAcquisition) {
		t.Fatalf("err = %v, want ErrAcquisition", err)
	}
}

func TestOpen_RemoteSlowConsumer(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20000; i++ {
		b.WriteString("id,name,amount\n")
	}
	want := b.String()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, want)
	}))
	defer srv.Close()

	f := fetcherWithQuota(Unbounded)
	f.Timeout = 100 * time.Millisecond
	f.ChunkSize = 64

	s, err := f.Open(context.Background(), RemoteURL(srv.URL))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	head := make([]byte, 256)
	if _, err := io.ReadFull(s, head); err != nil {
		t.Fatalf("read head: %v", err)
	}

	// The caller stalls longer than the read timeout; the server does not.
	time.Sleep(300 * time.Millisecond)

	rest, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("read after pause: %v", err)
	}
	if got := string(head) + string(rest); got != want {
		t.Errorf("read %d bytes, want %d", len(got), len(want))
	}
}

// trackedBody counts how often the bodies handed to a stream are closed.
type trackedBody struct {
	io.Reader
	closes *int
}

func (b trackedBody) Close() error {
	*b.closes++
	return nil
}

func TestStream_ReleasedAtEOF(t *testing.T) {
	var opens, closes int
	s := &stream{
		origin: "tracked",
		quota:  Unbounded,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		open: func() (body, error) {
			opens++
			return body{ReadCloser: trackedBody{Reader: strings.NewReader("a,b\n1,2\n"), closes: &closes}, size: 8}, nil
		},
	}
	if err := s.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if got := readAll(t, s); got != "a,b\n1,2\n" {
		t.Fatalf("first pass = %q", got)
	}
	if closes != 1 {
		t.Errorf("closes after EOF = %d, want 1", closes)
	}
	if n, err := s.Read(make([]byte, 4)); n != 0 || err != io.EOF {
		t.Errorf("Read after EOF = %d, %v, want 0, io.EOF", n, err)
	}

	if err := s.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if got := readAll(t, s); got != "a,b\n1,2\n" {
		t.Errorf("second pass = %q", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if opens != 2 || closes != 2 {
		t.Errorf("opens = %d, closes = %d, want 2 and 2", opens, closes)
	}
}

func TestStream_LocalFileClosedAtEOF(t *testing.T) {
	path := writeFile(t, "t.csv", []byte("a,b\n1,2\n"))

	st, err := fetcherWithQuota(Unbounded).Open(context.Background(), LocalPath(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	readAll(t, st)

	s := st.(*stream)
	if s.body != nil {
		t.Error("file still held after EOF")
	}
}

func TestReadSample(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 250; i++ {
		b.WriteString("a,b,c\n")
	}

	s, err := fetcherWithQuota(Unbounded).Open(context.Background(), Content(b.String()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	sample, err := ReadSample(s, 100)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if sample.Lines != 100 {
		t.Errorf("Lines = %d, want 100", sample.Lines)
	}
	if len(sample.Data) != 600 {
		t.Errorf("len(Data) = %d, want 600", len(sample.Data))
	}

	// The stream is rewound for the full read.
	if got := readAll(t, s); got != b.String() {
		t.Errorf("full read after sample returned %d bytes, want %d", len(got), b.Len())
	}
}

func TestReadSample_ShortInput(t *testing.T) {
	s, err := fetcherWithQuota(Unbounded).Open(context.Background(), Content("only,line"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	sample, err := ReadSample(s, 0)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if sample.Lines != 1 || string(sample.Data) != "only,line" {
		t.Errorf("sample = %+v", sample)
	}
}

func TestStream_Closed(t *testing.T) {
	s, err := fetcherWithQuota(Unbounded).Open(context.Background(), Content("a,b"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.Read(make([]byte, 4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close err = %v, want ErrClosed", err)
	}
	if err := s.Rewind(); !errors.Is(err, ErrClosed) {
		t.Errorf("Rewind after Close err = %v, want ErrClosed", err)
	}
}
