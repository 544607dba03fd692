package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/anycsv"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestRun_Stdin(t *testing.T) {
	out, err := runCLI(t, "name;city\nAda;London\n\"Lovelace; A.\";Marylebone\n", "-")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "name|city\nAda|London\nLovelace; A.|Marylebone\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRun_FileToFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tsv")
	out := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(in, []byte("a\tb\n1\t2\n3\t4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runCLI(t, "", "-o", out, "-out-delimiter", "comma", "-skip", "1", "-limit", "1", in); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "1,2\n" {
		t.Errorf("output = %q, want %q", got, "1,2\n")
	}
}

func TestRun_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "x,y\n1,2\n")
	}))
	defer srv.Close()

	out, err := runCLI(t, "", "-info", srv.URL+"/t.csv")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, `delimiter: ','`) || !strings.Contains(out, "origin:    "+srv.URL) {
		t.Errorf("info output = %q", out)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  error
		code  int
	}{
		{"quota", "a,b\n1,2\n", []string{"-max-size", "3", "-"}, anycsv.ErrQuotaExceeded, 3},
		{"missing file", "", []string{filepath.Join(t.TempDir(), "nope.csv")}, anycsv.ErrAcquisition, 4},
		{"no delimiter", "abc\ndef\n", []string{"-"}, anycsv.ErrNoDelimiterDetected, 1},
		{"help", "", []string{"-h"}, flag.ErrHelp, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.stdin, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := exitCode(err); got != tt.code {
				t.Errorf("exitCode = %d, want %d", got, tt.code)
			}
		})
	}
}

func TestRun_Usage(t *testing.T) {
	if _, err := runCLI(t, ""); err == nil {
		t.Error("run without input succeeded")
	}
	if _, err := runCLI(t, "a,b\n", "-out-delimiter", "::", "-"); err == nil {
		t.Error("run with a two-character output delimiter succeeded")
	}
	if _, err := runCLI(t, "a,b\n", "-limit", "-1", "-"); err == nil {
		t.Error("run with negative limit succeeded")
	}
}

func TestInputFor(t *testing.T) {
	tests := []struct {
		arg  string
		want anycsv.Input
	}{
		{"data.csv", anycsv.Input{Path: "data.csv"}},
		{"/tmp/data.csv.gz", anycsv.Input{Path: "/tmp/data.csv.gz"}},
		{"https://example.com/x.csv", anycsv.Input{URL: "https://example.com/x.csv"}},
		{"-", anycsv.Input{Content: "stdin"}},
	}
	for _, tt := range tests {
		got, err := inputFor(tt.arg, strings.NewReader("stdin"), anycsv.Unbounded)
		if err != nil || got != tt.want {
			t.Errorf("inputFor(%q) = %+v, %v, want %+v", tt.arg, got, err, tt.want)
		}
	}
}

// endlessReader never runs dry.
type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	return len(p), nil
}

func TestInputFor_StdinBoundedByQuota(t *testing.T) {
	in, err := inputFor("-", endlessReader{}, 10)
	if err != nil {
		t.Fatalf("inputFor: %v", err)
	}
	if len(in.Content) != 11 {
		t.Errorf("len(Content) = %d, want 11", len(in.Content))
	}

	_, err = anycsv.Open(context.Background(), in, anycsv.WithMaxSize(10))
	if !errors.Is(err, anycsv.ErrQuotaExceeded) {
		t.Errorf("Open err = %v, want ErrQuotaExceeded", err)
	}
}
