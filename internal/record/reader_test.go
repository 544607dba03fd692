package record

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func readAll(t *testing.T, r *Reader) [][]string {
	t.Helper()
	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out = append(out, rec)
	}
}

func TestReader_Read(t *testing.T) {
	tests := []struct {
		name  string
		input string
		delim rune
		quote rune
		want  [][]string
	}{
		{
			name:  "simple comma",
			input: "a,b,c\n1,2,3\n",
			delim: ',', quote: '"',
			want: [][]string{{"a", "b", "c"}, {"1", "2", "3"}},
		},
		{
			name:  "no trailing newline",
			input: "a\tb\n1\t2",
			delim: '\t', quote: '"',
			want: [][]string{{"a", "b"}, {"1", "2"}},
		},
		{
			name:  "crlf line endings",
			input: "a;b\r\n1;2\r\n",
			delim: ';', quote: '"',
			want: [][]string{{"a", "b"}, {"1", "2"}},
		},
		{
			name:  "quoted delimiter",
			input: "\"x,y\",z\n",
			delim: ',', quote: '"',
			want: [][]string{{"x,y", "z"}},
		},
		{
			name:  "doubled quote",
			input: "\"say \"\"hi\"\"\",1\n",
			delim: ',', quote: '"',
			want: [][]string{{`say "hi"`, "1"}},
		},
		{
			name:  "embedded newline",
			input: "\"line1\r\nline2\",b\nc,d\n",
			delim: ',', quote: '"',
			want: [][]string{{"line1\nline2", "b"}, {"c", "d"}},
		},
		{
			name:  "single quote char",
			input: "'a|b'|c\n",
			delim: '|', quote: '\'',
			want: [][]string{{"a|b", "c"}},
		},
		{
			name:  "blank lines skipped",
			input: "\n\na,b\n\n\nc,d\n",
			delim: ',', quote: '"',
			want: [][]string{{"a", "b"}, {"c", "d"}},
		},
		{
			name:  "empty fields",
			input: ",,\na,,\n",
			delim: ',', quote: '"',
			want: [][]string{{"", "", ""}, {"a", "", ""}},
		},
		{
			name:  "literal quote inside unquoted field",
			input: "O\"Brien,5\n",
			delim: ',', quote: '"',
			want: [][]string{{`O"Brien`, "5"}},
		},
		{
			name:  "text after closing quote",
			input: "\"ab\"c,d\n",
			delim: ',', quote: '"',
			want: [][]string{{"abc", "d"}},
		},
		{
			name:  "unterminated quote at eof",
			input: "a,\"open",
			delim: ',', quote: '"',
			want: [][]string{{"a", "open"}},
		},
		{
			name:  "multibyte delimiter",
			input: "a§b\n",
			delim: '§', quote: '"',
			want: [][]string{{"a", "b"}},
		},
		{
			name:  "empty input",
			input: "",
			delim: ',', quote: '"',
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readAll(t, NewReader(strings.NewReader(tt.input), tt.delim, tt.quote))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReader_Line(t *testing.T) {
	r := NewReader(strings.NewReader("a,b\n\"x\ny\",z\n\nlast,1\n"), ',', '"')

	wantLines := []int{1, 2, 5}
	for i, want := range wantLines {
		if _, err := r.Read(); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if got := r.Line(); got != want {
			t.Errorf("record %d: Line() = %d, want %d", i, got, want)
		}
	}
}

type failingReader struct {
	data string
	err  error
	done bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.done {
		return 0, f.err
	}
	f.done = true
	return copy(p, f.data), nil
}

func TestReader_PropagatesSourceError(t *testing.T) {
	boom := errors.New("boom")
	r := NewReader(&failingReader{data: "a,b\nc,", err: boom}, ',', '"')

	if _, err := r.Read(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	rec, err := r.Read()
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if rec != nil {
		t.Errorf("partial record returned: %q", rec)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		delim   rune
		quote   rune
		wantErr bool
	}{
		{"comma", ',', '"', false},
		{"tab single quote", '\t', '\'', false},
		{"unset", 0, '"', true},
		{"newline delimiter", '\n', '"', true},
		{"same rune", '"', '"', true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.delim, tt.quote)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDialect) {
				t.Errorf("error %v does not wrap ErrInvalidDialect", err)
			}
		})
	}
}

func TestReader_Unterminated(t *testing.T) {
	r := NewReader(strings.NewReader("a,\"b\nc\",d\n5\",6\nx,\"open\n"), ',', '"')

	want := []bool{false, false, true}
	for i, w := range want {
		if _, err := r.Read(); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if got := r.Unterminated(); got != w {
			t.Errorf("record %d: Unterminated() = %v, want %v", i, got, w)
		}
	}
}
