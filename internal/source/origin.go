// Package source acquires raw table bytes from one of four origin kinds and
// presents them as a single rewindable byte stream, enforcing a size quota
// while doing so.
//
// Local and in-memory origins are checked before any byte is read. A
// compressed file's uncompressed size is first estimated from its on-disk
// size with a fixed assumed compression ratio. The estimate is a heuristic
// and can err both ways, so when a quota is set the decompressed stream is
// also measured once before Open returns. Remote origins are checked against
// a declared Content-Length, measured the same way when none is declared,
// metered chunk by chunk, and restarted from byte zero when rewound.
package source

import (
	"path/filepath"
	"strings"
)

// Origin is one of LocalPath, CompressedPath, Content or RemoteURL.
type Origin interface {
	// Describe returns a short, loggable description of the origin.
	Describe() string
	isOrigin()
}

// LocalPath is an uncompressed file on disk.
type LocalPath string

// CompressedPath is a compressed file on disk. The codec follows from the
// file suffix.
type CompressedPath string

// Content is table text supplied in memory.
type Content string

// RemoteURL is an http or https URL fetched with GET.
type RemoteURL string

func (LocalPath) isOrigin()      {}
func (CompressedPath) isOrigin() {}
func (Content) isOrigin()        {}
func (RemoteURL) isOrigin()      {}

func (p LocalPath) Describe() string      { return "file:" + string(p) }
func (p CompressedPath) Describe() string { return "compressed:" + string(p) }
func (c Content) Describe() string        { return "content" }
func (u RemoteURL) Describe() string      { return string(u) }

// Codec identifies a compression format.
type Codec string

const (
	CodecNone  Codec = ""
	CodecGzip  Codec = "gzip"
	CodecZstd  Codec = "zstd"
	CodecXZ    Codec = "xz"
	CodecBzip2 Codec = "bzip2"
)

var suffixCodecs = map[string]Codec{
	".gz":   CodecGzip,
	".gzip": CodecGzip,
	".zst":  CodecZstd,
	".zstd": CodecZstd,
	".xz":   CodecXZ,
	".bz2":  CodecBzip2,
}

// CodecFor returns the codec implied by path's suffix.
func CodecFor(path string) Codec {
	return suffixCodecs[strings.ToLower(filepath.Ext(path))]
}

// Classify returns CompressedPath when path carries a known compression
// suffix and LocalPath otherwise.
func Classify(path string) Origin {
	if CodecFor(path) != CodecNone {
		return CompressedPath(path)
	}
	return LocalPath(path)
}
