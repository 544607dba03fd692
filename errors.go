package anycsv

import (
	"errors"

	"github.com/JonMunkholm/anycsv/internal/charset"
	"github.com/JonMunkholm/anycsv/internal/record"
	"github.com/JonMunkholm/anycsv/internal/source"
	"github.com/JonMunkholm/anycsv/internal/stream"
)

var (
	// ErrNoInputSpecified is returned by Open when Input names no origin.
	ErrNoInputSpecified = errors.New("no CSV input specified")

	// ErrAmbiguousInput is returned by Open when Input names more than one
	// origin.
	ErrAmbiguousInput = errors.New("more than one CSV input specified")

	// ErrNoDelimiterDetected is returned by Open when sniffing found no
	// delimiter and none was given.
	ErrNoDelimiterDetected = errors.New("no delimiter detected")

	// ErrQuotaExceeded is returned when the input is larger than the
	// configured maximum size, either before reading or while reading.
	ErrQuotaExceeded = source.ErrQuotaExceeded

	// ErrAcquisition covers missing files, network failures, timeouts and
	// corrupt compressed files.
	ErrAcquisition = source.ErrAcquisition

	// ErrDecoding is returned under the strict error policy for bytes that
	// are invalid in the resolved encoding.
	ErrDecoding = charset.ErrDecoding

	// ErrUnknownEncoding is returned by Open for an unrecognized
	// WithEncoding name.
	ErrUnknownEncoding = charset.ErrUnknownEncoding

	// ErrLineOutOfRange is returned by SeekLine.
	ErrLineOutOfRange = stream.ErrLineOutOfRange

	// ErrInvalidDialect is returned by Open when the delimiter override
	// cannot be used with the quote character.
	ErrInvalidDialect = record.ErrInvalidDialect

	// ErrClosed is returned when reading a closed Table.
	ErrClosed = source.ErrClosed
)

type (
	// QuotaError carries the limit and the size that broke it.
	QuotaError = source.QuotaError

	// DecodeError carries the offset of the first undecodable sequence.
	DecodeError = charset.DecodeError
)
