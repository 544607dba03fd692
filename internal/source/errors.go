package source

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is wrapped by every *QuotaError.
	ErrQuotaExceeded = errors.New("size quota exceeded")

	// ErrAcquisition covers missing files, network failures, timeouts and
	// corrupt compressed data.
	ErrAcquisition = errors.New("acquisition failure")

	// ErrClosed is returned when reading a closed stream.
	ErrClosed = errors.New("stream closed")
)

// QuotaError reports a breached size quota. Estimated is set when Size is
// derived from a compressed file's on-disk size rather than counted.
type QuotaError struct {
	Origin    string
	Limit     int64
	Size      int64
	Estimated bool
}

func (e *QuotaError) Error() string {
	kind := "read"
	if e.Estimated {
		kind = "estimated"
	}
	return fmt.Sprintf("%s: maximum size exceeded, %s %d > %d bytes", e.Origin, kind, e.Size, e.Limit)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

func acquisitionError(origin, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrAcquisition, op, origin, err)
}
