package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResponse indicates no matching response arrived before timeout.
	ErrNoResponse = errors.New("no response")
	// ErrClosed indicates the transport has been stopped.
	ErrClosed = errors.New("transport closed")
	// ErrChecksumMismatch indicates the received checksum doesn't match the
	// one computed over the frame.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrMalformed indicates a frame which can't be parsed into a message.
	ErrMalformed = errors.New("malformed frame")
	// ErrTooManyArgs indicates the argument count doesn't fit the wire format.
	ErrTooManyArgs = errors.New("too many arguments")
)

// ChecksumError is reported when a frame fails the checksum verification.
// The message parsed from the frame is still available to the caller.
type ChecksumError struct {
	Expected uint16
	Actual   uint16
}

// Error implements error.
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: frame %04x, computed %04x", e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrChecksumMismatch) work.
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// MalformedError describes why a frame can't be parsed.
type MalformedError struct {
	Len    int
	Reason string
}

// Error implements error.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed frame (%d bytes): %s", e.Len, e.Reason)
}

// Is makes errors.Is(err, ErrMalformed) work.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// IOError wraps the failure of the underlying byte stream. It is terminal to
// the Transport which reported it.
type IOError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying stream error.
func (e *IOError) Unwrap() error {
	return e.Err
}
