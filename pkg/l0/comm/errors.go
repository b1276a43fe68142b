package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedFrame indicates fewer bytes than header and checksum.
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrChecksumMismatch indicates the trailing CRC doesn't match the frame.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrNoResponse indicates nothing arrived before the receive deadline.
	ErrNoResponse = errors.New("no response")
	// ErrUnsupportedDataType indicates a data type outside the protocol.
	ErrUnsupportedDataType = errors.New("unsupported data type")
	// ErrClosed indicates the port was already closed.
	ErrClosed = errors.New("port closed")
)

// PayloadLengthError is returned by the encoder when a payload doesn't
// match the length implied by its data type. It's a programming error.
type PayloadLengthError struct {
	Type DataType
	Want int
	Got  int
}

// Error implements error.
func (e *PayloadLengthError) Error() string {
	return fmt.Sprintf("%s: payload length %d, want %d", e.Type, e.Got, e.Want)
}

// PayloadError indicates a received payload can't be interpreted as
// the expected value.
type PayloadError struct {
	Type DataType
	Want int
	Got  int
}

// Error implements error.
func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: unexpected payload length %d, want %d", e.Type, e.Got, e.Want)
}

// UnexpectedFrameError indicates a well-formed reply that doesn't answer
// the request it was read for.
type UnexpectedFrameError struct {
	Request DataType
	Frame   *Frame
}

// Error implements error.
func (e *UnexpectedFrameError) Error() string {
	return fmt.Sprintf("%s: unexpected reply addr=0x%02x type=%s",
		e.Request, e.Frame.Address, e.Frame.Type)
}

// TransportError wraps a failure of the underlying link.
type TransportError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsProtocolError tells whether err is recoverable by dropping the
// current exchange: a corrupted, truncated, missing or unexpected reply.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTruncatedFrame) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrNoResponse) {
		return true
	}
	var pe *PayloadError
	var ue *UnexpectedFrameError
	return errors.As(err, &pe) || errors.As(err, &ue)
}

// IsTransportError tells whether err comes from the link itself.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ProtocolErrorKind returns a short label for metrics and logs.
func ProtocolErrorKind(err error) string {
	var pe *PayloadError
	var ue *UnexpectedFrameError
	switch {
	case errors.Is(err, ErrTruncatedFrame):
		return "truncated"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, ErrNoResponse):
		return "no_response"
	case errors.As(err, &pe):
		return "payload"
	case errors.As(err, &ue):
		return "unexpected"
	}
	return "other"
}
