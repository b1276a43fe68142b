package comm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// HeaderSize is the size of address, function code and data type.
const HeaderSize = 3

// MinFrameSize is the smallest frame that can be decoded.
const MinFrameSize = HeaderSize + CRCSize

// Frame contains the information of a single protocol message.
type Frame struct {
	Address  byte
	Function FunctionCode
	Type     DataType
	Payload  []byte
	// CRC is only set on decoded frames; the encoder recomputes it.
	CRC uint16
}

// Encode builds the wire bytes of a frame. The payload length must match
// the length implied by dt exactly.
func Encode(address byte, fn FunctionCode, dt DataType, payload []byte) ([]byte, error) {
	if err := checkPayload(dt, payload); err != nil {
		return nil, err
	}
	b := make([]byte, 0, HeaderSize+len(payload)+CRCSize)
	b = append(b, address, byte(fn), byte(dt))
	b = append(b, payload...)
	return AppendChecksum(b), nil
}

// Bytes encodes the frame.
func (f *Frame) Bytes() ([]byte, error) {
	return Encode(f.Address, f.Function, f.Type, f.Payload)
}

func checkPayload(dt DataType, payload []byte) error {
	size, ok := dt.PayloadSize()
	if !ok {
		return fmt.Errorf("%w: 0x%02x", ErrUnsupportedDataType, byte(dt))
	}
	if size == StringLengthVaries {
		if len(payload) == 0 {
			return &PayloadLengthError{Type: dt, Want: 1, Got: 0}
		}
		if want := int(payload[0]) + 1; want != len(payload) {
			return &PayloadLengthError{Type: dt, Want: want, Got: len(payload)}
		}
		return nil
	}
	if size != len(payload) {
		return &PayloadLengthError{Type: dt, Want: size, Got: len(payload)}
	}
	return nil
}

// Decode parses and validates received bytes. The payload is everything
// between the header and the checksum; whether it makes sense for the
// data type is left to the caller.
func Decode(data []byte) (*Frame, error) {
	if len(data) < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncatedFrame, len(data))
	}
	if err := VerifyChecksum(data); err != nil {
		return nil, err
	}
	n := len(data) - CRCSize
	f := &Frame{
		Address:  data[0],
		Function: FunctionCode(data[1]),
		Type:     DataType(data[2]),
		Payload:  make([]byte, n-HeaderSize),
		CRC:      binary.LittleEndian.Uint16(data[n:]),
	}
	copy(f.Payload, data[HeaderSize:n])
	return f, nil
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	return fmt.Sprintf("addr=0x%02x %s %s [% x]", f.Address, f.Function, f.Type, f.Payload)
}

// Int32 interprets a 4-byte payload as a little-endian int32.
func (f *Frame) Int32() (int32, error) {
	if len(f.Payload) != 4 {
		return 0, &PayloadError{Type: f.Type, Want: 4, Got: len(f.Payload)}
	}
	return int32(binary.LittleEndian.Uint32(f.Payload)), nil
}

// Float32 interprets a 4-byte payload as a little-endian IEEE-754 float.
func (f *Frame) Float32() (float32, error) {
	if len(f.Payload) != 4 {
		return 0, &PayloadError{Type: f.Type, Want: 4, Got: len(f.Payload)}
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(f.Payload)), nil
}

// Text interprets a length-prefixed payload as a string.
func (f *Frame) Text() (string, error) {
	if len(f.Payload) == 0 {
		return "", &PayloadError{Type: f.Type, Want: 1, Got: 0}
	}
	if want := int(f.Payload[0]) + 1; want != len(f.Payload) {
		return "", &PayloadError{Type: f.Type, Want: want, Got: len(f.Payload)}
	}
	return string(f.Payload[1:]), nil
}

// Key splits the access key off a keyed command payload.
func (f *Frame) Key() (key Key, body []byte, ok bool) {
	size, known := f.Type.PayloadSize()
	if !known || !f.Type.Keyed() || len(f.Payload) != size {
		return key, nil, false
	}
	copy(key[:], f.Payload)
	return key, f.Payload[KeySize:], true
}

// IntPayload encodes v for TypeInt and keyed int commands.
func IntPayload(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

// FloatPayload encodes v for TypeFloat and keyed float commands.
func FloatPayload(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

// StringPayload encodes s with a 1-byte length prefix.
func StringPayload(s string) ([]byte, error) {
	if len(s) > math.MaxUint8 {
		return nil, fmt.Errorf("string too long: %d bytes", len(s))
	}
	b := make([]byte, 0, len(s)+1)
	b = append(b, byte(len(s)))
	return append(b, s...), nil
}

// KeyedPayload prefixes body with the access key.
func KeyedPayload(key Key, body ...byte) []byte {
	b := make([]byte, 0, KeySize+len(body))
	b = append(b, key[:]...)
	return append(b, body...)
}
