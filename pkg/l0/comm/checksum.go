package comm

import (
	"encoding/binary"

	"github.com/sigurn/crc16"
)

// CRCSize is the size of the trailing checksum.
const CRCSize = 2

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum computes CRC-16/MODBUS over data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// AppendChecksum appends the little-endian checksum of b to b.
func AppendChecksum(b []byte) []byte {
	var crc [CRCSize]byte
	binary.LittleEndian.PutUint16(crc[:], Checksum(b))
	return append(b, crc[:]...)
}

// VerifyChecksum validates the trailing checksum of a complete frame.
func VerifyChecksum(frame []byte) error {
	if len(frame) < CRCSize {
		return ErrTruncatedFrame
	}
	n := len(frame) - CRCSize
	if binary.LittleEndian.Uint16(frame[n:]) != Checksum(frame[:n]) {
		return ErrChecksumMismatch
	}
	return nil
}
