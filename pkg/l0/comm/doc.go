// Package comm provides L0 protocol support.
package comm

// L0 protocol is communicated between the oven controller (this side)
// and the sensor/actuator node over a point-to-point serial link.
//
// Every exchange is a single frame:
//
//	address(1) | function(1) | data type(1) | payload(n) | crc16(2)
//
// The payload length is implied by the data type. The CRC is CRC-16/MODBUS
// over all preceding bytes, stored little-endian like every other
// multi-byte field on the link.
//
// The controller always initiates: a REQUEST frame is answered with a frame
// carrying the same data type, a SEND frame is not answered.
//
// The 0xD1..0xD6 commands go out as SEND (0x16). The first node firmware
// received them as REQUEST (0x23), so a legacy peer may need reflashing.
//
// Producer: sensor/actuator node firmware
// Consumer: oven controller
