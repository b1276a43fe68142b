package comm

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultAddress is the address of the sensor/actuator node.
const DefaultAddress byte = 0x01

// FunctionCode tells whether a frame requests or pushes data.
type FunctionCode byte

// Function codes.
const (
	FuncRequest FunctionCode = 0x23
	FuncSend    FunctionCode = 0x16
)

// String implements fmt.Stringer.
func (c FunctionCode) String() string {
	switch c {
	case FuncRequest:
		return "request"
	case FuncSend:
		return "send"
	}
	return fmt.Sprintf("func(0x%02x)", byte(c))
}

// DataType enumerates the semantic kind of a frame payload.
type DataType byte

// Data types.
const (
	TypeInt    DataType = 0xB1
	TypeFloat  DataType = 0xB2
	TypeString DataType = 0xB3

	TypeReqInternalTemp  DataType = 0xC1
	TypeReqReferenceTemp DataType = 0xC2
	TypeReqUserInput     DataType = 0xC3

	TypeControlSignal    DataType = 0xD1
	TypeReferenceSignal  DataType = 0xD2
	TypeSystemState      DataType = 0xD3
	TypeControlMode      DataType = 0xD4
	TypeFunctioningState DataType = 0xD5
	TypeTimerValue       DataType = 0xD6
)

// KeySize is the size of the node access key leading command payloads.
const KeySize = 4

// StringLengthVaries marks a data type whose payload is length-prefixed.
const StringLengthVaries = -1

// dataTypeInfo describes one entry of the data type table.
type dataTypeInfo struct {
	name string
	// fn is the function code used when the controller emits this type.
	fn FunctionCode
	// size is the payload size in bytes, or StringLengthVaries.
	size int
	// keyed is true when the payload starts with the access key.
	keyed bool
	// replySize is the payload size of the node's answer to a request.
	replySize int
}

// dataTypes is the single point of change when adding a data type.
var dataTypes = map[DataType]dataTypeInfo{
	TypeInt:    {name: "int", fn: FuncSend, size: 4},
	TypeFloat:  {name: "float", fn: FuncSend, size: 4},
	TypeString: {name: "string", fn: FuncSend, size: StringLengthVaries},

	TypeReqInternalTemp:  {name: "request-internal-temperature", fn: FuncRequest, size: KeySize, keyed: true, replySize: 4},
	TypeReqReferenceTemp: {name: "request-reference-temperature", fn: FuncRequest, size: KeySize, keyed: true, replySize: 4},
	TypeReqUserInput:     {name: "request-user-input", fn: FuncRequest, size: KeySize, keyed: true, replySize: 4},

	TypeControlSignal:    {name: "send-control-signal", fn: FuncSend, size: KeySize + 4, keyed: true},
	TypeReferenceSignal:  {name: "send-reference-signal", fn: FuncSend, size: KeySize + 4, keyed: true},
	TypeSystemState:      {name: "send-system-state", fn: FuncSend, size: KeySize + 4, keyed: true},
	TypeControlMode:      {name: "set-control-mode", fn: FuncSend, size: KeySize + 1, keyed: true},
	TypeFunctioningState: {name: "send-functioning-state", fn: FuncSend, size: KeySize + 4, keyed: true},
	TypeTimerValue:       {name: "send-timer-value", fn: FuncSend, size: KeySize + 4, keyed: true},
}

// IsValid tells whether the data type is part of the protocol.
func (t DataType) IsValid() bool {
	_, ok := dataTypes[t]
	return ok
}

// Function returns the function code the controller uses for this type.
func (t DataType) Function() FunctionCode {
	return dataTypes[t].fn
}

// PayloadSize returns the payload size implied by the data type,
// StringLengthVaries for strings, or 0 and false for unknown types.
func (t DataType) PayloadSize() (int, bool) {
	info, ok := dataTypes[t]
	return info.size, ok
}

// ReplySize returns the payload size of the answer to a request type.
func (t DataType) ReplySize() int {
	return dataTypes[t].replySize
}

// Keyed tells whether the payload starts with the access key.
func (t DataType) Keyed() bool {
	return dataTypes[t].keyed
}

// String implements fmt.Stringer.
func (t DataType) String() string {
	if info, ok := dataTypes[t]; ok {
		return info.name
	}
	return fmt.Sprintf("type(0x%02x)", byte(t))
}

// Key is the node access key sent with every system command.
type Key [KeySize]byte

// DefaultKey is the access key the node is flashed with.
var DefaultKey = Key{1, 1, 6, 1}

// ParseKey parses a key written as four bytes separated by dots, commas
// or spaces, e.g. "1.1.6.1".
func ParseKey(s string) (Key, error) {
	var k Key
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == ',' || r == ' '
	})
	if len(fields) != KeySize {
		return k, fmt.Errorf("invalid key %q: want %d bytes", s, KeySize)
	}
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 0, 8)
		if err != nil {
			return k, fmt.Errorf("invalid key %q: %w", s, err)
		}
		k[i] = byte(v)
	}
	return k, nil
}

// String renders the key the way ParseKey reads it.
func (k Key) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", k[0], k[1], k[2], k[3])
}

// ControlMode selects where the reference temperature comes from.
type ControlMode byte

// Control modes.
const (
	ModeDashboard ControlMode = 0
	ModeTerminal  ControlMode = 1
)

// UserCommand is a command read with TypeReqUserInput.
type UserCommand int32

// User commands reported by the node.
const (
	CmdNone UserCommand = iota
	CmdOvenOn
	CmdOvenOff
	CmdStartHeating
	CmdCancel
	CmdTimerUp
	CmdTimerDown
	CmdMenu
)

var userCommandNames = [...]string{"none", "oven-on", "oven-off", "start-heating", "cancel", "timer+1", "timer-1", "menu"}

// String implements fmt.Stringer.
func (c UserCommand) String() string {
	if c >= 0 && int(c) < len(userCommandNames) {
		return userCommandNames[c]
	}
	return fmt.Sprintf("user-command(%d)", int32(c))
}
