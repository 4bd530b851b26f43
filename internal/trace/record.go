// Package trace decodes basic block records captured by the instrumentation
// layer. A record is a fixed little-endian header followed by the raw bytes
// of the executed instructions.
package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length of the fixed record header.
const HeaderSize = 8 + 1 + 1 + 8

// ErrMalformedRecord is returned for records that cannot be decoded.
var ErrMalformedRecord = errors.New("malformed record")

// ExecutionMode is the operand/address-width context of a basic block.
type ExecutionMode uint8

const (
	Compat ExecutionMode = 0
	Bit64  ExecutionMode = 1
)

// ExecutionModes lists the valid modes in their CLI spelling order.
var ExecutionModes = []ExecutionMode{Compat, Bit64}

func (m ExecutionMode) String() string {
	switch m {
	case Compat:
		return "compat"
	case Bit64:
		return "64-bit"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Bits returns the decoder mode width for m.
func (m ExecutionMode) Bits() int {
	if m == Bit64 {
		return 64
	}
	return 32
}

// Valid reports whether m is a known mode.
func (m ExecutionMode) Valid() bool {
	return m == Compat || m == Bit64
}

// ParseExecutionMode parses the CLI names "compat" and "64-bit".
func ParseExecutionMode(s string) (ExecutionMode, error) {
	for _, m := range ExecutionModes {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown execution mode %q (want compat or 64-bit)", s)
}

// ExecutionPrivilege is the protection ring a basic block ran in.
type ExecutionPrivilege uint8

const (
	Kernel ExecutionPrivilege = 0
	User   ExecutionPrivilege = 3
)

// ExecutionPrivileges lists the valid rings in their CLI spelling order.
var ExecutionPrivileges = []ExecutionPrivilege{User, Kernel}

func (p ExecutionPrivilege) String() string {
	switch p {
	case Kernel:
		return "kernel"
	case User:
		return "user"
	default:
		return fmt.Sprintf("ring(%d)", uint8(p))
	}
}

// Valid reports whether p is a known ring.
func (p ExecutionPrivilege) Valid() bool {
	return p == Kernel || p == User
}

// ParseExecutionPrivilege parses the CLI names "user" and "kernel".
func ParseExecutionPrivilege(s string) (ExecutionPrivilege, error) {
	for _, p := range ExecutionPrivileges {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown ring %q (want user or kernel)", s)
}

// BasicBlock is one decoded trace record.
type BasicBlock struct {
	ProgramCounter uint64
	Mode           ExecutionMode
	Privilege      ExecutionPrivilege
	LoopCount      uint64
	Code           []byte // executed instruction bytes
}

func (b BasicBlock) String() string {
	return fmt.Sprintf("pc: 0x%x, mode: %s, ring: %s, loop count: %d, size: %d",
		b.ProgramCounter, b.Mode, b.Privilege, b.LoopCount, len(b.Code))
}

// Decode parses a serialized record. Code aliases raw.
func Decode(raw []byte) (BasicBlock, error) {
	if len(raw) <= HeaderSize {
		return BasicBlock{}, fmt.Errorf("%w: %d bytes, need more than %d", ErrMalformedRecord, len(raw), HeaderSize)
	}

	mode := ExecutionMode(raw[8])
	if !mode.Valid() {
		return BasicBlock{}, fmt.Errorf("%w: execution mode byte %d", ErrMalformedRecord, raw[8])
	}
	priv := ExecutionPrivilege(raw[9])
	if !priv.Valid() {
		return BasicBlock{}, fmt.Errorf("%w: execution privilege byte %d", ErrMalformedRecord, raw[9])
	}

	return BasicBlock{
		ProgramCounter: binary.LittleEndian.Uint64(raw[0:8]),
		Mode:           mode,
		Privilege:      priv,
		LoopCount:      binary.LittleEndian.Uint64(raw[10:18]),
		Code:           raw[HeaderSize:],
	}, nil
}

// Encode serializes b in the layout Decode reads.
func Encode(b BasicBlock) ([]byte, error) {
	if !b.Mode.Valid() {
		return nil, fmt.Errorf("encode: invalid execution mode %d", uint8(b.Mode))
	}
	if !b.Privilege.Valid() {
		return nil, fmt.Errorf("encode: invalid execution privilege %d", uint8(b.Privilege))
	}
	if len(b.Code) == 0 {
		return nil, fmt.Errorf("encode: empty code")
	}

	out := make([]byte, HeaderSize, HeaderSize+len(b.Code))
	binary.LittleEndian.PutUint64(out[0:8], b.ProgramCounter)
	out[8] = byte(b.Mode)
	out[9] = byte(b.Privilege)
	binary.LittleEndian.PutUint64(out[10:18], b.LoopCount)
	return append(out, b.Code...), nil
}
