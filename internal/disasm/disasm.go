// Package disasm defines the instruction listing produced for a basic block
// and the queries run against it.
package disasm

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Inst is one disassembled instruction.
type Inst struct {
	Address uint64 // absolute address after rebasing
	Bytes   []byte // sub-slice of the block's code
	Text    string // Intel syntax rendering
}

// Block is the listing of a basic block in increasing address order.
type Block []Inst

// ContainsAddressExact reports whether an instruction starts at addr.
func (b Block) ContainsAddressExact(addr uint64) bool {
	for _, in := range b {
		if in.Address == addr {
			return true
		}
	}
	return false
}

// ContainsAddress reports whether addr lies between the first and last
// instruction addresses, inclusive.
func (b Block) ContainsAddress(addr uint64) bool {
	if len(b) == 0 {
		return false
	}
	return b[0].Address <= addr && addr <= b[len(b)-1].Address
}

// ContainsText reports whether any instruction text contains pattern.
func (b Block) ContainsText(pattern string) bool {
	for _, in := range b {
		if strings.Contains(in.Text, pattern) {
			return true
		}
	}
	return false
}

// ContainsBytes reports whether seq occurs within a single instruction's bytes.
func (b Block) ContainsBytes(seq []byte) bool {
	for _, in := range b {
		if bytes.Contains(in.Bytes, seq) {
			return true
		}
	}
	return false
}

// String formats the instruction as "0x<address>  <bytes>  <text>".
func (in Inst) String() string {
	return fmt.Sprintf("0x%016x  %-45s  %s", in.Address, spacedHex(in.Bytes), in.Text)
}

func (b Block) String() string {
	lines := make([]string, len(b))
	for i, in := range b {
		lines[i] = in.String()
	}
	return strings.Join(lines, "\n")
}

func spacedHex(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	h := hex.EncodeToString(p)
	var sb strings.Builder
	sb.Grow(len(h) + len(p) - 1)
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(h[i : i+2])
	}
	return sb.String()
}
