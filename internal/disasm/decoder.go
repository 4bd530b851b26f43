package disasm

import (
	"errors"

	"golang.org/x/arch/x86/x86asm"

	"bbtrace/internal/trace"
)

// Decoded is a single decoded instruction.
type Decoded struct {
	Len  int
	Text string
}

// Decoder decodes the first instruction in code.
type Decoder interface {
	Decode(code []byte, mode trace.ExecutionMode) (Decoded, error)
}

// errPrefixOnly is returned when code ends after one or more prefixes, which
// x86asm reports as an instruction with no operation.
var errPrefixOnly = errors.New("truncated instruction: prefix without opcode")

// X86Decoder decodes with x86asm and renders Intel syntax. Text is rendered
// at pc 0 so relative branch targets stay address independent.
type X86Decoder struct{}

func (X86Decoder) Decode(code []byte, mode trace.ExecutionMode) (Decoded, error) {
	inst, err := x86asm.Decode(code, mode.Bits())
	if err != nil {
		return Decoded{}, err
	}
	if inst.Op == 0 {
		return Decoded{}, errPrefixOnly
	}
	return Decoded{Len: inst.Len, Text: x86asm.IntelSyntax(inst, 0, nil)}, nil
}
