// Package iname builds the table of distinct instruction forms seen in a
// trace, for generating one semantics handler per form downstream.
package iname

import (
	"errors"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"bbtrace/internal/trace"
)

// Instruction is a single decoded instruction reduced to its form.
type Instruction struct {
	Len    int
	Form   string // e.g. ADD_LOCK_MEMd_GPR32
	Locked bool
}

// Decoder decodes the first instruction in code.
type Decoder interface {
	Decode(code []byte, mode trace.ExecutionMode) (Instruction, error)
}

// errPrefixOnly is returned for a dangling prefix, which x86asm decodes as an
// instruction with no operation.
var errPrefixOnly = errors.New("truncated instruction: prefix without opcode")

// X86Decoder derives instruction forms with x86asm.
type X86Decoder struct{}

func (X86Decoder) Decode(code []byte, mode trace.ExecutionMode) (Instruction, error) {
	inst, err := x86asm.Decode(code, mode.Bits())
	if err != nil {
		return Instruction{}, err
	}
	if inst.Op == 0 {
		return Instruction{}, errPrefixOnly
	}
	return Instruction{Len: inst.Len, Form: Form(inst), Locked: hasLock(inst)}, nil
}

// Form names the operation class and operand shape of inst. Operand widths
// are spelled out, so "add eax, ebx" and "add rax, rbx" differ.
func Form(inst x86asm.Inst) string {
	parts := []string{inst.Op.String()}
	if hasLock(inst) {
		parts = append(parts, "LOCK")
	}
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		parts = append(parts, argToken(inst, a))
	}
	return strings.Join(parts, "_")
}

func hasLock(inst x86asm.Inst) bool {
	for _, p := range inst.Prefix {
		if p == 0 {
			break
		}
		if p&0xff == x86asm.PrefixLOCK && p&(x86asm.PrefixIgnored|x86asm.PrefixInvalid) == 0 {
			return true
		}
	}
	return false
}

var memWidths = map[int]string{
	1:  "b",
	2:  "w",
	4:  "d",
	8:  "q",
	10: "t",
	16: "dq",
	32: "qq",
}

// Opcodes whose immediate is always a single byte regardless of operand size.
var imm8Opcodes = map[byte]bool{
	0x0f: true, // every two and three byte opcode immediate is imm8
	0x6a: true,
	0x6b: true,
	0x83: true,
	0xc0: true,
	0xc1: true,
	0xcd: true,
	0xd4: true,
	0xd5: true,
	0xe4: true,
	0xe5: true,
	0xe6: true,
	0xe7: true,
}

func argToken(inst x86asm.Inst, a x86asm.Arg) string {
	switch a := a.(type) {
	case x86asm.Reg:
		return regToken(a)
	case x86asm.Mem:
		return "MEM" + memWidths[inst.MemBytes]
	case x86asm.Imm:
		if imm8Opcodes[opcode(inst)] || hasByteOperand(inst) {
			return "IMMb"
		}
		return "IMMz"
	case x86asm.Rel:
		switch op := opcode(inst); {
		case op >= 0x70 && op <= 0x7f, op >= 0xe0 && op <= 0xe3, op == 0xeb:
			return "RELBRb"
		}
		return "RELBRz"
	default:
		return "ARG"
	}
}

func opcode(inst x86asm.Inst) byte {
	return byte(inst.Opcode >> 24)
}

func hasByteOperand(inst x86asm.Inst) bool {
	for _, a := range inst.Args {
		switch a := a.(type) {
		case nil:
			return false
		case x86asm.Reg:
			if a >= x86asm.AL && a <= x86asm.R15B {
				return true
			}
		case x86asm.Mem:
			if inst.MemBytes == 1 {
				return true
			}
		}
	}
	return false
}

func regToken(r x86asm.Reg) string {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		return "GPR8"
	case r >= x86asm.AX && r <= x86asm.R15W:
		return "GPR16"
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return "GPR32"
	case r >= x86asm.RAX && r <= x86asm.R15:
		return "GPR64"
	case r >= x86asm.F0 && r <= x86asm.F7:
		return "X87"
	case r >= x86asm.M0 && r <= x86asm.M7:
		return "MMX"
	case r >= x86asm.X0 && r <= x86asm.X15:
		return "XMM"
	default:
		// segment, control and debug registers name their own form
		return r.String()
	}
}
