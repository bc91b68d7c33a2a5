package bpfloader

import "fmt"

// instructionSize is the size in bytes of one raw BPF instruction slot,
// matching the kernel's struct bpf_insn. A 64-bit immediate load
// occupies two consecutive slots; relocation only ever patches the
// first.
const instructionSize = 8

// ldImm64Code is the opcode byte of "load 64-bit immediate"
// (BPF_LD | BPF_IMM | BPF_DW), the only instruction form map
// relocation is allowed to rewrite.
const ldImm64Code = 0x18

// pseudoMapFD is the source-register tag the kernel uses to recognize
// that an LD_IMM64's immediate field holds a map file descriptor rather
// than a literal constant.
const pseudoMapFD = 1

// rawInstruction is a view onto one 8-byte instruction slot within a
// code section's byte buffer.
type rawInstruction struct {
	buf []byte
}

func instructionAt(code []byte, index int) (rawInstruction, error) {
	off := index * instructionSize
	if off < 0 || off+instructionSize > len(code) {
		return rawInstruction{}, fmt.Errorf("instruction index %d out of range for %d-byte section", index, len(code))
	}
	return rawInstruction{buf: code[off : off+instructionSize]}, nil
}

func (ins rawInstruction) opcode() byte {
	return ins.buf[0]
}

// setMapFD overwrites the immediate field with fd and sets the
// source-register field to the pseudo-map-fd tag. This is the only
// mutation the loader ever performs on program bytes.
func (ins rawInstruction) setMapFD(fd int32) {
	ins.buf[1] = (ins.buf[1] &^ 0xf0) | (byte(pseudoMapFD) << 4)
	ins.buf[4] = byte(fd)
	ins.buf[5] = byte(fd >> 8)
	ins.buf[6] = byte(fd >> 16)
	ins.buf[7] = byte(fd >> 24)
}
