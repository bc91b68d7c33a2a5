package bpfloader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// rawStructBytes little-endian encodes a fixed-size wire struct, for
// building synthetic section payloads in tests.
func rawStructBytes(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("encode %T: %v", v, err)
	}
	return buf.Bytes()
}

func binarySize(v any) int {
	return binary.Size(v)
}

// newTestLogger returns a logrus.FieldLogger that discards output, so
// test runs stay quiet even when the code under test logs warnings.
func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testELFBuilder assembles a minimal, synthetic ELF64 relocatable
// object in memory so the ELF Reader, Section Classifier, Program
// Collector, and Relocator can be exercised without a real compiled
// EBO or a running kernel.
//
// Symbol names share the section-header string table, the same
// convention the loader's own symbol name lookups follow: one string
// table serves both section and symbol names.
type testELFBuilder struct {
	strtab   []byte
	strOff   map[string]uint32
	sections []testSection
	syms     []elf.Sym64
}

type testSection struct {
	name  string
	shtyp elf.SectionType
	data  []byte
}

func newTestELFBuilder() *testELFBuilder {
	b := &testELFBuilder{
		strtab: []byte{0},
		strOff: map[string]uint32{"": 0},
	}
	// Section 0 is always the reserved NULL section.
	b.sections = append(b.sections, testSection{name: "", shtyp: elf.SHT_NULL})
	return b
}

func (b *testELFBuilder) str(s string) uint32 {
	if off, ok := b.strOff[s]; ok {
		return off
	}
	off := uint32(len(b.strtab))
	b.strtab = append(b.strtab, []byte(s)...)
	b.strtab = append(b.strtab, 0)
	b.strOff[s] = off
	return off
}

// addSection appends a section and returns its index.
func (b *testELFBuilder) addSection(name string, shtyp elf.SectionType, data []byte) int {
	b.str(name)
	b.sections = append(b.sections, testSection{name: name, shtyp: shtyp, data: data})
	return len(b.sections) - 1
}

// addSymbol registers a symbol name (reusing the shared string table)
// and appends a symbol table entry.
func (b *testELFBuilder) addSymbol(name string, bind elf.SymBind, typ elf.SymType, shndx int, value uint64) {
	b.syms = append(b.syms, elf.Sym64{
		Name:  b.str(name),
		Info:  uint8(bind)<<4 | uint8(typ),
		Other: 0,
		Shndx: uint16(shndx),
		Value: value,
		Size:  0,
	})
}

// build serializes the accumulated sections, the shared string table
// (as a .shstrtab section), and the symbol table (as a .symtab
// section) into a single ELF64 byte buffer and returns it.
func (b *testELFBuilder) build() []byte {
	shstrtabIdx := b.addSection(".shstrtab", elf.SHT_STRTAB, nil) // data filled below

	var symtabBuf bytes.Buffer
	for _, s := range b.syms {
		_ = binary.Write(&symtabBuf, binary.LittleEndian, &s)
	}
	symtabIdx := b.addSection(".symtab", elf.SHT_SYMTAB, symtabBuf.Bytes())

	b.sections[shstrtabIdx].data = b.strtab

	var out bytes.Buffer
	hdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1},
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_X86_64),
		Version:   1,
		Shentsize: uint16(binary.Size(elf.Section64{})),
		Shnum:     uint16(len(b.sections)),
		Shstrndx:  uint16(shstrtabIdx),
	}
	_ = binary.Write(&out, binary.LittleEndian, &hdr)

	offsets := make([]uint64, len(b.sections))
	for i, s := range b.sections {
		offsets[i] = uint64(out.Len())
		out.Write(s.data)
	}

	shoff := uint64(out.Len())
	for i, s := range b.sections {
		sh := elf.Section64{
			Name:   b.strOff[s.name],
			Type:   uint32(s.shtyp),
			Off:    offsets[i],
			Size:   uint64(len(s.data)),
		}
		_ = binary.Write(&out, binary.LittleEndian, &sh)
	}

	raw := out.Bytes()
	binary.LittleEndian.PutUint64(raw[40:48], shoff) // e_shoff
	_ = symtabIdx
	return raw
}
