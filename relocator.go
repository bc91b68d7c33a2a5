package bpfloader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

// relocateMaps patches every retained code section's map references:
// for each with a nonempty relocation buffer, it decodes each ELF64
// relocation entry, resolves its symbol via the unsorted symbol table,
// finds the matching map record by name, and patches the referenced
// instruction's immediate and source-register fields to the map's fd.
//
// Relocation is applied even to maps whose slot holds an invalid
// descriptor (kver-skipped); the compiler is expected to have also
// kver-gated any program referencing such a map, but this package does
// not verify that.
func relocateMaps(records []*codeSectionRecord, maps []*mapRecord, unsortedSyms []elf.Sym64, strtab []byte, log logrus.FieldLogger) error {
	for _, rec := range records {
		if len(rec.relocations) == 0 {
			continue
		}

		entsize := binary.Size(elf.Rel64{})
		if len(rec.relocations)%entsize != 0 {
			return malformed("decode relocation section", nil)
		}
		n := len(rec.relocations) / entsize

		for i := 0; i < n; i++ {
			off := i * entsize
			var rel elf.Rel64
			if err := binary.Read(bytes.NewReader(rec.relocations[off:off+entsize]), binary.LittleEndian, &rel); err != nil {
				return malformed("decode relocation entry", err)
			}

			symIndex := rel.Info >> 32
			if int(symIndex) >= len(unsortedSyms) {
				return malformed("relocation symbol index out of range", nil)
			}
			name, err := symName(strtab, unsortedSyms[symIndex].Name)
			if err != nil {
				return err
			}

			mr := findMapRecordByName(maps, name)
			if mr == nil {
				// Other relocation symbols (e.g. helper calls) are
				// possible and are intentionally left untouched.
				continue
			}

			insnIndex := int(rel.Off) / instructionSize
			ins, err := instructionAt(rec.instructions, insnIndex)
			if err != nil {
				return malformed("relocation offset", err)
			}
			if ins.opcode() != ldImm64Code {
				log.WithFields(logrus.Fields{
					"section": rec.originalName, "map": name, "opcode": ins.opcode(),
				}).Error("invalid relocation target, expected load-64-bit-immediate")
				continue
			}

			ins.setMapFD(mr.fd)
			if mr.skipped {
				log.WithFields(logrus.Fields{"section": rec.originalName, "map": name}).
					Warn("relocated reference to a kernel-version-skipped map")
			}
		}
	}
	return nil
}

func findMapRecordByName(maps []*mapRecord, name string) *mapRecord {
	for _, m := range maps {
		if m.name == name {
			return m
		}
	}
	return nil
}
