package bpfloader

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/go-quicktest/qt"
)

func TestReaderReadHeaderRejectsBadMagic(t *testing.T) {
	b := newTestELFBuilder()
	raw := b.build()
	raw[0] = 0x00 // corrupt the magic

	rd := newReader(bytes.NewReader(raw))
	_, err := rd.readHeader()
	var le *LoadError
	qt.Assert(t, qt.ErrorAs(err, &le))
	qt.Assert(t, qt.Equals(le.Kind, Malformed))
}

func TestReaderReadSectionByNameFoundVsNotFound(t *testing.T) {
	b := newTestELFBuilder()
	b.addSection("license", elf.SHT_PROGBITS, []byte("GPL\x00"))
	raw := b.build()

	rd := newReader(bytes.NewReader(raw))
	hdr, err := rd.readHeader()
	qt.Assert(t, qt.IsNil(err))
	shdrs, err := rd.readSectionTable(hdr)
	qt.Assert(t, qt.IsNil(err))
	strtab, err := rd.readSectionHeaderStrtab(hdr, shdrs)
	qt.Assert(t, qt.IsNil(err))

	data, found, err := rd.readSectionByName(hdr, shdrs, strtab, "license")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(found))
	qt.Assert(t, qt.DeepEquals(data, []byte("GPL\x00")))

	_, found, err = rd.readSectionByName(hdr, shdrs, strtab, "maps")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(found))
}

func TestReaderReadSymtabSortedVsUnsorted(t *testing.T) {
	b := newTestELFBuilder()
	b.addSection("one", elf.SHT_PROGBITS, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	b.addSymbol("high", elf.STB_GLOBAL, elf.STT_OBJECT, 1, 100)
	b.addSymbol("low", elf.STB_GLOBAL, elf.STT_OBJECT, 1, 10)
	raw := b.build()

	rd := newReader(bytes.NewReader(raw))
	hdr, err := rd.readHeader()
	qt.Assert(t, qt.IsNil(err))
	shdrs, err := rd.readSectionTable(hdr)
	qt.Assert(t, qt.IsNil(err))
	strtab, err := rd.readSectionHeaderStrtab(hdr, shdrs)
	qt.Assert(t, qt.IsNil(err))

	unsorted, err := rd.readSymtab(shdrs, false)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(unsorted, 2))
	name0, err := symName(strtab, unsorted[0].Name)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(name0, "high"))

	sorted, err := rd.readSymtab(shdrs, true)
	qt.Assert(t, qt.IsNil(err))
	nameFirst, err := symName(strtab, sorted[0].Name)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(nameFirst, "low"))
}

// TestCollectAndRelocateSyntheticKprobe builds a minimal in-memory EBO
// with one map, one kprobe section with a matching program definition,
// and a companion relocation section, then exercises the Program
// Collector and Relocator against it end to end (no kernel calls).
func TestCollectAndRelocateSyntheticKprobe(t *testing.T) {
	b := newTestELFBuilder()

	b.addSection("license", elf.SHT_PROGBITS, []byte("GPL\x00"))

	mapDef := rawMapDefinition{Type: uint32(MapTypeHash), KeySize: 4, ValueSize: 8, MaxEntries: 64, MaxKver: 0xffffffff}
	mapsIdx := b.addSection("maps", elf.SHT_PROGBITS, rawStructBytes(t, mapDef))

	// Two 8-byte instruction slots: the first is a 64-bit immediate
	// load (the relocation target), dst_reg=1, src_reg=0, imm=0.
	code := []byte{
		ldImm64Code, 0x01, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
	}
	kprobeIdx := b.addSection("kprobe/do_sys_open", elf.SHT_PROGBITS, code)

	rel := elf.Rel64{Off: 0, Info: 0 << 32}
	b.addSection(".relkprobe/do_sys_open", elf.SHT_REL, rawStructBytes(t, rel))

	progDef := rawProgDefinition{MaxKver: 0xffffffff}
	progsIdx := b.addSection("progs", elf.SHT_PROGBITS, rawStructBytes(t, progDef))

	b.addSymbol("test_map", elf.STB_GLOBAL, elf.STT_OBJECT, mapsIdx, 0)
	b.addSymbol("bpf_prog1", elf.STB_GLOBAL, elf.STT_FUNC, kprobeIdx, 0)
	b.addSymbol("bpf_prog1_def", elf.STB_GLOBAL, elf.STT_OBJECT, progsIdx, 0)

	raw := b.build()

	rd := newReader(bytes.NewReader(raw))
	hdr, err := rd.readHeader()
	qt.Assert(t, qt.IsNil(err))
	shdrs, err := rd.readSectionTable(hdr)
	qt.Assert(t, qt.IsNil(err))
	strtab, err := rd.readSectionHeaderStrtab(hdr, shdrs)
	qt.Assert(t, qt.IsNil(err))
	sortedSyms, err := rd.readSymtab(shdrs, true)
	qt.Assert(t, qt.IsNil(err))
	unsortedSyms, err := rd.readSymtab(shdrs, false)
	qt.Assert(t, qt.IsNil(err))

	mapData, found, err := rd.readSectionByName(hdr, shdrs, strtab, "maps")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(found))
	mapDefs, err := parseMapDefinitions(mapData)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(mapDefs, 1))

	progData, found, err := rd.readSectionByName(hdr, shdrs, strtab, "progs")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(found))
	progDefs, err := parseProgDefinitions(progData)
	qt.Assert(t, qt.IsNil(err))

	progDefNames, err := symbolNamesForSection(sortedSyms, strtab, shdrs, progsIdx, -1)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(progDefNames, []string{"bpf_prog1_def"}))

	classify := newClassifier(fixedFuseTypeProvider{ok: false})
	records, err := collectCodeSections(rd, hdr, shdrs, strtab, sortedSyms, progDefs, progDefNames, classify, Location{})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(records, 1))

	rec := records[0]
	qt.Assert(t, qt.Equals(rec.progType, ProgramTypeKprobe))
	qt.Assert(t, qt.Equals(rec.canonicalName, "kprobe_do_sys_open"))
	qt.Assert(t, qt.IsNotNil(rec.def))
	qt.Assert(t, qt.HasLen(rec.relocations, binarySize(elf.Rel64{})))

	maps := []*mapRecord{{def: mapDefs[0], name: "test_map", fd: 55}}

	log := newTestLogger()
	err = relocateMaps(records, maps, unsortedSyms, strtab, log)
	qt.Assert(t, qt.IsNil(err))

	patched := rec.instructions
	qt.Assert(t, qt.Equals(patched[1], byte(0x01|(pseudoMapFD<<4))))
	qt.Assert(t, qt.Equals(patched[4], byte(55)))
	qt.Assert(t, qt.Equals(patched[5], byte(0)))
}

func TestCollectCodeSectionsDeniedByAllowList(t *testing.T) {
	b := newTestELFBuilder()
	kprobeIdx := b.addSection("kprobe/do_sys_open", elf.SHT_PROGBITS, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	_ = kprobeIdx
	raw := b.build()

	rd := newReader(bytes.NewReader(raw))
	hdr, err := rd.readHeader()
	qt.Assert(t, qt.IsNil(err))
	shdrs, err := rd.readSectionTable(hdr)
	qt.Assert(t, qt.IsNil(err))
	strtab, err := rd.readSectionHeaderStrtab(hdr, shdrs)
	qt.Assert(t, qt.IsNil(err))
	sortedSyms, err := rd.readSymtab(shdrs, true)
	qt.Assert(t, qt.IsNil(err))

	classify := newClassifier(fixedFuseTypeProvider{ok: false})
	loc := Location{Allowed: []ProgramType{ProgramTypeTracepoint}}
	_, err = collectCodeSections(rd, hdr, shdrs, strtab, sortedSyms, nil, nil, classify, loc)

	var le *LoadError
	qt.Assert(t, qt.ErrorAs(err, &le))
	qt.Assert(t, qt.Equals(le.Kind, PermissionDenied))
}
