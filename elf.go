package bpfloader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// reader performs random-access reads of the ELF64 structures an EBO is
// built from. It maintains no mutable state of its own; every operation
// re-derives what it needs from the underlying io.ReaderAt, the way the
// original loader re-opened the file's ifstream for each helper.
type reader struct {
	r io.ReaderAt
}

func newReader(r io.ReaderAt) *reader {
	return &reader{r: r}
}

func (rd *reader) readAt(off int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := rd.r.ReadAt(buf, off)
	if n != size {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// readHeader returns the ELF64 file header.
func (rd *reader) readHeader() (*elf.Header64, error) {
	buf, err := rd.readAt(0, binary.Size(elf.Header64{}))
	if err != nil {
		return nil, malformed("read ELF header", err)
	}
	var hdr elf.Header64
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &hdr); err != nil {
		return nil, malformed("decode ELF header", err)
	}
	if string(hdr.Ident[:4]) != elf.ELFMAG {
		return nil, malformed("decode ELF header", fmt.Errorf("bad magic"))
	}
	return &hdr, nil
}

// readSectionTable returns every section header in file order, indexed
// identically to the file's own section indices.
func (rd *reader) readSectionTable(hdr *elf.Header64) ([]elf.Section64, error) {
	n := int(hdr.Shnum)
	entsize := int(hdr.Shentsize)
	if entsize == 0 {
		entsize = binary.Size(elf.Section64{})
	}
	buf, err := rd.readAt(int64(hdr.Shoff), n*entsize)
	if err != nil {
		return nil, malformed("read section table", err)
	}
	out := make([]elf.Section64, n)
	br := bytes.NewReader(buf)
	for i := 0; i < n; i++ {
		if err := binary.Read(br, binary.LittleEndian, &out[i]); err != nil {
			return nil, malformed("decode section header", err)
		}
	}
	return out, nil
}

// readSectionByIndex returns the raw bytes of section i.
func (rd *reader) readSectionByIndex(shdrs []elf.Section64, i int) ([]byte, error) {
	if i < 0 || i >= len(shdrs) {
		return nil, malformed("read section", fmt.Errorf("index %d out of range", i))
	}
	sh := shdrs[i]
	if sh.Type == uint32(elf.SHT_NOBITS) || sh.Size == 0 {
		return nil, nil
	}
	buf, err := rd.readAt(int64(sh.Off), int(sh.Size))
	if err != nil {
		return nil, malformed(fmt.Sprintf("read section %d", i), err)
	}
	return buf, nil
}

// readSectionHeaderStrtab returns the bytes of the section-header string
// table identified by the header's Shstrndx.
func (rd *reader) readSectionHeaderStrtab(hdr *elf.Header64, shdrs []elf.Section64) ([]byte, error) {
	return rd.readSectionByIndex(shdrs, int(hdr.Shstrndx))
}

// symName reads a NUL-terminated name out of strtab at the given offset.
func symName(strtab []byte, nameoff uint32) (string, error) {
	if int(nameoff) >= len(strtab) {
		return "", malformed("string table lookup", fmt.Errorf("offset %d out of range", nameoff))
	}
	end := bytes.IndexByte(strtab[nameoff:], 0)
	if end < 0 {
		return "", malformed("string table lookup", fmt.Errorf("unterminated string at %d", nameoff))
	}
	return string(strtab[nameoff : int(nameoff)+end]), nil
}

// sectionName resolves the name of section i via the section-header
// string table.
func sectionName(strtab []byte, shdrs []elf.Section64, i int) (string, error) {
	return symName(strtab, shdrs[i].Name)
}

// readSectionByName scans the section table in order and returns the
// bytes of the first section whose name equals n. found is false (with
// a nil error) when no section has that name; callers rely on that
// distinction to treat "maps" absence as empty and "license" absence
// as fatal.
func (rd *reader) readSectionByName(hdr *elf.Header64, shdrs []elf.Section64, strtab []byte, n string) (data []byte, found bool, err error) {
	for i := range shdrs {
		name, err := sectionName(strtab, shdrs, i)
		if err != nil {
			return nil, false, err
		}
		if name == n {
			data, err := rd.readSectionByIndex(shdrs, i)
			if err != nil {
				return nil, false, err
			}
			return data, true, nil
		}
	}
	return nil, false, nil
}

// readSymtab returns every entry of the first SHT_SYMTAB section. When
// sort is true the result is ordered ascending by Value; the sorted
// view is used to associate sections with their defining symbols, the
// unsorted (file order) view is used for relocation's index lookups.
func (rd *reader) readSymtab(shdrs []elf.Section64, sortByValue bool) ([]elf.Sym64, error) {
	for i, sh := range shdrs {
		if elf.SectionType(sh.Type) != elf.SHT_SYMTAB {
			continue
		}
		buf, err := rd.readSectionByIndex(shdrs, i)
		if err != nil {
			return nil, err
		}
		entsize := binary.Size(elf.Sym64{})
		if len(buf)%entsize != 0 {
			return nil, malformed("decode symtab", fmt.Errorf("size %d not a multiple of %d", len(buf), entsize))
		}
		n := len(buf) / entsize
		syms := make([]elf.Sym64, n)
		br := bytes.NewReader(buf)
		for j := 0; j < n; j++ {
			if err := binary.Read(br, binary.LittleEndian, &syms[j]); err != nil {
				return nil, malformed("decode symtab entry", err)
			}
		}
		if sortByValue {
			sorted := make([]elf.Sym64, n)
			copy(sorted, syms)
			sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Value < sorted[b].Value })
			return sorted, nil
		}
		return syms, nil
	}
	return nil, malformed("decode symtab", fmt.Errorf("no SHT_SYMTAB section present"))
}
