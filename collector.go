package bpfloader

import (
	"debug/elf"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/AtomXCLO/android-system-bpf/internal/kernel"
)

// codeSectionRecord is the record produced for one retained code
// section: its classification, its raw instruction and relocation
// bytes, and the program definition governing how it gets loaded.
type codeSectionRecord struct {
	progType           ProgramType
	expectedAttachType AttachType

	// originalName is the section name before slash-replacement; used
	// to locate the companion relocation section and the defining
	// symbol.
	originalName string
	// canonicalName has every '/' replaced with '_'; this is the name
	// the kernel program-load call and pin path use.
	canonicalName string

	instructions []byte
	relocations  []byte

	def    *ProgDefinition
	progFD int32 // assigned by loadPrograms; -1 until then, and again once closed
}

// closeFD releases the program's descriptor, if still open, and marks
// the record closed. Safe to call more than once.
func (r *codeSectionRecord) closeFD(log logrus.FieldLogger) {
	if r.progFD < 0 {
		return
	}
	if err := kernel.Close(int(r.progFD)); err != nil {
		log.WithError(err).WithField("section", r.originalName).Warn("failed to close program descriptor")
	}
	r.progFD = -1
}

// closeCodeRecords releases every still-open program descriptor in records.
func closeCodeRecords(records []*codeSectionRecord, log logrus.FieldLogger) {
	for _, rec := range records {
		if rec != nil {
			rec.closeFD(log)
		}
	}
}

// collectCodeSections scans every section, classifying each by name,
// enforcing the allow-list against its program type, and retaining a
// record for each with a nonempty instruction buffer, together with
// its defining function symbol's program definition and its companion
// relocation section if one exists.
func collectCodeSections(
	rd *reader,
	hdr *elf.Header64,
	shdrs []elf.Section64,
	strtab []byte,
	sortedSyms []elf.Sym64,
	progDefs []ProgDefinition,
	progDefNames []string,
	classify *classifier,
	loc Location,
) ([]*codeSectionRecord, error) {
	var out []*codeSectionRecord

	for i := range shdrs {
		name, err := sectionName(strtab, shdrs, i)
		if err != nil {
			return nil, err
		}

		progType, attach, ok := classify.classify(name)
		if !ok {
			continue
		}

		if !loc.isAllowed(progType, classify.fuseDynamicType()) {
			return nil, newError(PermissionDenied, fmt.Sprintf("section %q: program type %s", name, progType), nil)
		}

		data, err := rd.readSectionByIndex(shdrs, i)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		rec := &codeSectionRecord{
			progType:           progType,
			expectedAttachType: attach,
			originalName:       name,
			canonicalName:      canonicalSectionName(name),
			instructions:       data,
			progFD:             -1,
		}

		funcName, hasFunc := firstFunctionSymbolName(sortedSyms, strtab, i)
		if hasFunc {
			defName := funcName + "_def"
			for j, pdName := range progDefNames {
				if pdName == defName {
					d := progDefs[j]
					rec.def = &d
					break
				}
			}
		}

		// Companion relocation sections immediately follow the code
		// section they reference, named ".rel" + the code section's
		// name; this is fragile if section order ever changes, but
		// it's the convention these objects are compiled to.
		if i+1 < len(shdrs) {
			relName, err := sectionName(strtab, shdrs, i+1)
			if err != nil {
				return nil, err
			}
			if relName == ".rel"+name {
				relData, err := rd.readSectionByIndex(shdrs, i+1)
				if err != nil {
					return nil, err
				}
				rec.relocations = relData
			}
		}

		out = append(out, rec)
	}

	return out, nil
}

// firstFunctionSymbolName finds the first STT_FUNC symbol (in value
// order, since sortedSyms is sorted ascending by Value) whose defining
// section is sectionIdx.
func firstFunctionSymbolName(sortedSyms []elf.Sym64, strtab []byte, sectionIdx int) (string, bool) {
	for _, sym := range sortedSyms {
		if int(sym.Info&0xf) != int(elf.STT_FUNC) {
			continue
		}
		if int(sym.Shndx) != sectionIdx {
			continue
		}
		name, err := symName(strtab, sym.Name)
		if err != nil || name == "" {
			continue
		}
		return name, true
	}
	return "", false
}

// symbolNamesForSection returns the names of every symbol (optionally
// filtered by STT_* type, pass -1 to skip filtering) defined in the
// section at sectionIdx. Used to recover the "maps" section's symbolic
// names and the "progs" section's "<name>_def" names.
func symbolNamesForSection(sortedSyms []elf.Sym64, strtab []byte, shdrs []elf.Section64, sectionIdx int, symType int) ([]string, error) {
	var names []string
	for _, sym := range sortedSyms {
		if symType >= 0 && int(sym.Info&0xf) != symType {
			continue
		}
		if int(sym.Shndx) != sectionIdx {
			continue
		}
		name, err := symName(strtab, sym.Name)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// findSectionIndexByName returns the index of the first section named
// n, or -1 if none matches.
func findSectionIndexByName(strtab []byte, shdrs []elf.Section64, n string) (int, error) {
	for i := range shdrs {
		name, err := sectionName(strtab, shdrs, i)
		if err != nil {
			return -1, err
		}
		if name == n {
			return i, nil
		}
	}
	return -1, nil
}
