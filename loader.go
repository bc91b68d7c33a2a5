// Package bpfloader implements the EBO loader pipeline: it parses a
// compiled extended in-kernel virtual machine object file (an ELF64
// relocatable containing BPF bytecode, map definitions, and metadata),
// classifies and loads its maps and programs into the running kernel,
// and pins each to a well-known path so other processes may reuse them.
//
// A loader run is one-shot and idempotent through pin-reuse only: there
// is no hot-reload, rollback, or live update. The raw BPF syscalls and
// kernel version discovery this package drives live in internal/kernel;
// attaching loaded programs to their hooks is the caller's job, not
// this package's.
package bpfloader

import (
	"debug/elf"
	"fmt"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/AtomXCLO/android-system-bpf/internal/kernel"
)

// bpfFSMagic is the magic number statfs(2) reports for the bpf
// filesystem; pins are refused outside it.
const bpfFSMagic = 0xcafe4a11

// Options configures a Load call beyond the EBO path and Location.
// The zero value uses the real kernel collaborators.
type Options struct {
	// Fuse resolves the dynamic program type for fuse/ sections. Nil
	// uses the real virtual-file provider.
	Fuse FuseTypeProvider
	// Log receives structured progress/diagnostic output. Nil installs
	// a standard logrus logger.
	Log logrus.FieldLogger
	// KernelVersion overrides runtime kernel version discovery. Zero
	// queries the real kernel.
	KernelVersion uint32
	// PageSize overrides the system page size used to clamp ring
	// buffer max_entries. Zero queries the real page size.
	PageSize uint32
}

// Load reads the EBO at eboPath and installs its maps and programs
// into the kernel, pinning each under loc.Prefix. It reports via
// *isCritical whether the EBO carries a "critical" section. Returns
// nil on success, a *LoadError otherwise.
//
// Every map and program descriptor opened along the way is closed
// before Load returns, whether it returns successfully or with an
// error: a map's descriptor stays open only as long as relocation and
// program loading might still need to reference it, and is released
// once loadPrograms has run (or failed to).
func Load(eboPath string, isCritical *bool, loc Location, opts Options) error {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	f, err := os.Open(eboPath)
	if err != nil {
		return newError(FilesystemOp, fmt.Sprintf("open %s", eboPath), err)
	}
	defer f.Close()

	kver := opts.KernelVersion
	if kver == 0 {
		kver, err = kernel.CurrentVersion()
		if err != nil {
			return invalid("determine kernel version", err)
		}
	}
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = uint32(os.Getpagesize())
	}

	rd := newReader(f)

	hdr, err := rd.readHeader()
	if err != nil {
		return err
	}
	shdrs, err := rd.readSectionTable(hdr)
	if err != nil {
		return err
	}
	strtab, err := rd.readSectionHeaderStrtab(hdr, shdrs)
	if err != nil {
		return err
	}

	license, found, err := rd.readSectionByName(hdr, shdrs, strtab, "license")
	if err != nil {
		return err
	}
	if !found {
		return malformed("license section", fmt.Errorf("EBO has no license section"))
	}
	licenseStr := cStringTrim(license)

	criticalData, found, err := rd.readSectionByName(hdr, shdrs, strtab, "critical")
	if err != nil {
		return err
	}
	*isCritical = found
	if found {
		log.WithField("tag", cStringTrim(criticalData)).Info("EBO marked critical")
	}

	objName := objNameFromPath(eboPath)

	sortedSyms, err := rd.readSymtab(shdrs, true)
	if err != nil {
		return err
	}
	unsortedSyms, err := rd.readSymtab(shdrs, false)
	if err != nil {
		return err
	}

	mapDefs, mapNames, err := readMapSection(rd, hdr, shdrs, strtab, sortedSyms)
	if err != nil {
		return err
	}

	progDefsData, found, err := rd.readSectionByName(hdr, shdrs, strtab, "progs")
	if err != nil {
		return err
	}
	var progDefs []ProgDefinition
	var progDefNames []string
	if found {
		progDefs, err = parseProgDefinitions(progDefsData)
		if err != nil {
			return err
		}
		progsIdx, err := findSectionIndexByName(strtab, shdrs, "progs")
		if err != nil {
			return err
		}
		progDefNames, err = symbolNamesForSection(sortedSyms, strtab, shdrs, progsIdx, -1)
		if err != nil {
			return err
		}
		if len(progDefNames) != len(progDefs) {
			return invalid("progs section", fmt.Errorf(
				"%d symbol names for %d program definitions", len(progDefNames), len(progDefs)))
		}
	}

	classify := newClassifier(opts.Fuse)

	records, err := collectCodeSections(rd, hdr, shdrs, strtab, sortedSyms, progDefs, progDefNames, classify, loc)
	if err != nil {
		return err
	}

	maps, err := buildMaps(mapDefs, mapNames, loc.Prefix, objName, kver, pageSize, log)
	if err != nil {
		closeMapRecords(maps, log)
		return err
	}

	if err := relocateMaps(records, maps, unsortedSyms, strtab, log); err != nil {
		closeMapRecords(maps, log)
		return err
	}

	// loadPrograms closes each program's own descriptor as it goes;
	// map descriptors are only released here, once no further
	// BPF_PROG_LOAD call can still need to resolve one.
	err = loadPrograms(records, licenseStr, loc.Prefix, objName, kver, log)
	closeCodeRecords(records, log)
	closeMapRecords(maps, log)
	return err
}

// readMapSection reads and decodes the optional "maps" section,
// returning its definitions alongside their symbolic names, index for
// index. Absence of the section is not an error: an EBO with no maps
// yields two empty slices.
func readMapSection(rd *reader, hdr *elf.Header64, shdrs []elf.Section64, strtab []byte, sortedSyms []elf.Sym64) ([]MapDefinition, []string, error) {
	data, found, err := rd.readSectionByName(hdr, shdrs, strtab, "maps")
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}

	defs, err := parseMapDefinitions(data)
	if err != nil {
		return nil, nil, err
	}

	idx, err := findSectionIndexByName(strtab, shdrs, "maps")
	if err != nil {
		return nil, nil, err
	}
	names, err := symbolNamesForSection(sortedSyms, strtab, shdrs, idx, -1)
	if err != nil {
		return nil, nil, err
	}

	return defs, names, nil
}

func cStringTrim(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// verifyBpfFS confirms a statfs filesystem type (of a pin path's
// containing directory) is bpffs, refusing to pin objects anywhere else.
func verifyBpfFS(statfsType int64) error {
	if statfsType != bpfFSMagic {
		return newError(FilesystemOp, "bpffs check", syscall.Errno(syscall.EINVAL))
	}
	return nil
}
