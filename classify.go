package bpfloader

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// sectionTypeEntry is one row of the fixed prefix table. The table is
// scanned in declaration order; the first prefix match wins.
type sectionTypeEntry struct {
	prefix             string
	progType           ProgramType
	expectedAttachType AttachType
}

// sectionPrefixTable mirrors sectionNameTypes[] from the original
// loader. kprobe/ and uprobe/ variants collapse to the same
// ProgramTypeKprobe, matching the kernel's own treatment of k/uprobes
// as one program type attached differently.
var sectionPrefixTable = []sectionTypeEntry{
	{"kprobe/", ProgramTypeKprobe, AttachTypeUnspec},
	{"kretprobe/", ProgramTypeKprobe, AttachTypeUnspec},
	{"perf_event/", ProgramTypePerfEvent, AttachTypeUnspec},
	{"skfilter/", ProgramTypeSocketFilter, AttachTypeUnspec},
	{"tracepoint/", ProgramTypeTracepoint, AttachTypeUnspec},
	{"uprobe/", ProgramTypeKprobe, AttachTypeUnspec},
	{"uretprobe/", ProgramTypeKprobe, AttachTypeUnspec},
}

// fusePrefix is the one section prefix whose program type is resolved
// dynamically rather than from the static table.
const fusePrefix = "fuse/"

// FuseTypeProvider resolves the dynamic program type fuse/-prefixed
// sections should classify as. It is a pluggable seam so the
// virtual-file read at /sys/fs/fuse/bpf_prog_type_fuse can be swapped
// out in tests, or once fuse-bpf's type is upstreamed with a fixed
// value.
type FuseTypeProvider interface {
	// FuseProgramType returns the program type fuse/ sections should
	// use. It returns ProgramTypeUnspec, false when the type cannot be
	// determined (virtual file absent or unparseable).
	FuseProgramType() (ProgramType, bool)
}

// virtualFileFuseTypeProvider reads the dynamic fuse program type from
// the kernel's virtual file, a temporary mechanism noted upstream as
// awaiting a permanent BPF_PROG_TYPE_FUSE allocation.
type virtualFileFuseTypeProvider struct {
	path string
}

func newVirtualFileFuseTypeProvider() *virtualFileFuseTypeProvider {
	return &virtualFileFuseTypeProvider{path: "/sys/fs/fuse/bpf_prog_type_fuse"}
}

func (p *virtualFileFuseTypeProvider) FuseProgramType() (ProgramType, bool) {
	f, err := os.Open(p.path)
	if err != nil {
		return ProgramTypeUnspec, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64), 64)
	if !sc.Scan() {
		return ProgramTypeUnspec, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || n < 0 {
		return ProgramTypeUnspec, false
	}
	return ProgramType(n), true
}

// classifier maps a section name to its program type and expected
// attach type. It is pure except for the fuse/ virtual-file read.
type classifier struct {
	fuse FuseTypeProvider
}

func newClassifier(fuse FuseTypeProvider) *classifier {
	if fuse == nil {
		fuse = newVirtualFileFuseTypeProvider()
	}
	return &classifier{fuse: fuse}
}

// classify returns the program type and expected attach type for a
// section name. ok is false when the name matches no known prefix
// (static or fuse/), in which case the section is silently ignored by
// callers.
func (c *classifier) classify(name string) (progType ProgramType, attach AttachType, ok bool) {
	for _, e := range sectionPrefixTable {
		if strings.HasPrefix(name, e.prefix) {
			return e.progType, e.expectedAttachType, true
		}
	}
	if strings.HasPrefix(name, fusePrefix) {
		t, resolved := c.fuse.FuseProgramType()
		if !resolved {
			return ProgramTypeUnspec, AttachTypeUnspec, false
		}
		return t, AttachTypeUnspec, true
	}
	return ProgramTypeUnspec, AttachTypeUnspec, false
}

// fuseDynamicType is a convenience used by the allow-list check: it
// returns ProgramTypeUnspec when the fuse type itself cannot be
// resolved, which correctly makes the "unspecified" allow-list
// sentinel never match in that case.
func (c *classifier) fuseDynamicType() ProgramType {
	t, ok := c.fuse.FuseProgramType()
	if !ok {
		return ProgramTypeUnspec
	}
	return t
}
