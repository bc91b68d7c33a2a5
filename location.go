package bpfloader

// unspecifiedAllowed is the sentinel allow-list entry that permits a
// section whose program type equals the runtime-discovered dynamic
// fuse/ type, mirroring BPF_PROG_TYPE_UNSPEC's special case for
// fuse/-prefixed sections in classify.go.
const unspecifiedAllowed = ProgramTypeUnspec

// Location names the pin prefix an EBO's maps and programs are pinned
// under, and restricts which program types may be loaded from it.
type Location struct {
	// Prefix is concatenated after the bpffs root to form pin paths,
	// e.g. "tethering/" yields "/sys/fs/bpf/tethering/map_...".
	Prefix string
	// Allowed lists the permitted program types. A nil slice permits
	// every type. An empty, non-nil slice permits none.
	Allowed []ProgramType
}

// isAllowed reports whether t may be loaded under loc, given the
// runtime fuse/ dynamic type fuseType (which may itself be
// ProgramTypeUnspec if it could not be resolved).
func (loc Location) isAllowed(t ProgramType, fuseType ProgramType) bool {
	if loc.Allowed == nil {
		return true
	}
	for _, a := range loc.Allowed {
		if a == unspecifiedAllowed {
			if t == fuseType {
				return true
			}
			continue
		}
		if a == t {
			return true
		}
	}
	return false
}
