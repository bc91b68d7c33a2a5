package bpfloader

import (
	"path/filepath"
	"strings"
)

// bpfFSRoot is the well-known bpffs mount point every pin path is
// rooted under.
const bpfFSRoot = "/sys/fs/bpf/"

// objNameFromPath derives the EBO's canonical object name from its
// on-disk path: take the basename, drop the final extension, then drop
// any trailing "@tag" used to let one source file provide several
// kernel-version-gated variants. "/a/b/foo@1.o" -> "foo".
func objNameFromPath(path string) string {
	name := filepath.Base(path)
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		name = name[:dot]
	}
	if at := strings.LastIndex(name, "@"); at >= 0 {
		name = name[:at]
	}
	return name
}

// mapPinPath computes where a map definition's fd should be pinned.
// Shared maps omit the object-name segment so that multiple EBOs can
// agree on, and reuse, the same pin.
func mapPinPath(prefix, objName, mapName string, shared bool) string {
	if shared {
		return bpfFSRoot + prefix + "map__" + mapName
	}
	return bpfFSRoot + prefix + "map_" + objName + "_" + mapName
}

// progPinPath computes where a program's fd should be pinned. name is
// the already-canonicalized (slashes replaced, "$variant" suffix
// stripped) program name.
func progPinPath(prefix, objName, name string) string {
	return bpfFSRoot + prefix + "prog_" + objName + "_" + name
}

// canonicalSectionName replaces every '/' in an EBO section name with
// '_', which is both what the kernel program-load call expects as a
// name and what pin paths are built from.
func canonicalSectionName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

// stripVariantSuffix removes a trailing "$..." kernel-version-variant
// marker from a canonicalized program name, e.g. "kprobe_x$v5_10" ->
// "kprobe_x".
func stripVariantSuffix(name string) string {
	if i := strings.IndexByte(name, '$'); i >= 0 {
		return name[:i]
	}
	return name
}
