package bpfloader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/AtomXCLO/android-system-bpf/internal/kernel"
)

// invalidFD marks a map-record slot that was skipped by kernel-version
// gating, or whose descriptor has already been closed. It preserves
// index alignment for relocation without needing a real descriptor.
const invalidFD int32 = -1

// mapRecord is the internal record produced for one "maps" entry. Its
// fd stays open across relocation and program loading, since a loaded
// program's LD_IMM64 map reference must resolve against a live
// descriptor at BPF_PROG_LOAD time; closeFD releases it once the
// loader no longer needs it.
type mapRecord struct {
	def     MapDefinition
	name    string
	fd      int32
	reused  bool
	skipped bool
	pinPath string
}

// closeFD releases the map's descriptor, if still open, and marks the
// record closed. Safe to call more than once.
func (r *mapRecord) closeFD(log logrus.FieldLogger) {
	if r.fd < 0 {
		return
	}
	if err := kernel.Close(int(r.fd)); err != nil {
		log.WithError(err).WithField("map", r.name).Warn("failed to close map descriptor")
	}
	r.fd = invalidFD
}

// closeMapRecords releases every still-open map descriptor in records.
func closeMapRecords(records []*mapRecord, log logrus.FieldLogger) {
	for _, rec := range records {
		if rec != nil {
			rec.closeFD(log)
		}
	}
}

// effectiveAttrs is the derived (kver-adjusted) attribute set a map is
// actually created and matched with.
type effectiveAttrs struct {
	mapType    MapType
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	flags      uint32
}

func deriveEffectiveAttrs(d MapDefinition, kver uint32, pageSize uint32) effectiveAttrs {
	t := d.Type

	// Substitute hash for devmap_hash on kernels too old to support it.
	// The compiler guarantees any program that needs the newer
	// behaviour also requires the newer kernel, so this can't cause a
	// functional mismatch.
	const devMapHashMinKver = 4<<16 | 14<<8 // 4.14
	if t == MapTypeDevMapHash && kver < devMapHashMinKver {
		t = MapTypeHash
	}

	maxEntries := d.MaxEntries
	if t == MapTypeRingBuf && maxEntries < pageSize {
		maxEntries = pageSize
	}

	flags := d.MapFlags
	const readOnlyProg = uint32(1 << 7) // BPF_F_RDONLY_PROG
	if t == MapTypeDevMap || t == MapTypeDevMapHash {
		flags |= readOnlyProg
	}

	return effectiveAttrs{mapType: t, keySize: d.KeySize, valueSize: d.ValueSize, maxEntries: maxEntries, flags: flags}
}

// buildMaps builds one mapRecord per input definition, index-aligned
// with defs and names: for each, it gates by kernel version, derives
// effective attributes, reuses or creates the map, validates attribute
// agreement, and pins it.
//
// The returned slice is always safe to pass to closeMapRecords, even
// on error: every descriptor opened before the failing definition is
// still present and open, and the failing definition's own descriptor
// (if any) has already been closed.
func buildMaps(defs []MapDefinition, names []string, prefix, objName string, kver, pageSize uint32, log logrus.FieldLogger) ([]*mapRecord, error) {
	if len(names) != len(defs) {
		return nil, invalid("maps section", fmt.Errorf(
			"%d symbol names for %d map definitions", len(names), len(defs)))
	}

	records := make([]*mapRecord, len(defs))
	for i, d := range defs {
		rec := &mapRecord{def: d, name: names[i], fd: invalidFD}
		records[i] = rec

		if !d.applicable(kver) {
			rec.skipped = true
			log.WithFields(logrus.Fields{"map": names[i], "min_kver": d.MinKver, "max_kver": d.MaxKver}).
				Debug("map not applicable to running kernel, skipping")
			continue
		}

		attrs := deriveEffectiveAttrs(d, kver, pageSize)
		rec.pinPath = mapPinPath(prefix, objName, names[i], d.Shared)

		var fd int32
		if _, err := os.Stat(rec.pinPath); err == nil {
			got, err := kernel.GetPinned(rec.pinPath)
			if err != nil {
				return records, newError(FilesystemOp, fmt.Sprintf("retrieve pinned map %s", rec.pinPath), err)
			}
			fd = int32(got)
			rec.reused = true
		} else {
			created, err := kernel.CreateMap(kernel.MapCreateAttr{
				MapType:    uint32(attrs.mapType),
				KeySize:    attrs.keySize,
				ValueSize:  attrs.valueSize,
				MaxEntries: attrs.maxEntries,
				MapFlags:   attrs.flags,
			})
			if err != nil {
				return records, newError(KernelRefused, fmt.Sprintf("create map %s", names[i]), err)
			}
			fd = int32(created)
		}
		rec.fd = fd

		if err := checkMapAttributeAgreement(fd, names[i], attrs); err != nil {
			rec.closeFD(log)
			return records, err
		}

		if !rec.reused {
			if statfsType, err := kernel.StatfsType(filepath.Dir(rec.pinPath)); err != nil {
				rec.closeFD(log)
				return records, newError(FilesystemOp, fmt.Sprintf("statfs %s", rec.pinPath), err)
			} else if err := verifyBpfFS(statfsType); err != nil {
				rec.closeFD(log)
				return records, err
			}
			if err := kernel.Pin(int(fd), rec.pinPath); err != nil {
				rec.closeFD(log)
				return records, newError(FilesystemOp, fmt.Sprintf("pin map %s", rec.pinPath), err)
			}
			if err := kernel.Chmod(rec.pinPath, d.Mode); err != nil {
				rec.closeFD(log)
				return records, err
			}
			if err := kernel.Chown(rec.pinPath, d.UID, d.GID); err != nil {
				rec.closeFD(log)
				return records, err
			}
		}

		if info, err := kernel.MapInfoByFD(int(fd)); err != nil {
			log.WithError(err).WithField("map", names[i]).Warn("failed to fetch map id")
		} else {
			log.WithFields(logrus.Fields{"map": names[i], "id": info.ID, "reused": rec.reused}).Debug("map ready")
		}
	}

	return records, nil
}

// checkMapAttributeAgreement fetches the kernel-reported attributes
// and fails with NotUnique on any mismatch, whether the map was just
// created or was reused from a pin. Treat mismatch as a hostile
// precondition, not something to heal.
func checkMapAttributeAgreement(fd int32, name string, want effectiveAttrs) error {
	info, err := kernel.MapInfoByFD(int(fd))
	if err != nil {
		return newError(KernelRefused, fmt.Sprintf("introspect map %s", name), err)
	}

	if MapType(info.Type) != want.mapType ||
		info.KeySize != want.keySize ||
		info.ValueSize != want.valueSize ||
		info.MaxEntries != want.maxEntries ||
		info.MapFlags != want.flags {
		return newError(NotUnique, fmt.Sprintf(
			"map %s mismatch: desired type:%s key:%d value:%d entries:%d flags:%#x, found type:%s key:%d value:%d entries:%d flags:%#x",
			name, want.mapType, want.keySize, want.valueSize, want.maxEntries, want.flags,
			MapType(info.Type), info.KeySize, info.ValueSize, info.MaxEntries, info.MapFlags), nil)
	}
	return nil
}
