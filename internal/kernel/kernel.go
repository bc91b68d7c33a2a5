// Package kernel is the loader's one boundary onto the privileged
// kernel interfaces: map and program creation, pinning, and fd
// introspection. Nothing in this package decides what to load or why;
// it only executes BPF syscalls and translates their errno results.
package kernel

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// bpf(2) commands, matching enum bpf_cmd. Named privately since
// golang.org/x/sys/unix does not export every one of these on every
// platform this loader might be vendored onto.
const (
	cmdMapCreate = iota
	cmdMapLookupElem
	cmdMapUpdateElem
	cmdMapDeleteElem
	cmdMapGetNextKey
	cmdProgLoad
	cmdObjPin
	cmdObjGet
	_
	_
	_
	_
	_
	cmdProgGetFDByID
	cmdMapGetFDByID
	cmdObjGetInfoByFD
)

const bpfObjNameLen = 16

// MapCreateAttr is the subset of union bpf_attr needed for
// BPF_MAP_CREATE.
type MapCreateAttr struct {
	MapType    uint32
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	MapFlags   uint32
}

type mapCreateAttrWire struct {
	mapType    uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	mapFlags   uint32
}

// ProgLoadAttr is the subset of union bpf_attr needed for
// BPF_PROG_LOAD.
type ProgLoadAttr struct {
	ProgType           uint32
	ExpectedAttachType uint32
	KernelVersion      uint32
	License            string
	Instructions       []byte
	Name               string
	LogSize            uint32
}

type progLoadAttrWire struct {
	progType           uint32
	insnCnt            uint32
	insns              uint64
	license            uint64
	logLevel           uint32
	logSize            uint32
	logBuf             uint64
	kernelVersion      uint32
	progFlags          uint32
	progName           [bpfObjNameLen]byte
	progIfIndex        uint32
	expectedAttachType uint32
}

type pinObjAttr struct {
	fileName uint64
	fd       uint32
	padding  uint32
}

type objGetInfoByFDAttr struct {
	fd      uint32
	infoLen uint32
	info    uint64
}

// MapInfo is the subset of struct bpf_map_info the loader's attribute
// agreement check needs.
type MapInfo struct {
	Type       uint32
	ID         uint32
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	MapFlags   uint32
}

type mapInfoWire struct {
	mapType    uint32
	id         uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	mapFlags   uint32
}

// ProgInfo is the subset of struct bpf_prog_info needed for
// observability.
type ProgInfo struct {
	ID uint32
}

type progInfoWire struct {
	progType uint32
	id       uint32
}

func bpfCall(cmd int, attr unsafe.Pointer, size uintptr) (uintptr, error) {
	r1, _, errno := unix.Syscall(unix.SYS_BPF, uintptr(cmd), uintptr(attr), size)
	runtime.KeepAlive(attr)
	if errno != 0 {
		return r1, errno
	}
	return r1, nil
}

// CreateMap issues BPF_MAP_CREATE and returns the new map's fd.
func CreateMap(attr MapCreateAttr) (int, error) {
	wire := mapCreateAttrWire{attr.MapType, attr.KeySize, attr.ValueSize, attr.MaxEntries, attr.MapFlags}
	fd, err := bpfCall(cmdMapCreate, unsafe.Pointer(&wire), unsafe.Sizeof(wire))
	if err != nil {
		return -1, errors.Wrap(err, "map create")
	}
	return int(fd), nil
}

// LoadProgram issues BPF_PROG_LOAD. On verifier rejection it returns
// the accumulated verifier log text alongside the error so the caller
// can split and log it per line.
func LoadProgram(attr ProgLoadAttr) (fd int, verifierLog string, err error) {
	if len(attr.Instructions) == 0 {
		return -1, "", fmt.Errorf("program load: empty instruction buffer")
	}
	logSize := attr.LogSize
	if logSize == 0 {
		logSize = 0xfffff
	}
	logBuf := make([]byte, logSize)
	license := append([]byte(attr.License), 0)

	var name [bpfObjNameLen]byte
	copy(name[:], attr.Name)

	wire := progLoadAttrWire{
		progType:           attr.ProgType,
		insnCnt:            uint32(len(attr.Instructions) / 8),
		insns:              uint64(uintptr(unsafe.Pointer(&attr.Instructions[0]))),
		license:            uint64(uintptr(unsafe.Pointer(&license[0]))),
		logLevel:           1,
		logSize:            logSize,
		logBuf:             uint64(uintptr(unsafe.Pointer(&logBuf[0]))),
		kernelVersion:      attr.KernelVersion,
		progName:           name,
		expectedAttachType: attr.ExpectedAttachType,
	}

	r, callErr := bpfCall(cmdProgLoad, unsafe.Pointer(&wire), unsafe.Sizeof(wire))
	runtime.KeepAlive(attr.Instructions)
	runtime.KeepAlive(license)
	runtime.KeepAlive(logBuf)

	log := cString(logBuf)
	if callErr != nil {
		return -1, log, errors.Wrap(callErr, "program load")
	}
	return int(r), log, nil
}

// Pin issues BPF_OBJ_PIN for fd at path.
func Pin(fd int, path string) error {
	name := append([]byte(path), 0)
	attr := pinObjAttr{
		fileName: uint64(uintptr(unsafe.Pointer(&name[0]))),
		fd:       uint32(fd),
	}
	_, err := bpfCall(cmdObjPin, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(name)
	if err != nil {
		return errors.Wrapf(err, "pin %s", path)
	}
	return nil
}

// GetPinned issues BPF_OBJ_GET and returns the fd pinned at path.
func GetPinned(path string) (int, error) {
	name := append([]byte(path), 0)
	attr := pinObjAttr{
		fileName: uint64(uintptr(unsafe.Pointer(&name[0]))),
	}
	fd, err := bpfCall(cmdObjGet, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(name)
	if err != nil {
		return -1, errors.Wrapf(err, "get pinned object %s", path)
	}
	return int(fd), nil
}

// MapInfoByFD fetches a map's kernel-reported attributes for the
// attribute agreement check.
func MapInfoByFD(fd int) (MapInfo, error) {
	var wire mapInfoWire
	attr := objGetInfoByFDAttr{
		fd:      uint32(fd),
		infoLen: uint32(unsafe.Sizeof(wire)),
		info:    uint64(uintptr(unsafe.Pointer(&wire))),
	}
	_, err := bpfCall(cmdObjGetInfoByFD, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	if err != nil {
		return MapInfo{}, errors.Wrapf(err, "map info for fd %d", fd)
	}
	return MapInfo{wire.mapType, wire.id, wire.keySize, wire.valueSize, wire.maxEntries, wire.mapFlags}, nil
}

// ProgInfoByFD fetches a program's kernel-reported id for observability.
func ProgInfoByFD(fd int) (ProgInfo, error) {
	var wire progInfoWire
	attr := objGetInfoByFDAttr{
		fd:      uint32(fd),
		infoLen: uint32(unsafe.Sizeof(wire)),
		info:    uint64(uintptr(unsafe.Pointer(&wire))),
	}
	_, err := bpfCall(cmdObjGetInfoByFD, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	if err != nil {
		return ProgInfo{}, errors.Wrapf(err, "prog info for fd %d", fd)
	}
	return ProgInfo{ID: wire.id}, nil
}

// Close releases an owned fd.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

// Chmod and Chown apply pin ownership/mode after a successful pin.
func Chmod(path string, mode uint32) error {
	if err := unix.Chmod(path, mode); err != nil {
		return errors.Wrapf(err, "chmod %s", path)
	}
	return nil
}

func Chown(path string, uid, gid uint32) error {
	if err := unix.Chown(path, int(uid), int(gid)); err != nil {
		return errors.Wrapf(err, "chown %s", path)
	}
	return nil
}

// StatfsType returns the filesystem magic number the path's containing
// directory is mounted with, used to refuse pinning outside bpffs.
func StatfsType(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, errors.Wrapf(err, "statfs %s", dir)
	}
	return int64(st.Type), nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
