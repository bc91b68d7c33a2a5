package kernel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CurrentVersion returns the running kernel's version encoded as a
// single uint32 (major<<16 | minor<<8 | patch), used to gate maps and
// programs by [min_kver, max_kver). This mirrors cilium/ebpf's
// internal.Version parsing of uname(2)'s release string.
func CurrentVersion() (uint32, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return 0, fmt.Errorf("uname: %w", err)
	}
	release := releaseString(uts.Release)

	var major, minor, patch uint32
	n, err := fmt.Sscanf(release, "%d.%d.%d", &major, &minor, &patch)
	if n < 2 || err != nil {
		return 0, fmt.Errorf("parse kernel release %q: %w", release, err)
	}
	return major<<16 | minor<<8 | patch, nil
}

// releaseString converts uname's fixed-size release buffer, whose
// element type varies between int8 and uint8 across architectures, to
// a Go string truncated at the first NUL.
func releaseString[T byte | int8](release [65]T) string {
	buf := make([]byte, 0, len(release))
	for _, c := range release {
		if c == 0 {
			break
		}
		buf = append(buf, byte(c))
	}
	return string(buf)
}
