package bpfloader

import (
	"fmt"
)

// ErrorKind classifies why a load failed, mirroring the negative errno
// values the original Android bpfloader returned from its load() entry
// point.
type ErrorKind int

const (
	// Malformed means the ELF was short, misaligned, or missing a
	// required section.
	Malformed ErrorKind = iota
	// PermissionDenied means a section's program type is not present in
	// the Location's allow-list.
	PermissionDenied
	// NotUnique means a pinned map disagreed with the EBO's declared
	// attributes.
	NotUnique
	// Invalid means a program definition was missing, a per-record
	// sentinel was violated, or the kernel version could not be
	// determined.
	Invalid
	// KernelRefused means a map-create or program-load request was
	// rejected by the kernel.
	KernelRefused
	// FilesystemOp means a pin/chmod/chown syscall failed.
	FilesystemOp
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case PermissionDenied:
		return "permission denied"
	case NotUnique:
		return "not unique"
	case Invalid:
		return "invalid"
	case KernelRefused:
		return "kernel refused"
	case FilesystemOp:
		return "filesystem op"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// LoadError is returned by Load and by every component it drives. It
// carries the failing ErrorKind plus, where available, the underlying
// cause (a syscall errno, a short-read error, etc).
type LoadError struct {
	Kind    ErrorKind
	Context string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, context string, cause error) *LoadError {
	return &LoadError{Kind: kind, Context: context, Cause: cause}
}

func malformed(context string, cause error) error {
	return newError(Malformed, context, cause)
}

func invalid(context string, cause error) error {
	return newError(Invalid, context, cause)
}
