package bpfloader

import (
	"testing"

	"github.com/go-quicktest/qt"
)

type fixedFuseTypeProvider struct {
	t  ProgramType
	ok bool
}

func (f fixedFuseTypeProvider) FuseProgramType() (ProgramType, bool) { return f.t, f.ok }

func TestClassifyStaticPrefixes(t *testing.T) {
	c := newClassifier(fixedFuseTypeProvider{ok: false})

	cases := []struct {
		name string
		want ProgramType
	}{
		{"kprobe/do_sys_open", ProgramTypeKprobe},
		{"kretprobe/do_sys_open", ProgramTypeKprobe},
		{"uprobe/foo", ProgramTypeKprobe},
		{"uretprobe/foo", ProgramTypeKprobe},
		{"tracepoint/sched/sched_switch", ProgramTypeTracepoint},
		{"skfilter/0/foo", ProgramTypeSocketFilter},
		{"perf_event/foo", ProgramTypePerfEvent},
	}
	for _, c2 := range cases {
		got, _, ok := c.classify(c2.name)
		qt.Assert(t, qt.IsTrue(ok))
		qt.Assert(t, qt.Equals(got, c2.want))
	}
}

func TestClassifyUnknownPrefixIgnored(t *testing.T) {
	c := newClassifier(fixedFuseTypeProvider{ok: false})
	_, _, ok := c.classify("maps")
	qt.Assert(t, qt.IsFalse(ok))
	_, _, ok = c.classify("license")
	qt.Assert(t, qt.IsFalse(ok))
}

func TestClassifyFuseResolved(t *testing.T) {
	c := newClassifier(fixedFuseTypeProvider{t: ProgramTypeSocketFilter, ok: true})
	got, _, ok := c.classify("fuse/main")
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(got, ProgramTypeSocketFilter))
	qt.Assert(t, qt.Equals(c.fuseDynamicType(), ProgramTypeSocketFilter))
}

func TestClassifyFuseUnresolved(t *testing.T) {
	c := newClassifier(fixedFuseTypeProvider{ok: false})
	_, _, ok := c.classify("fuse/main")
	qt.Assert(t, qt.IsFalse(ok))
	qt.Assert(t, qt.Equals(c.fuseDynamicType(), ProgramTypeUnspec))
}

func TestVirtualFileFuseTypeProviderMissingFile(t *testing.T) {
	p := &virtualFileFuseTypeProvider{path: "/nonexistent/bpf_prog_type_fuse"}
	_, ok := p.FuseProgramType()
	qt.Assert(t, qt.IsFalse(ok))
}
