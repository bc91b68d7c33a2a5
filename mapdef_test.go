package bpfloader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-quicktest/qt"
)

func rawMapDefBytes(t *testing.T, raw rawMapDefinition) []byte {
	t.Helper()
	var buf bytes.Buffer
	qt.Assert(t, qt.IsNil(binary.Write(&buf, binary.LittleEndian, &raw)))
	return buf.Bytes()
}

func TestParseMapDefinitionsOK(t *testing.T) {
	raw := rawMapDefinition{
		Type: uint32(MapTypeHash), KeySize: 4, ValueSize: 8, MaxEntries: 1024,
		UID: 0, GID: 0, Mode: 0600, MaxKver: 0xffffffff, Shared: 1,
	}
	data := rawMapDefBytes(t, raw)

	defs, err := parseMapDefinitions(data)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(defs, 1))
	qt.Assert(t, qt.Equals(defs[0].Type, MapTypeHash))
	qt.Assert(t, qt.Equals(defs[0].KeySize, uint32(4)))
	qt.Assert(t, qt.Equals(defs[0].ValueSize, uint32(8)))
	qt.Assert(t, qt.IsTrue(defs[0].Shared))
}

func TestParseMapDefinitionsBadLength(t *testing.T) {
	_, err := parseMapDefinitions(make([]byte, mapDefinitionSize-1))
	var le *LoadError
	qt.Assert(t, qt.ErrorAs(err, &le))
	qt.Assert(t, qt.Equals(le.Kind, Malformed))
}

func TestParseMapDefinitionsNonzeroSentinel(t *testing.T) {
	raw := rawMapDefinition{Type: uint32(MapTypeHash), Zero: 7}
	data := rawMapDefBytes(t, raw)

	_, err := parseMapDefinitions(data)
	var le *LoadError
	qt.Assert(t, qt.ErrorAs(err, &le))
	qt.Assert(t, qt.Equals(le.Kind, Invalid))
}

func TestMapDefinitionApplicable(t *testing.T) {
	d := MapDefinition{MinKver: 4<<16 | 9<<8, MaxKver: 5<<16 | 0<<8}
	qt.Assert(t, qt.IsFalse(d.applicable(4<<16 | 4<<8)))
	qt.Assert(t, qt.IsTrue(d.applicable(4<<16 | 9<<8)))
	qt.Assert(t, qt.IsTrue(d.applicable(4<<16 | 19<<8)))
	qt.Assert(t, qt.IsFalse(d.applicable(5<<16 | 0<<8)))
}
