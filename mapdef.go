package bpfloader

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// rawMapDefinition is the wire layout of one entry in an EBO's "maps"
// section. Field order and width are fixed by the compile-time macros
// that generate EBOs; PinSubdir and SELinuxContext are present on the
// wire but unused by this loader.
type rawMapDefinition struct {
	Type           uint32
	KeySize        uint32
	ValueSize      uint32
	MaxEntries     uint32
	MapFlags       uint32
	PinSubdir      [32]byte
	SELinuxContext [32]byte
	UID            uint32
	GID            uint32
	Mode           uint32
	MinKver        uint32
	MaxKver        uint32
	Shared         uint32
	Zero           uint32
}

var mapDefinitionSize = binary.Size(rawMapDefinition{})

// MapDefinition is the decoded, internal form of one "maps" section
// entry.
type MapDefinition struct {
	Type       MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	MapFlags   uint32
	UID        uint32
	GID        uint32
	Mode       uint32
	MinKver    uint32
	MaxKver    uint32
	Shared     bool
}

// applicable reports whether the map is applicable to kernel version
// kver: min_kver <= kver < max_kver.
func (d MapDefinition) applicable(kver uint32) bool {
	return kver >= d.MinKver && kver < d.MaxKver
}

// parseMapDefinitions decodes the packed "maps" section. Its byte
// length must be a whole multiple of the record size; any violation,
// or a nonzero sentinel Zero field on any record, is a fatal
// Malformed/Invalid error.
func parseMapDefinitions(data []byte) ([]MapDefinition, error) {
	if len(data)%mapDefinitionSize != 0 {
		return nil, malformed("parse maps section", fmt.Errorf(
			"size %d is not a multiple of the map definition size %d", len(data), mapDefinitionSize))
	}
	n := len(data) / mapDefinitionSize
	defs := make([]MapDefinition, n)
	br := bytes.NewReader(data)
	for i := 0; i < n; i++ {
		var raw rawMapDefinition
		if err := binary.Read(br, binary.LittleEndian, &raw); err != nil {
			return nil, malformed("decode map definition", err)
		}
		if raw.Zero != 0 {
			return nil, invalid("map definition sentinel", fmt.Errorf(
				"record %d has nonzero zero field %#x: compiler/loader struct layout skew", i, raw.Zero))
		}
		defs[i] = MapDefinition{
			Type:       MapType(raw.Type),
			KeySize:    raw.KeySize,
			ValueSize:  raw.ValueSize,
			MaxEntries: raw.MaxEntries,
			MapFlags:   raw.MapFlags,
			UID:        raw.UID,
			GID:        raw.GID,
			Mode:       raw.Mode,
			MinKver:    raw.MinKver,
			MaxKver:    raw.MaxKver,
			Shared:     raw.Shared != 0,
		}
	}
	return defs, nil
}
