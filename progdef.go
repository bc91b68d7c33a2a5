package bpfloader

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// rawProgDefinition is the wire layout of one entry in an EBO's
// "progs" section.
type rawProgDefinition struct {
	UID      uint32
	GID      uint32
	MinKver  uint32
	MaxKver  uint32
	Optional uint32
}

var progDefinitionSize = binary.Size(rawProgDefinition{})

// ProgDefinition is the decoded, internal form of one "progs" section
// entry.
type ProgDefinition struct {
	UID      uint32
	GID      uint32
	MinKver  uint32
	MaxKver  uint32
	Optional bool
}

// applicable reports whether the program is applicable to kernel
// version kver.
func (d ProgDefinition) applicable(kver uint32) bool {
	return kver >= d.MinKver && kver < d.MaxKver
}

// parseProgDefinitions decodes the packed "progs" section. Its byte
// length must be a whole multiple of the record size; violation is a
// fatal Malformed error.
func parseProgDefinitions(data []byte) ([]ProgDefinition, error) {
	if len(data)%progDefinitionSize != 0 {
		return nil, malformed("parse progs section", fmt.Errorf(
			"size %d is not a multiple of the program definition size %d", len(data), progDefinitionSize))
	}
	n := len(data) / progDefinitionSize
	defs := make([]ProgDefinition, n)
	br := bytes.NewReader(data)
	for i := 0; i < n; i++ {
		var raw rawProgDefinition
		if err := binary.Read(br, binary.LittleEndian, &raw); err != nil {
			return nil, malformed("decode program definition", err)
		}
		defs[i] = ProgDefinition{
			UID:      raw.UID,
			GID:      raw.GID,
			MinKver:  raw.MinKver,
			MaxKver:  raw.MaxKver,
			Optional: raw.Optional != 0,
		}
	}
	return defs, nil
}
