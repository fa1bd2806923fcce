// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stcisp

import (
	"fmt"
	"sort"
)

// ProtocolID identifies a wire protocol variant
type ProtocolID uint16

const (
	ProtocolUnsupported ProtocolID = 0x0000
	ProtocolSTC8GH      ProtocolID = 0x0001
	ProtocolSTC8AF      ProtocolID = 0x0002
	ProtocolSTC15B      ProtocolID = 0x0003
	ProtocolSTC15       ProtocolID = 0x0004
)

// String returns the variant name
func (id ProtocolID) String() string {
	switch id {
	case ProtocolSTC8GH:
		return "STC8GH"
	case ProtocolSTC8AF:
		return "STC8AF"
	case ProtocolSTC15B:
		return "STC15B"
	case ProtocolSTC15:
		return "STC15"
	case ProtocolUnsupported:
		return "UNSUPPORTED"
	default:
		return fmt.Sprintf("UNKNOWN_0x%04X", uint16(id))
	}
}

// Model describes one microcontroller part
type Model struct {
	Name       string
	Magic      uint16
	Protocol   ProtocolID
	TotalFlash uint32
	CodeSize   uint32
	EEPROMSize uint32
}

// Protocol describes one wire protocol variant. The command builders in
// commands.go use these fields to lay out each command.
type Protocol struct {
	Name string
	ID   ProtocolID

	// FoscOffset is the position of the 4-byte big-endian trimmed oscillator
	// frequency within the detect response.
	FoscOffset int

	// DualReload selects the STC15 baud switch layout carrying two reload
	// values instead of one.
	DualReload bool

	// SwitchMode is the byte following the echoed address in the baud switch.
	SwitchMode byte

	// SwitchTail holds the fixed bytes following the reload value(s).
	SwitchTail []byte
}

// String returns the protocol name
func (p *Protocol) String() string {
	return p.Name
}

var defaultProtocols = []Protocol{
	{Name: "stc8gh", ID: ProtocolSTC8GH, FoscOffset: 13, SwitchMode: 0x00, SwitchTail: []byte{0x00, 0x00, 0x97}},
	{Name: "stc8af", ID: ProtocolSTC8AF, FoscOffset: 13, SwitchMode: 0x00, SwitchTail: []byte{0x00, 0x00, 0x83}},
	{Name: "stc15b", ID: ProtocolSTC15B, FoscOffset: 7, DualReload: true, SwitchMode: 0x00, SwitchTail: []byte{0x83}},
	{Name: "stc15", ID: ProtocolSTC15, FoscOffset: 7, DualReload: true, SwitchMode: 0x40, SwitchTail: []byte{0x83}},
}

const kb = 1024

var defaultModels = []Model{
	// STC8G
	{"STC8G1K04", 0xF720, ProtocolSTC8GH, 12 * kb, 4 * kb, 8 * kb},
	{"STC8G1K08", 0xF721, ProtocolSTC8GH, 12 * kb, 8 * kb, 4 * kb},
	{"STC8G1K12", 0xF722, ProtocolSTC8GH, 12 * kb, 12 * kb, 0},
	{"STC8G1K17", 0xF723, ProtocolSTC8GH, 17 * kb, 17 * kb, 0},
	{"STC8G2K32S4", 0xF724, ProtocolSTC8GH, 64 * kb, 32 * kb, 32 * kb},
	{"STC8G2K64S4", 0xF725, ProtocolSTC8GH, 64 * kb, 64 * kb, 0},
	{"STC8G1K08A", 0xF794, ProtocolSTC8GH, 12 * kb, 8 * kb, 4 * kb},
	// STC8H
	{"STC8H1K08", 0xF730, ProtocolSTC8GH, 12 * kb, 8 * kb, 4 * kb},
	{"STC8H1K16", 0xF731, ProtocolSTC8GH, 20 * kb, 16 * kb, 4 * kb},
	{"STC8H1K24", 0xF732, ProtocolSTC8GH, 32 * kb, 24 * kb, 8 * kb},
	{"STC8H1K28", 0xF733, ProtocolSTC8GH, 32 * kb, 28 * kb, 4 * kb},
	{"STC8H1K33", 0xF734, ProtocolSTC8GH, 33 * kb, 33 * kb, 0},
	{"STC8H3K32S4", 0xF740, ProtocolSTC8GH, 64 * kb, 32 * kb, 32 * kb},
	{"STC8H3K48S4", 0xF741, ProtocolSTC8GH, 64 * kb, 48 * kb, 16 * kb},
	{"STC8H3K64S4", 0xF742, ProtocolSTC8GH, 64 * kb, 64 * kb, 0},
	{"STC8H8K64U", 0xF7A8, ProtocolSTC8GH, 64 * kb, 64 * kb, 0},
	{"STC8H4K64TL", 0xF7B4, ProtocolSTC8GH, 64 * kb, 64 * kb, 0},
	// STC8A / STC8F
	{"STC8A8K16S4A12", 0xF610, ProtocolSTC8AF, 64 * kb, 16 * kb, 48 * kb},
	{"STC8A8K32S4A12", 0xF611, ProtocolSTC8AF, 64 * kb, 32 * kb, 32 * kb},
	{"STC8A8K64S4A12", 0xF612, ProtocolSTC8AF, 64 * kb, 64 * kb, 0},
	{"STC8F2K16S2", 0xF650, ProtocolSTC8AF, 64 * kb, 16 * kb, 48 * kb},
	{"STC8F2K32S2", 0xF651, ProtocolSTC8AF, 64 * kb, 32 * kb, 32 * kb},
	{"STC8F2K64S2", 0xF652, ProtocolSTC8AF, 64 * kb, 64 * kb, 0},
	// STC15 with the older single-UART bootloader
	{"STC15F104W", 0xF294, ProtocolSTC15B, 5 * kb, 4 * kb, 1 * kb},
	{"STC15W104", 0xF514, ProtocolSTC15B, 5 * kb, 4 * kb, 1 * kb},
	{"STC15W204S", 0xF524, ProtocolSTC15B, 5 * kb, 4 * kb, 1 * kb},
	{"STC15W408AS", 0xF54C, ProtocolSTC15B, 13 * kb, 8 * kb, 5 * kb},
	// STC15
	{"STC15F2K60S2", 0xF449, ProtocolSTC15, 61 * kb, 60 * kb, 1 * kb},
	{"IAP15F2K61S2", 0xF44A, ProtocolSTC15, 61 * kb, 61 * kb, 0},
	{"STC15W4K32S4", 0xF5E2, ProtocolSTC15, 59 * kb, 32 * kb, 27 * kb},
	{"STC15W4K56S4", 0xF5E5, ProtocolSTC15, 59 * kb, 56 * kb, 3 * kb},
	{"IAP15W4K58S4", 0xF5E6, ProtocolSTC15, 58 * kb, 58 * kb, 0},
}

// DefaultModels returns a copy of the compiled-in model table
func DefaultModels() []Model {
	models := make([]Model, len(defaultModels))
	copy(models, defaultModels)
	return models
}

// DefaultProtocols returns a copy of the compiled-in protocol table
func DefaultProtocols() []Protocol {
	protocols := make([]Protocol, len(defaultProtocols))
	copy(protocols, defaultProtocols)
	return protocols
}

// Catalog maps identification codes to models and protocol ids to protocols
type Catalog struct {
	models    map[uint16]Model
	protocols map[ProtocolID]*Protocol
}

// NewCatalog builds a catalog. Identification codes must be unique and every
// model must reference a known protocol, except ProtocolUnsupported which marks
// parts that are recognized but cannot be programmed.
func NewCatalog(models []Model, protocols []Protocol) (*Catalog, error) {
	c := &Catalog{
		models:    make(map[uint16]Model, len(models)),
		protocols: make(map[ProtocolID]*Protocol, len(protocols)),
	}
	for i := range protocols {
		p := protocols[i]
		c.protocols[p.ID] = &p
	}
	for _, m := range models {
		if prev, ok := c.models[m.Magic]; ok {
			return nil, fmt.Errorf("%w: 0x%04X used by %s and %s", ErrDuplicateModel, m.Magic, prev.Name, m.Name)
		}
		if _, ok := c.protocols[m.Protocol]; !ok && m.Protocol != ProtocolUnsupported {
			return nil, fmt.Errorf("%w: %s references %s", ErrUnknownRef, m.Name, m.Protocol)
		}
		c.models[m.Magic] = m
	}
	return c, nil
}

var defaultCatalog = mustCatalog(defaultModels, defaultProtocols)

func mustCatalog(models []Model, protocols []Protocol) *Catalog {
	c, err := NewCatalog(models, protocols)
	if err != nil {
		panic(fmt.Sprintf("stcisp: invalid built-in catalog: %v", err))
	}
	return c
}

// DefaultCatalog returns the compiled-in catalog
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// LookupModel finds the model with the given identification code
func (c *Catalog) LookupModel(code uint16) (*Model, bool) {
	m, ok := c.models[code]
	if !ok {
		return nil, false
	}
	return &m, true
}

// LookupProtocol finds the protocol with the given id
func (c *Catalog) LookupProtocol(id ProtocolID) (*Protocol, bool) {
	p, ok := c.protocols[id]
	return p, ok
}

// Models returns all models ordered by name
func (c *Catalog) Models() []Model {
	models := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool {
		return models[i].Name < models[j].Name
	})
	return models
}

// Protocols returns all protocols ordered by id
func (c *Catalog) Protocols() []*Protocol {
	protocols := make([]*Protocol, 0, len(c.protocols))
	for _, p := range c.protocols {
		protocols = append(protocols, p)
	}
	sort.Slice(protocols, func(i, j int) bool {
		return protocols[i].ID < protocols[j].ID
	})
	return protocols
}

// LookupModel finds a model in the default catalog
func LookupModel(code uint16) (*Model, bool) {
	return defaultCatalog.LookupModel(code)
}

// LookupProtocol finds a protocol in the default catalog
func LookupProtocol(id ProtocolID) (*Protocol, bool) {
	return defaultCatalog.LookupProtocol(id)
}
