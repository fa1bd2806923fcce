// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator emulates the ROM bootloader of an STC microcontroller
// behind a transport.Port, for tests and for demo runs without hardware.
package simulator

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Thermoquad/stcprog/pkg/stcisp"
	"github.com/Thermoquad/stcprog/pkg/transport"
)

// FlashSize is the size of the emulated code flash
const FlashSize = 0x10000

// Fault counters reported by Faults
type Faults struct {
	// WrongBaud counts host writes ignored because the rates disagreed
	WrongBaud int
	// BadReload counts baud switch commands with a reload matching no standard rate
	BadReload int
	// Sequence counts write commands with a bad opcode or address
	Sequence int
	// Unknown counts frames with an unknown opcode
	Unknown int
	// Dropped counts command responses swallowed by WithDropResponses
	Dropped int
	// Corrupted counts command responses damaged by WithCorruptChecksums
	Corrupted int
}

// Chip is an emulated bootloader. It implements transport.Port: the host
// writes commands into it and reads the responses back.
type Chip struct {
	mu sync.Mutex

	model    stcisp.Model
	protocol *stcisp.Protocol
	fields   stcisp.DetectFields

	// port side
	path     string
	open     bool
	hostMode transport.Mode
	lines    map[transport.Line]bool
	rx       []byte

	// chip side
	baud      int
	detected  bool
	detectGap int
	decoder   *stcisp.Decoder
	flash     [FlashSize]byte
	erased    bool
	nextAddr  int
	started   bool
	written   int
	reloads   []uint16
	resets    int
	refuse    bool
	drop      int
	corrupt   int
	faults    Faults
	commands  []byte
	maxRead   int
}

// New creates a chip emulating the given catalog model
func New(model stcisp.Model, opts ...Option) (*Chip, error) {
	p, _ := stcisp.LookupProtocol(model.Protocol)
	c := &Chip{
		model:    model,
		protocol: p,
		fields: stcisp.DetectFields{
			Code:     model.Magic,
			Address:  0x00,
			Firmware: 0x73,
			Stepping: 'U',
			Minor:    0x0A,
			Fosc:     24000000,
		},
		lines:   make(map[transport.Line]bool),
		baud:    stcisp.MinBaud,
		decoder: stcisp.NewDecoder(stcisp.HostToChip),
	}
	for i := range c.flash {
		c.flash[i] = 0xFF
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewByCode creates a chip for a model code from the compiled-in catalog
func NewByCode(code uint16, opts ...Option) (*Chip, error) {
	m, ok := stcisp.LookupModel(code)
	if !ok {
		return nil, fmt.Errorf("simulator: unknown model code 0x%04X", code)
	}
	return New(*m, opts...)
}

// Open opens the port side of the chip. The bootloader window starts here.
func (c *Chip) Open(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return fmt.Errorf("%w: %s", transport.ErrAlreadyOpen, c.path)
	}
	c.open = true
	c.path = path
	c.hostMode = transport.Mode{Baud: 9600, DataBits: 8, StopBits: 1, Parity: transport.ParityNone}
	return nil
}

func (c *Chip) Configure(baud, dataBits, stopBits int, parity transport.Parity) error {
	mode := transport.Mode{Baud: baud, DataBits: dataBits, StopBits: stopBits, Parity: parity}
	if err := mode.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrNotOpen
	}
	c.hostMode = mode
	return nil
}

func (c *Chip) SetBaud(baud int) error {
	c.mu.Lock()
	mode := c.hostMode
	c.mu.Unlock()
	return c.Configure(baud, mode.DataBits, mode.StopBits, mode.Parity)
}

func (c *Chip) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, transport.ErrNotOpen
	}
	limit := len(p)
	if c.maxRead > 0 && c.maxRead < limit {
		limit = c.maxRead
	}
	n := copy(p[:limit], c.rx)
	c.rx = c.rx[n:]
	return n, nil
}

func (c *Chip) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, transport.ErrNotOpen
	}
	if !c.linkMatches() {
		c.faults.WrongBaud++
		return len(p), nil
	}
	for _, b := range p {
		c.receive(b)
	}
	return len(p), nil
}

// SetControlLine records the line level. Releasing DTR after asserting it
// resets the chip into its bootloader.
func (c *Chip) SetControlLine(line transport.Line, level bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrNotOpen
	}
	prev := c.lines[line]
	c.lines[line] = level
	if line == transport.LineDTR && prev && !level {
		c.reset()
	}
	return nil
}

func (c *Chip) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rx = nil
	return nil
}

func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// Reset power cycles the chip back into its bootloader window
func (c *Chip) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Chip) reset() {
	c.resets++
	c.baud = stcisp.MinBaud
	c.detected = false
	c.started = false
	c.nextAddr = 0
	c.decoder.Reset()
}

// linkMatches reports whether host and chip agree on the line settings
func (c *Chip) linkMatches() bool {
	if c.hostMode.Baud != c.baud {
		host, ok := c.reloadFor(c.hostMode.Baud)
		chip, _ := c.reloadFor(c.baud)
		if !ok || host != chip {
			return false
		}
	}
	return c.hostMode.Parity == transport.ParityEven && c.hostMode.DataBits == 8
}

func (c *Chip) receive(b byte) {
	if !c.detected {
		if b != stcisp.DetectByte || c.refuse {
			return
		}
		if c.detectGap > 0 {
			c.detectGap--
			return
		}
		c.detected = true
		c.send(stcisp.MustEncodeFrame(stcisp.ChipToHost, stcisp.BuildDetectResponse(c.fields, c.protocol)))
		return
	}

	frame, err := c.decoder.DecodeByte(b)
	if err != nil || frame == nil {
		return
	}
	c.handle(frame.Payload())
}

func (c *Chip) handle(payload []byte) {
	if len(payload) == 0 {
		c.faults.Unknown++
		return
	}
	op := payload[0]
	c.commands = append(c.commands, op)

	switch op {
	case stcisp.OpBaudSwitch:
		c.baudSwitch(payload)
	case stcisp.OpBaudCheck:
		c.reply([]byte{stcisp.StatusBaudCheck})
	case stcisp.OpEraseFlash:
		for i := range c.flash {
			c.flash[i] = 0xFF
		}
		c.erased = true
		c.reply([]byte{stcisp.StatusErase})
	case stcisp.OpWriteStart, stcisp.OpWriteContinue:
		c.writeChunk(op, payload)
	default:
		c.faults.Unknown++
	}
}

func (c *Chip) baudSwitch(payload []byte) {
	if c.protocol == nil || len(payload) < 5 {
		c.faults.BadReload++
		return
	}
	reload := binary.BigEndian.Uint16(payload[3:5])
	baud := c.baudFor(reload)
	if baud == 0 {
		c.faults.BadReload++
		return
	}
	c.reloads = append(c.reloads, reload)
	// The acknowledge still goes out at the old rate
	c.reply([]byte{stcisp.StatusBaudSwitch})
	c.baud = baud
}

// baudFor finds the lowest standard rate producing reload. Rates sharing a
// reload value are indistinguishable to the chip.
func (c *Chip) baudFor(reload uint16) int {
	for _, rate := range transport.StandardBaudRates {
		if rate < stcisp.MinBaud {
			continue
		}
		if want, ok := c.reloadFor(rate); ok && want == reload {
			return rate
		}
	}
	return 0
}

func (c *Chip) reloadFor(baud int) (uint16, bool) {
	var reload uint16
	var err error
	if c.protocol != nil && c.protocol.DualReload {
		reload, _, err = stcisp.ReloadSTC15(baud)
	} else {
		reload, err = stcisp.Reload(baud)
	}
	return reload, err == nil
}

func (c *Chip) writeChunk(op byte, payload []byte) {
	if len(payload) < 5 || payload[3] != stcisp.GuardHigh || payload[4] != stcisp.GuardLow {
		c.faults.Sequence++
		return
	}
	addr := int(binary.BigEndian.Uint16(payload[1:3]))
	data := payload[5:]

	switch {
	case op == stcisp.OpWriteStart && addr != 0:
		c.faults.Sequence++
		return
	case op == stcisp.OpWriteContinue && (!c.started || addr != c.nextAddr):
		c.faults.Sequence++
		return
	}

	copy(c.flash[addr:], data)
	c.started = true
	c.nextAddr = addr + len(data)
	c.written += len(data)
	c.reply([]byte{stcisp.StatusWrite, stcisp.StatusWriteAck})
}

// reply frames a command response towards the host, applying injected faults
func (c *Chip) reply(payload []byte) {
	if c.drop > 0 {
		c.drop--
		c.faults.Dropped++
		return
	}
	frame := stcisp.MustEncodeFrame(stcisp.ChipToHost, payload)
	if c.corrupt > 0 {
		c.corrupt--
		c.faults.Corrupted++
		frame[len(frame)-2] ^= 0xFF
	}
	c.send(frame)
}

// send queues raw bytes for the host. At a mismatched rate the host only
// sees garbage.
func (c *Chip) send(frame []byte) {
	if !c.linkMatches() {
		for i := range frame {
			frame[i] ^= 0xFF
		}
	}
	c.rx = append(c.rx, frame...)
}

// Model returns the emulated model
func (c *Chip) Model() stcisp.Model {
	return c.model
}

// Baud returns the chip side UART rate
func (c *Chip) Baud() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baud
}

// Flash returns a copy of the first n bytes of flash
func (c *Chip) Flash(n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > FlashSize {
		n = FlashSize
	}
	out := make([]byte, n)
	copy(out, c.flash[:n])
	return out
}

// Erased reports whether an erase command was received
func (c *Chip) Erased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.erased
}

// Written returns the number of bytes programmed
func (c *Chip) Written() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// Reloads returns every accepted baud switch reload value
func (c *Chip) Reloads() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint16(nil), c.reloads...)
}

// Commands returns the opcode of every decoded host frame
func (c *Chip) Commands() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.commands...)
}

// Resets returns how many times the chip was reset
func (c *Chip) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

// Faults returns the fault counters
func (c *Chip) Faults() Faults {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faults
}
