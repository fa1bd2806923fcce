// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package programmer drives an STC bootloader through a programming session:
// detect, identify, baud negotiation, erase and chunked flash write.
//
// A Session owns the port, the firmware image and the detect response for one
// chip. Each step is bounded by a RetryPolicy and returns a typed error when
// its budget runs out.
package programmer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/stcprog/pkg/stcisp"
	"github.com/Thermoquad/stcprog/pkg/transport"
)

// Session is one programming run against one chip
type Session struct {
	port     transport.Port
	image    Image
	catalog  *stcisp.Catalog
	clock    Clock
	log      zerolog.Logger
	policies Policies
	progress func(Progress)
	onState  func(State)
	stats    *stcisp.Statistics

	encoder *stcisp.Encoder
	decoder *stcisp.Decoder
	pending []byte
	readBuf []byte

	state    State
	info     *stcisp.DetectInfo
	model    *stcisp.Model
	protocol *stcisp.Protocol
	baud     int
	written  int
}

// New creates a session on an unopened port
func New(port transport.Port, opts ...Option) *Session {
	s := &Session{
		port:     port,
		catalog:  stcisp.DefaultCatalog(),
		clock:    SystemClock(),
		log:      zerolog.Nop(),
		policies: DefaultPolicies(),
		stats:    stcisp.NewStatistics(),
		encoder:  stcisp.NewEncoder(stcisp.HostToChip),
		decoder:  stcisp.NewDecoder(stcisp.ChipToHost),
		readBuf:  make([]byte, stcisp.MaxFrameSize),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current session state
func (s *Session) State() State { return s.state }

// Info returns the detect response, nil before detection
func (s *Session) Info() *stcisp.DetectInfo { return s.info }

// Model returns the identified model, nil before identification
func (s *Session) Model() *stcisp.Model { return s.model }

// Protocol returns the resolved protocol, nil before resolution
func (s *Session) Protocol() *stcisp.Protocol { return s.protocol }

// Baud returns the negotiated transfer rate, 0 before negotiation
func (s *Session) Baud() int { return s.baud }

// Written returns the number of image bytes acknowledged by the chip
func (s *Session) Written() int { return s.written }

// Statistics returns the link statistics of this session
func (s *Session) Statistics() *stcisp.Statistics { return s.stats }

// Policies returns the retry budgets in use
func (s *Session) Policies() Policies { return s.policies }

// Clock returns the session time source
func (s *Session) Clock() Clock { return s.clock }

func (s *Session) setState(state State) {
	s.state = state
	s.log.Debug().Str("state", state.String()).Msg("state")
	if s.onState != nil {
		s.onState(state)
	}
}

// Open opens the port and configures it for the bootloader's fixed
// detection rate, 8 data bits, even parity, 1 stop bit
func (s *Session) Open(path string) error {
	if err := s.port.Open(path); err != nil {
		return &TransportError{Op: "open", Err: err}
	}
	if err := s.port.Configure(stcisp.MinBaud, 8, 1, transport.ParityEven); err != nil {
		s.port.Close()
		return &TransportError{Op: "configure", Err: err}
	}
	if err := s.port.Flush(); err != nil {
		s.port.Close()
		return &TransportError{Op: "flush", Err: err}
	}
	s.log.Debug().Str("port", path).Int("baud", stcisp.MinBaud).Msg("port opened")
	s.setState(StatePortOpened)
	return nil
}

// Close releases the port
func (s *Session) Close() error {
	return s.port.Close()
}

// SetControlLine drives a modem control line, used by the DTR reset
func (s *Session) SetControlLine(line transport.Line, level bool) error {
	if err := s.port.SetControlLine(line, level); err != nil {
		return &TransportError{Op: "set " + line.String(), Err: err}
	}
	return nil
}

// Detect sends the detect byte until the bootloader answers with its
// detect response or the policy runs out
func (s *Session) Detect(ctx context.Context, policy RetryPolicy) error {
	if s.state < StatePortOpened {
		return fmt.Errorf("%w: detect before open", ErrOutOfOrder)
	}

	start := s.clock.Now()
	attempt := 0
	for ; attempt < policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if policy.expired(start, s.clock.Now()) {
			break
		}

		if _, err := s.port.Write([]byte{stcisp.DetectByte}); err != nil {
			return &TransportError{Op: "detect", Err: err}
		}

		frame, err := s.readFrame(ctx, policy.interval())
		if err != nil {
			return err
		}
		if frame == nil {
			s.stats.RecordRetry()
			continue
		}

		payload := frame.Payload()
		if len(payload) == 0 || payload[0] != stcisp.DetectAck {
			s.log.Debug().Hex("payload", payload).Msg("ignoring non-detect frame")
			continue
		}

		info, err := stcisp.ParseDetectResponse(payload)
		if err != nil {
			return &MismatchError{Op: "detect", Expected: []byte{stcisp.DetectAck}, Got: payload}
		}
		s.info = info
		s.resetInput()
		s.log.Debug().
			Int("attempt", attempt+1).
			Str("code", fmt.Sprintf("0x%04X", info.Code())).
			Str("firmware", info.FirmwareString()).
			Msg("chip detected")
		s.setState(StateDetected)
		return nil
	}

	return &TimeoutError{Op: "detect", Attempts: attempt, Elapsed: s.clock.Now().Sub(start)}
}

// Identify looks up the detected identification code in the catalog
func (s *Session) Identify() (*stcisp.Model, error) {
	if s.info == nil {
		return nil, fmt.Errorf("%w: identify before detect", ErrOutOfOrder)
	}
	code := s.info.Code()
	model, ok := s.catalog.LookupModel(code)
	if !ok {
		return nil, &UnknownDeviceError{Code: code}
	}
	s.model = model
	s.setState(StateModelIdentified)
	return model, nil
}

// ResolveProtocol finds the wire protocol of the identified model
func (s *Session) ResolveProtocol() (*stcisp.Protocol, error) {
	if s.model == nil {
		return nil, fmt.Errorf("%w: resolve before identify", ErrOutOfOrder)
	}
	p, ok := s.catalog.LookupProtocol(s.model.Protocol)
	if !ok || s.model.Protocol == stcisp.ProtocolUnsupported {
		return nil, &UnsupportedProtocolError{Model: s.model.Name, Protocol: s.model.Protocol}
	}
	s.protocol = p
	s.setState(StateProtocolResolved)
	return p, nil
}

// BaudrateSet asks the chip to switch to baud. The host side still runs at
// the detection rate until SetHostBaud.
func (s *Session) BaudrateSet(ctx context.Context, baud int) error {
	if s.protocol == nil {
		return fmt.Errorf("%w: baud switch before protocol resolution", ErrOutOfOrder)
	}
	cmd, err := s.protocol.BaudSwitch(s.info.Address(), baud)
	if err != nil {
		return err
	}
	if err := s.exchange(ctx, cmd, s.policies.Response); err != nil {
		return err
	}
	s.setState(StateBaudSwitched)
	return nil
}

// SetHostBaud switches the local port to the negotiated rate
func (s *Session) SetHostBaud(baud int) error {
	if s.state < StateBaudSwitched {
		return fmt.Errorf("%w: host baud before chip baud switch", ErrOutOfOrder)
	}
	if err := s.port.SetBaud(baud); err != nil {
		return &TransportError{Op: "set baud", Err: err}
	}
	s.baud = baud
	s.resetInput()
	s.setState(StateHostBaudSet)
	return nil
}

// BaudrateCheck pings the chip at the new rate
func (s *Session) BaudrateCheck(ctx context.Context) error {
	if s.state < StateHostBaudSet {
		return fmt.Errorf("%w: baud check before host baud set", ErrOutOfOrder)
	}
	s.clock.Sleep(s.policies.Settle)
	cmd := s.protocol.BaudCheck(s.info.Firmware())
	if err := s.exchange(ctx, cmd, s.policies.Response); err != nil {
		return err
	}
	s.setState(StateVerified)
	return nil
}

// FlashErase erases the whole flash
func (s *Session) FlashErase(ctx context.Context) error {
	if s.state < StateVerified {
		return fmt.Errorf("%w: erase before baud check", ErrOutOfOrder)
	}
	s.report(PhaseErase, 0, 1)
	if err := s.exchange(ctx, s.protocol.EraseFlash(), s.policies.Response); err != nil {
		return err
	}
	s.report(PhaseErase, 1, 1)
	s.setState(StateErased)
	return nil
}

// FlashWrite streams the image in ChunkSize pieces, waiting for each
// acknowledge. A chunk that exhausts its budget aborts with a WriteError;
// chunks already acknowledged stay programmed.
func (s *Session) FlashWrite(ctx context.Context) (int, error) {
	if s.state < StateVerified {
		return 0, fmt.Errorf("%w: write before baud check", ErrOutOfOrder)
	}
	if s.image == nil {
		return 0, ErrNoImage
	}

	data := s.image.Bytes()
	total := len(data)
	s.written = 0
	s.report(PhaseWrite, 0, total)

	for offset := 0; offset < total; offset += stcisp.ChunkSize {
		end := offset + stcisp.ChunkSize
		if end > total {
			end = total
		}
		addr := uint16(offset)

		cmd, err := s.protocol.WriteFlash(offset == 0, addr, data[offset:end])
		if err != nil {
			return s.written, &WriteError{Address: addr, Written: s.written, Total: total, Err: err}
		}
		if err := s.exchange(ctx, cmd, s.policies.Chunk); err != nil {
			return s.written, &WriteError{Address: addr, Written: s.written, Total: total, Err: err}
		}

		s.written = end
		s.report(PhaseWrite, s.written, total)
	}

	s.setState(StateWritten)
	return s.written, nil
}

func (s *Session) report(phase string, done, total int) {
	if s.progress == nil {
		return
	}
	p := Progress{Phase: phase, Written: done, Total: total}
	if total > 0 {
		p.Fraction = float64(done) / float64(total)
	}
	s.progress(p)
}

// exchange sends a command frame and waits for its status
func (s *Session) exchange(ctx context.Context, cmd stcisp.Command, policy RetryPolicy) error {
	data, err := s.encoder.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	s.log.Debug().Str("cmd", cmd.Name()).Hex("tx", data).Msg("send")
	if _, err := s.port.Write(data); err != nil {
		return &TransportError{Op: cmd.Name(), Err: err}
	}
	s.stats.RecordSent()

	start := s.clock.Now()
	attempt := 0
	for ; attempt < policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if policy.expired(start, s.clock.Now()) {
			break
		}

		frame, err := s.readFrame(ctx, policy.interval())
		if err != nil {
			return err
		}
		if frame == nil {
			s.stats.RecordRetry()
			continue
		}
		if !cmd.Matches(frame.Payload()) {
			return &MismatchError{Op: cmd.Name(), Expected: cmd.Expect(), Got: frame.Payload()}
		}
		return nil
	}

	return &TimeoutError{Op: cmd.Name(), Attempts: attempt, Elapsed: s.clock.Now().Sub(start)}
}

// readFrame polls the port and returns the first complete frame. Every
// poll that yields no frame sleeps one interval, so noise costs the same as
// silence. A started frame keeps being polled until it completes, until
// frameIdleLimit polls in a row bring no new bytes, or until MaxFrameSize
// polls have passed without completing it.
func (s *Session) readFrame(ctx context.Context, interval time.Duration) (*stcisp.Frame, error) {
	idle := 0
	polls := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data := s.pending
		s.pending = nil
		if len(data) == 0 {
			n, err := s.port.Read(s.readBuf)
			if err != nil {
				return nil, &TransportError{Op: "read", Err: err}
			}
			data = s.readBuf[:n]
			if n > 0 {
				s.log.Debug().Hex("rx", data).Msg("received")
			}
		}

		if len(data) > 0 {
			idle = 0
			for i, b := range data {
				frame, err := s.decoder.DecodeByte(b)
				if err != nil {
					s.stats.Update(nil, err, nil)
					s.log.Debug().Err(err).Msg("decoder rejected frame")
					continue
				}
				if frame != nil {
					if i+1 < len(data) {
						s.pending = append([]byte(nil), data[i+1:]...)
					}
					s.stats.Update(frame, nil, stcisp.ValidateFrame(frame))
					s.log.Debug().Hex("payload", frame.Payload()).Msg("frame")
					return frame, nil
				}
			}
		} else {
			idle++
		}

		s.clock.Sleep(interval)
		if !s.decoder.InFrame() {
			return nil, nil
		}
		polls++
		if idle >= frameIdleLimit || polls >= stcisp.MaxFrameSize {
			s.log.Debug().Hex("partial", s.decoder.GetRawBytes()).Int("polls", polls).Msg("dropping incomplete frame")
			s.decoder.Reset()
			return nil, nil
		}
	}
}

// resetInput drops anything buffered from before a rate change or a detect
func (s *Session) resetInput() {
	s.pending = nil
	s.decoder.Reset()
	if err := s.port.Flush(); err != nil {
		s.log.Debug().Err(err).Msg("flush failed")
	}
}
