// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/stcprog/pkg/ihex"
	"github.com/Thermoquad/stcprog/pkg/programmer"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Link counters copied out of the session goroutine
type linkSnapshot struct {
	tx      uint64
	rx      uint64
	retries uint64
	errors  uint64
}

// TUI model
type flashModel struct {
	label     string
	baud      int
	invite    string
	state     programmer.State
	phase     string
	written   int
	total     int
	fraction  float64
	link      linkSnapshot
	events    []eventLogEntry
	maxEvents int
	started   time.Time
	spinner   spinner.Model
	progress  progress.Model
	cancel    context.CancelFunc
	err       error
	done      bool
	quitting  bool
}

// Messages
type stateMsg struct {
	state  programmer.State
	detail string
	link   linkSnapshot
}
type progressMsg struct {
	progress programmer.Progress
	link     linkSnapshot
}
type doneMsg struct {
	err error
}

// formatDuration formats a duration as "1 minute and 5 seconds"
func formatDuration(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	minutes := seconds / 60
	hours := minutes / 60
	seconds %= 60
	minutes %= 60

	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	if len(parts) == 1 {
		return parts[0]
	}
	last := parts[len(parts)-1]
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + last
}

func snapshot(s *programmer.Session) linkSnapshot {
	stats := s.Statistics()
	return linkSnapshot{
		tx:      stats.TxFrames,
		rx:      stats.RxFrames,
		retries: stats.Retries,
		errors:  stats.Errors(),
	}
}

// describeState returns the event log line for a state change
func describeState(s *programmer.Session, state programmer.State, baud int) string {
	switch state {
	case programmer.StatePortOpened:
		return "Port opened at detection baud"
	case programmer.StateDetected:
		info := s.Info()
		return fmt.Sprintf("Detected code 0x%04X, firmware %s", info.Code(), info.FirmwareString())
	case programmer.StateModelIdentified:
		return fmt.Sprintf("MCU type: %s", s.Model().Name)
	case programmer.StateProtocolResolved:
		return fmt.Sprintf("Protocol: %s", s.Protocol().Name)
	case programmer.StateBaudSwitched:
		return fmt.Sprintf("Chip switched to %d baud", baud)
	case programmer.StateHostBaudSet:
		return fmt.Sprintf("Host switched to %d baud", baud)
	case programmer.StateVerified:
		return "Link verified"
	case programmer.StateErased:
		return "Flash erased"
	case programmer.StateWritten:
		return fmt.Sprintf("Wrote %d bytes", s.Written())
	case programmer.StateDone:
		return "Done"
	}
	return state.String()
}

func newFlashModel(label string, baud int, invite string, cancel context.CancelFunc) flashModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warningStyle

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 50

	return flashModel{
		label:     label,
		baud:      baud,
		invite:    invite,
		state:     programmer.StateIdle,
		events:    make([]eventLogEntry, 0),
		maxEvents: 12,
		started:   time.Now(),
		spinner:   sp,
		progress:  bar,
		cancel:    cancel,
	}
}

func (m flashModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m flashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		if msg.Width > 20 && msg.Width-10 < 50 {
			m.progress.Width = msg.Width - 10
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateMsg:
		m.state = msg.state
		m.link = msg.link
		m.addLogEntry(msg.detail, false)

	case progressMsg:
		m.phase = msg.progress.Phase
		m.written = msg.progress.Written
		m.total = msg.progress.Total
		m.fraction = msg.progress.Fraction
		m.link = msg.link

	case doneMsg:
		m.done = true
		m.err = msg.err
		if msg.err != nil {
			m.addLogEntry(msg.err.Error(), true)
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m *flashModel) addLogEntry(message string, isError bool) {
	m.events = append(m.events, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

func (m flashModel) View() string {
	if m.quitting && !m.done {
		return "Cancelling...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("STCPROG - FLASH"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Target: %d baud | Press 'q' to cancel", m.label, m.baud)))
	s.WriteString("\n\n")

	// Current step
	switch {
	case m.done && m.err != nil:
		s.WriteString(errorStyle.Render("✗ Failed in state " + m.state.String()))
	case m.done:
		s.WriteString(valueStyle.Render("✓ Done"))
	case m.state == programmer.StatePortOpened:
		s.WriteString(m.spinner.View() + " " + warningStyle.Render("Waiting for MCU ("+m.invite+")"))
	default:
		s.WriteString(m.spinner.View() + " " + labelStyle.Render(m.state.String()))
	}
	s.WriteString("\n\n")

	// Progress
	content := strings.Builder{}
	phase := m.phase
	if phase == "" {
		phase = "pending"
	}
	content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Phase:"), valueStyle.Render(phase),
		labelStyle.Render("Bytes:"), valueStyle.Render(fmt.Sprintf("%d / %d", m.written, m.total)),
	))
	content.WriteString(m.progress.ViewAs(m.fraction))
	content.WriteString("\n")
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("TX:"), valueStyle.Render(fmt.Sprintf("%d", m.link.tx)),
		labelStyle.Render("RX:"), valueStyle.Render(fmt.Sprintf("%d", m.link.rx)),
		labelStyle.Render("Retries:"), warningStyle.Render(fmt.Sprintf("%d", m.link.retries)),
		labelStyle.Render("Errors:"), func() string {
			if m.link.errors > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", m.link.errors))
			}
			return valueStyle.Render("0")
		}(),
	))
	s.WriteString(boxStyle.Render(content.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Events:"))
	s.WriteString("\n")
	for _, entry := range m.events {
		line := fmt.Sprintf("[%s] %s", entry.timestamp.Format("15:04:05.000"), entry.message)
		if entry.isError {
			s.WriteString(errorStyle.Render(line))
		} else {
			s.WriteString(line)
		}
		s.WriteString("\n")
	}
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("Elapsed: " + formatDuration(time.Since(m.started))))
	s.WriteString("\n")

	return s.String()
}

// flashTUI runs the whole programming sequence behind an interactive view
func flashTUI(ctx context.Context, conn *Connection, inviter programmer.Inviter, img *ihex.Image, opts []programmer.Option) (*programmer.Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *tea.Program
	var s *programmer.Session
	opts = append(opts,
		programmer.WithStateHandler(func(state programmer.State) {
			p.Send(stateMsg{state: state, detail: describeState(s, state, cfg.Baud), link: snapshot(s)})
		}),
		programmer.WithProgress(func(pr programmer.Progress) {
			p.Send(progressMsg{progress: pr, link: snapshot(s)})
		}),
	)
	s = programmer.New(conn.Port, opts...)

	m := newFlashModel(conn.Label, cfg.Baud, inviter.Describe(), cancel)
	if img != nil {
		m.total = img.Size()
	}
	p = tea.NewProgram(m)

	result := make(chan error, 1)
	go func() {
		err := s.Run(ctx, programmer.Plan{
			Path:   conn.Target,
			Baud:   cfg.Baud,
			Erase:  eraseChip,
			Invite: inviter,
		})
		s.Close()
		result <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-result
		return s, fmt.Errorf("TUI error: %w", err)
	}

	err := <-result
	if err == nil {
		fmt.Printf("%s %s\n", good("Wrote %d bytes", s.Written()), dim("in %s", formatDuration(time.Since(m.started))))
	}
	return s, err
}
