package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	pollInterval     = 500 * time.Millisecond
	seekStep         = 10 * time.Second
	commandTimeout   = 2 * time.Second
	DefaultStatusTTL = 3 * time.Second
)

// Playback is the part of *player.Session the view drives.
type Playback interface {
	Toggle(ctx context.Context) error
	Paused(ctx context.Context) (bool, error)
	Position(ctx context.Context) (time.Duration, error)
	Duration(ctx context.Context) (time.Duration, error)
	Seek(ctx context.Context, offset time.Duration) error
	Stop() error
	Done() <-chan struct{}
	Err() error
}

// NowPlaying describes the track on screen.
type NowPlaying struct {
	Title  string
	Artist string
	Album  string
}

// RunPlayer shows the playback view until the track ends or the user quits,
// and returns the session's error.
func RunPlayer(ctx context.Context, in io.Reader, out io.Writer, session Playback, track NowPlaying, statusTTL time.Duration) error {
	model := newPlayerModel(ctx, session, track, statusTTL)
	program := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	_, err := program.Run()
	if err != nil && ctx.Err() == nil {
		_ = session.Stop()
		return err
	}
	if ctx.Err() != nil {
		_ = session.Stop()
		return ctx.Err()
	}
	return session.Err()
}

type tickMsg time.Time

type snapshotMsg struct {
	position time.Duration
	duration time.Duration
	paused   bool
	err      error
}

type endedMsg struct{ err error }

type statusMsg struct {
	text string
	err  bool
}

type clearStatusMsg struct{ gen int }

var (
	nowPlayingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0B0B0B")).
			Background(lipgloss.Color("#00F5D4")).
			Bold(true).
			Padding(0, 1)

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0B0B0B")).
			Background(lipgloss.Color("#FFD166")).
			Bold(true).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

type playerModel struct {
	ctx       context.Context
	session   Playback
	track     NowPlaying
	statusTTL time.Duration

	position time.Duration
	duration time.Duration
	paused   bool
	bar      progressbar.Model
	width    int

	status    string
	statusErr bool
	statusGen int

	ended    bool
	endedErr error
}

func newPlayerModel(ctx context.Context, session Playback, track NowPlaying, statusTTL time.Duration) *playerModel {
	if statusTTL <= 0 {
		statusTTL = DefaultStatusTTL
	}
	return &playerModel{
		ctx:       ctx,
		session:   session,
		track:     track,
		statusTTL: statusTTL,
		width:     80,
		bar: progressbar.New(
			progressbar.WithGradient("#FF006E", "#00F5FF"),
			progressbar.WithWidth(barWidth(80)),
			progressbar.WithoutPercentage(),
		),
	}
}

func (m *playerModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.waitEnded(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *playerModel) waitEnded() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.session.Done():
			return endedMsg{err: m.session.Err()}
		case <-m.ctx.Done():
			return endedMsg{err: m.ctx.Err()}
		}
	}
}

func (m *playerModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, commandTimeout)
		defer cancel()
		pos, err := m.session.Position(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		dur, err := m.session.Duration(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		paused, err := m.session.Paused(ctx)
		return snapshotMsg{position: pos, duration: dur, paused: paused, err: err}
	}
}

// run executes fn against the session and reports the outcome as a status.
func (m *playerModel) run(fn func(context.Context) error, ok string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, commandTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return statusMsg{text: err.Error(), err: true}
		}
		return statusMsg{text: ok}
	}
}

func (m *playerModel) setStatus(text string, isErr bool) tea.Cmd {
	m.statusGen++
	m.status = text
	m.statusErr = isErr
	gen := m.statusGen
	return tea.Tick(m.statusTTL, func(time.Time) tea.Msg { return clearStatusMsg{gen: gen} })
}

func (m *playerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = barWidth(msg.Width)
	case tea.KeyMsg:
		if m.ended {
			return m, tea.Quit
		}
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			_ = m.session.Stop()
			m.ended = true
			return m, tea.Quit
		case " ", "space", "p":
			label := "Paused"
			if m.paused {
				label = "Playing"
			}
			m.paused = !m.paused
			return m, m.run(m.session.Toggle, label)
		case "right", "l":
			return m, m.run(func(ctx context.Context) error { return m.session.Seek(ctx, seekStep) }, "+10s")
		case "left", "h":
			return m, m.run(func(ctx context.Context) error { return m.session.Seek(ctx, -seekStep) }, "-10s")
		}
	case tickMsg:
		if m.ended {
			return m, nil
		}
		return m, tea.Batch(m.poll(), tick())
	case snapshotMsg:
		if msg.err != nil || m.ended {
			return m, nil
		}
		m.position = msg.position
		m.duration = msg.duration
		m.paused = msg.paused
		if m.duration > 0 {
			return m, m.bar.SetPercent(float64(m.position) / float64(m.duration))
		}
	case statusMsg:
		return m, m.setStatus(msg.text, msg.err)
	case clearStatusMsg:
		if msg.gen == m.statusGen {
			m.status = ""
			m.statusErr = false
		}
	case endedMsg:
		m.ended = true
		m.endedErr = msg.err
		return m, tea.Quit
	case progressbar.FrameMsg:
		model, cmd := m.bar.Update(msg)
		if updated, ok := model.(progressbar.Model); ok {
			m.bar = updated
		}
		return m, cmd
	}
	return m, nil
}

func (m *playerModel) View() string {
	var b strings.Builder

	badge := nowPlayingStyle.Render(" Now Playing")
	if m.paused {
		badge = pausedStyle.Render(" Paused")
	}
	b.WriteString(badge)
	b.WriteString(" ")
	b.WriteString(labelStyle.Render(truncateLine(m.track.Title, m.width-16)))
	b.WriteString("\n")

	var meta []string
	if m.track.Artist != "" {
		meta = append(meta, m.track.Artist)
	}
	if m.track.Album != "" {
		meta = append(meta, m.track.Album)
	}
	if len(meta) > 0 {
		b.WriteString(dimStyle.Render(strings.Join(meta, " · ")))
		b.WriteString("\n")
	}

	b.WriteString(m.bar.View())
	b.WriteString("\n")
	total := "--:--"
	if m.duration > 0 {
		total = formatClock(m.duration)
	}
	fmt.Fprintf(&b, "%s / %s\n", formatClock(m.position), total)

	switch {
	case m.ended && m.endedErr != nil:
		b.WriteString(logErrorStyle.Render("playback failed: " + m.endedErr.Error()))
		b.WriteString("\n")
	case m.status != "" && m.statusErr:
		b.WriteString(logErrorStyle.Render(m.status))
		b.WriteString("\n")
	case m.status != "":
		b.WriteString(logInfoStyle.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("space pause · ←/→ seek · q quit"))
	b.WriteString("\n")
	return b.String()
}

// formatClock renders d as m:ss, or h:mm:ss past an hour.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
