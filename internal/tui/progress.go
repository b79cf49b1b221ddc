// Package tui renders the interactive terminal views: download progress and
// the playback controller.
package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/lvcoi/tunefetch/internal/download"
)

// Downloads draws one progress bar per task until Stop is called.
type Downloads struct {
	mu      sync.Mutex
	out     io.Writer
	program *tea.Program
	done    chan struct{}
	counter atomic.Int64
}

func NewDownloads(out io.Writer) *Downloads {
	return &Downloads{out: out}
}

// Start runs the renderer until ctx is done or Stop is called. It does not
// read the terminal, so interrupts still reach the process.
func (d *Downloads) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.program != nil {
		return
	}

	d.program = tea.NewProgram(newDownloadsModel(),
		tea.WithOutput(d.out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	d.done = make(chan struct{})

	program, done := d.program, d.done
	go func() {
		defer close(done)
		_, _ = program.Run()
	}()
	go func() {
		select {
		case <-ctx.Done():
			program.Send(stopMsg{})
		case <-done:
		}
	}()
}

// Stop flushes the final frame and waits for the renderer to exit.
func (d *Downloads) Stop() {
	d.mu.Lock()
	program, done := d.program, d.done
	d.mu.Unlock()

	if program != nil {
		program.Send(stopMsg{})
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
}

// Log prints msg above the bars.
func (d *Downloads) Log(level slog.Level, msg string) {
	if msg == "" {
		return
	}
	d.send(logMsg{level: level, text: msg})
}

// Add registers a task labelled label.
func (d *Downloads) Add(label string) *Task {
	id := fmt.Sprintf("task-%d", d.counter.Add(1))
	d.send(registerMsg{id: id, label: label, start: time.Now()})
	return &Task{id: id, owner: d}
}

func (d *Downloads) send(msg tea.Msg) {
	d.mu.Lock()
	program := d.program
	d.mu.Unlock()
	if program != nil {
		program.Send(msg)
	}
}

// Task is a handle on one registered bar.
type Task struct {
	id    string
	owner *Downloads
}

// Update matches the download.Manager progress callback.
func (t *Task) Update(p download.Progress) {
	t.owner.send(updateMsg{id: t.id, current: p.BytesWritten, total: p.BytesExpected})
}

// Finish marks the task complete, or failed when err is non-nil.
func (t *Task) Finish(err error) {
	t.owner.send(finishMsg{id: t.id, err: err})
}

type registerMsg struct {
	id    string
	label string
	start time.Time
}

type updateMsg struct {
	id      string
	current int64
	total   int64
}

type finishMsg struct {
	id  string
	err error
}

type logMsg struct {
	level slog.Level
	text  string
}

type stopMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0B0B0B")).
			Background(lipgloss.Color("#FFE66D")).
			Bold(true).
			Padding(0, 1)

	percentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00F5D4")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6ADC8")).
			Faint(true)

	logInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7FDBFF")).
			Bold(true)

	logWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD166")).
			Bold(true)

	logErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7FDBFF"))
)

type downloadsModel struct {
	tasks map[string]*progressTask
	order []string
	width int
	quit  bool
	log   string
}

type progressTask struct {
	label    string
	total    int64
	current  int64
	started  time.Time
	finished time.Time
	percent  float64
	bar      progressbar.Model
	spin     spinner.Model
	done     bool
	err      error
}

func newDownloadsModel() *downloadsModel {
	return &downloadsModel{
		tasks: make(map[string]*progressTask),
		width: 80,
	}
}

func barWidth(total int) int {
	width := total - 10
	if width < 10 {
		return 10
	}
	return width
}

func truncateLine(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}
	if width <= 3 {
		return text[:width]
	}
	return text[:width-3] + "..."
}

func (m *downloadsModel) Init() tea.Cmd {
	return nil
}

func (m *downloadsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		for _, task := range m.tasks {
			task.bar.Width = barWidth(m.width)
		}
	case registerMsg:
		if _, exists := m.tasks[msg.id]; exists {
			return m, nil
		}
		m.order = append(m.order, msg.id)
		spin := spinner.New()
		spin.Spinner = spinner.MiniDot
		spin.Style = spinnerStyle
		task := &progressTask{
			label:   msg.label,
			started: msg.start,
			bar: progressbar.New(
				progressbar.WithGradient("#FF006E", "#00F5FF"),
				progressbar.WithWidth(barWidth(m.width)),
				progressbar.WithoutPercentage(),
			),
			spin: spin,
		}
		m.tasks[msg.id] = task
		return m, tea.Batch(task.bar.SetPercent(0), task.spin.Tick)
	case updateMsg:
		if task, ok := m.tasks[msg.id]; ok && !task.done {
			task.current = msg.current
			if msg.total > 0 {
				task.total = msg.total
			}
			if task.total > 0 {
				task.percent = math.Min(1, math.Max(0, float64(task.current)/float64(task.total)))
				return m, task.bar.SetPercent(task.percent)
			}
		}
	case finishMsg:
		if task, ok := m.tasks[msg.id]; ok {
			task.done = true
			task.err = msg.err
			task.finished = time.Now()
			if msg.err == nil {
				task.percent = 1
				return m, task.bar.SetPercent(1)
			}
		}
	case logMsg:
		style := logInfoStyle
		switch {
		case msg.level >= slog.LevelError:
			style = logErrorStyle
		case msg.level >= slog.LevelWarn:
			style = logWarnStyle
		}
		m.log = style.Render(truncateLine(msg.text, m.width))
	case progressbar.FrameMsg:
		cmds := make([]tea.Cmd, 0, len(m.tasks))
		for _, task := range m.tasks {
			model, cmd := task.bar.Update(msg)
			if updated, ok := model.(progressbar.Model); ok {
				task.bar = updated
			}
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	case spinner.TickMsg:
		cmds := make([]tea.Cmd, 0, len(m.tasks))
		for _, task := range m.tasks {
			if task.done {
				continue
			}
			updated, cmd := task.spin.Update(msg)
			task.spin = updated
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	case stopMsg:
		m.quit = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *downloadsModel) View() string {
	var b strings.Builder

	if m.log != "" {
		b.WriteString(m.log)
		b.WriteString("\n")
	}
	if len(m.order) == 0 {
		return b.String()
	}

	b.WriteString(titleStyle.Render(" Downloads"))
	b.WriteString("\n")
	for _, id := range m.order {
		task := m.tasks[id]

		var elapsed time.Duration
		if task.done {
			elapsed = task.finished.Sub(task.started)
		} else {
			elapsed = time.Since(task.started)
		}

		mark := spinnerStyle.Render(task.spin.View())
		switch {
		case task.done && task.err != nil:
			mark = logErrorStyle.Render("✗")
		case task.done:
			mark = percentStyle.Render("✓")
		}
		fmt.Fprintf(&b, "%s %s %s\n", mark,
			percentStyle.Render(fmt.Sprintf("%5.1f%%", task.percent*100)),
			labelStyle.Render(truncateLine(task.label, m.width-10)))
		b.WriteString(task.bar.View())
		b.WriteString("\n")

		var detail string
		switch {
		case task.done && task.err != nil:
			detail = logErrorStyle.Render(truncateLine(task.err.Error(), m.width-8))
		case task.done:
			detail = dimStyle.Render(fmt.Sprintf("%s · completed in %s", humanize.IBytes(uint64(task.current)), formatDurationShort(elapsed)))
		default:
			detail = dimStyle.Render(fmt.Sprintf("%s / %s · %s · eta %s",
				humanize.IBytes(uint64(task.current)),
				totalText(task.total),
				formatRate(task.current, elapsed),
				formatDurationShort(estimateETA(task.current, task.total, elapsed))))
		}
		fmt.Fprintf(&b, "        %s\n", detail)
	}
	return b.String()
}

func totalText(total int64) string {
	if total <= 0 {
		return "?"
	}
	return humanize.IBytes(uint64(total))
}

func formatRate(current int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "--/s"
	}
	rate := int64(float64(current) / elapsed.Seconds())
	if rate <= 0 {
		return "--/s"
	}
	return humanize.IBytes(uint64(rate)) + "/s"
}

func estimateETA(current, total int64, elapsed time.Duration) time.Duration {
	if total <= 0 || current <= 0 {
		return 0
	}
	remaining := total - current
	if remaining <= 0 {
		return 0
	}
	rate := float64(current) / elapsed.Seconds()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/rate) * time.Second
}

func formatDurationShort(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(math.Mod(d.Seconds(), 60)))
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(math.Mod(d.Minutes(), 60)))
}
