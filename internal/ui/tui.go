package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer draws a bubbletea progress view.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *buildModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. cfg.Output must be a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newBuildModel(tracker, cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Update(event)
	r.send(refreshMsg{})
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
	r.send(refreshMsg{})
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.SetStage(StageComplete, 0)
	r.send(completeMsg(stats))
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()

	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

type (
	refreshMsg  struct{}
	completeMsg CompletionStats
	tickMsg     time.Time
)

type buildModel struct {
	tracker  *ProgressTracker
	title    string
	width    int
	quitting bool
	complete bool
	stats    CompletionStats
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newBuildModel(tracker *ProgressTracker, title string) *buildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &buildModel{
		tracker: tracker,
		title:   title,
		width:   80,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(50),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
	}
}

func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *buildModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	width := max(m.width-4, 40)
	if m.complete {
		return m.viewComplete(width)
	}

	stats := m.tracker.Stats()
	divider := m.styles.Border.Render(strings.Repeat("─", width))

	sections := []string{m.viewStages(stats.Stage), divider, m.viewProgress(stats)}
	if stats.CurrentFile != "" {
		sections = append(sections, divider, m.styles.Dim.Render(truncateFilePath(stats.CurrentFile, width-2)))
	}

	title := "bibsearch index"
	if m.title != "" {
		title += " • " + m.title
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(sections, "\n")),
	) + "\n" + m.viewStatusBar(stats)
}

func (m *buildModel) viewStages(current Stage) string {
	parts := make([]string, 0, 3)
	for _, s := range []Stage{StagePlanning, StageExtracting, StagePurging} {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *buildModel) viewProgress(s ProgressStats) string {
	if s.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), s.Stage)
	}

	line := fmt.Sprintf("%s  %s", m.bar.ViewAs(s.Progress), m.styles.Active.Render(fmt.Sprintf("%3.0f%%", s.Progress*100)))
	counts := fmt.Sprintf("%d / %d files  •  %d pages  •  %.1f files/s", s.Current, s.Total, s.Pages, s.FilesPerSec)
	if s.ETA > 0 {
		counts += "  •  ETA " + formatDuration(s.ETA)
	}
	return line + "\n" + m.styles.Label.Render(counts)
}

func (m *buildModel) viewStatusBar(s ProgressStats) string {
	var parts []string
	if s.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", s.WarnCount)))
	}
	if s.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", s.ErrorCount)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *buildModel) viewComplete(width int) string {
	label := m.styles.Label.Render
	value := m.styles.Active.Render

	lines := []string{
		m.styles.Success.Render("✓ Indexing complete"),
		"",
		fmt.Sprintf("%s  %s", label("Files:   "), value(fmt.Sprintf("%d of %d", m.stats.Indexed, m.stats.Files))),
		fmt.Sprintf("%s  %s", label("Pages:   "), value(fmt.Sprintf("%d", m.stats.Pages))),
		fmt.Sprintf("%s  %s", label("Duration:"), value(formatDuration(m.stats.Duration))),
	}
	if m.stats.Backend != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", label("Backend: "), value(m.stats.Backend)))
	}
	if m.stats.Purged > 0 {
		lines = append(lines, fmt.Sprintf("%s  %s", label("Purged:  "), value(fmt.Sprintf("%d", m.stats.Purged))))
	}
	if m.stats.Failures > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d files failed", m.stats.Failures)))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(width).
		Render(strings.Join(lines, "\n")) + "\n"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncateFilePath shortens path to maxLen, keeping the file name.
func truncateFilePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 4 {
		return "..."
	}

	i := strings.LastIndexByte(path, '/')
	name := path[i+1:]
	if i < 0 || len(name)+4 > maxLen {
		return "..." + path[len(path)-maxLen+3:]
	}

	keep := maxLen - len(name) - 4
	dir := path[:i]
	return "..." + dir[len(dir)-keep:] + "/" + name
}

var _ Renderer = (*TUIRenderer)(nil)
