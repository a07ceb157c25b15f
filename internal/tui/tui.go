// Package tui renders a live bubbletea progress view for the indexing
// pipeline, for use by `sourcelens serve --tui`.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sourcelens/sourcelens/internal/async"
)

const (
	colorLime     = "154"
	colorLimeDim  = "106"
	colorGray     = "245"
	colorDarkGray = "238"
	colorRed      = "196"
	colorYellow   = "220"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorLime))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorLime))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorDarkGray))
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorLime))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorLimeDim))
	panelStyle   = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorDarkGray)).
		Padding(0, 1)
)

// stages lists the pipeline stages in display order, matching
// async.IndexingStage's string values.
var stages = []struct {
	stage string
	label string
}{
	{string(async.StageScanning), "Scan"},
	{string(async.StageChunking), "Chunk"},
	{string(async.StageEmbedding), "Embed"},
	{string(async.StageIndexing), "Index"},
}

func stageIndex(stage string) int {
	for i, s := range stages {
		if s.stage == stage {
			return i
		}
	}
	return -1
}

// Run starts the TUI and blocks until indexing completes or the user quits.
// projectDir is shown in the panel header; progress is polled from p.
func Run(projectDir string, p *async.IndexProgress) error {
	m := newModel(projectDir, p)
	program := tea.NewProgram(m, tea.WithAltScreen())
	_, err := program.Run()
	return err
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	projectDir string
	progress   *async.IndexProgress
	snap       async.IndexProgressSnapshot

	spinner     spinner.Model
	progressBar progress.Model

	width    int
	quitting bool
}

func newModel(projectDir string, p *async.IndexProgress) *model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(colorLime))

	bar := progress.New(
		progress.WithSolidFill(colorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &model{
		projectDir:  projectDir,
		progress:    p,
		spinner:     s,
		progressBar: bar,
		width:       80,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case tickMsg:
		m.snap = m.progress.Snapshot()
		if !m.progress.IsIndexing() {
			return m, tea.Quit
		}
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *model) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if !m.progress.IsIndexing() {
		return m.renderComplete()
	}

	width := m.width - 4
	if width < 40 {
		width = 40
	}

	sections := []string{
		m.renderStages(),
		m.renderDivider(width),
		m.renderProgress(),
	}
	if m.snap.ErrorMessage != "" {
		sections = append(sections, m.renderDivider(width), errorStyle.Render("✗ "+m.snap.ErrorMessage))
	}

	content := strings.Join(sections, "\n")
	title := "sourcelens indexer"
	if m.projectDir != "" {
		title = fmt.Sprintf("sourcelens indexer • %s", m.projectDir)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(title),
		panelStyle.Width(width).Render(content),
		dimStyle.Render("q to quit"),
	)
}

func (m *model) renderStages() string {
	current := stageIndex(m.snap.Stage)

	var parts []string
	for i, s := range stages {
		var icon string
		var style lipgloss.Style
		switch {
		case current >= 0 && i < current:
			icon, style = "●", successStyle
		case i == current:
			icon, style = m.spinner.View(), activeStyle
		default:
			icon, style = "○", stageStyle
		}
		parts = append(parts, style.Render(icon+" "+s.label))
	}

	return strings.Join(parts, dimStyle.Render(" → "))
}

func (m *model) renderProgress() string {
	if m.snap.FilesTotal == 0 {
		return fmt.Sprintf("%s preparing...", m.spinner.View())
	}

	pct := m.snap.ProgressPct / 100
	bar := m.progressBar.ViewAs(pct)
	pctStr := activeStyle.Render(fmt.Sprintf("%3.0f%%", m.snap.ProgressPct))
	count := labelStyle.Render(fmt.Sprintf("%d / %d files, %d chunks, %ds elapsed",
		m.snap.FilesProcessed, m.snap.FilesTotal, m.snap.ChunksIndexed, m.snap.ElapsedSeconds))

	return fmt.Sprintf("%s  %s\n%s", bar, pctStr, count)
}

func (m *model) renderDivider(width int) string {
	return dimStyle.Render(strings.Repeat("─", width))
}

func (m *model) renderComplete() string {
	snap := m.progress.Snapshot()
	lines := []string{
		successStyle.Render("✓ Indexing complete"),
		"",
		fmt.Sprintf("%s %s", labelStyle.Render("Files:"), activeStyle.Render(fmt.Sprintf("%d", snap.FilesProcessed))),
		fmt.Sprintf("%s %s", labelStyle.Render("Chunks:"), activeStyle.Render(fmt.Sprintf("%d", snap.ChunksIndexed))),
		fmt.Sprintf("%s %s", labelStyle.Render("Duration:"), activeStyle.Render(fmt.Sprintf("%ds", snap.ElapsedSeconds))),
	}
	if snap.ErrorMessage != "" {
		lines = append(lines, "", warningStyle.Render("⚠ "+snap.ErrorMessage))
	}

	content := strings.Join(lines, "\n")
	win := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorLime)).
		Padding(1, 2)

	return win.Render(content) + "\n"
}
