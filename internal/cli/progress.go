package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/raphaelgruber/ingestor/internal/ingest"
	"github.com/raphaelgruber/ingestor/internal/models"
)

const (
	refreshInterval   = time.Second
	maxShownAnomalies = 5
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg refreshes the elapsed time
type tickMsg time.Time

// eventMsg carries an orchestrator event into the program
type eventMsg struct {
	event ingest.Event
}

// pauseToggledMsg carries the pause state after a toggle
type pauseToggledMsg bool

// runControl is what the view can do to a run.
type runControl interface {
	TogglePause() bool
	Cancel()
}

// runHandle forwards view controls to a run. run is set once Start returns,
// before the program processes any key.
type runHandle struct {
	run *ingest.Run
}

func (h *runHandle) TogglePause() bool { return h.run.TogglePause() }
func (h *runHandle) Cancel() { h.run.Cancel() }

// togglePause runs outside Update: the run reports the change through the
// observer, which sends into the program.
func togglePause(c runControl) tea.Cmd {
	return func() tea.Msg { return pauseToggledMsg(c.TogglePause()) }
}

// progressModel is the bubbletea model for a run.
type progressModel struct {
	control runControl
	theme   Theme
	bar     progress.Model

	runID     string
	items     int
	startedAt time.Time
	now       time.Time

	progress  ingest.Progress
	current   *ingest.BatchInfo
	finished  int // Batches whose request completed
	batches   int
	uploading bool
	paused    bool

	anomalies    []ingest.Anomaly // Most recent last
	anomalyCount int

	report   *ingest.Report
	done     bool
	quitting bool
}

func newProgressModel(control runControl, items int) progressModel {
	now := time.Now()
	return progressModel{
		control:   control,
		theme:     defaultTheme,
		bar:       progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		items:     items,
		startedAt: now,
		now:       now,
		progress:  ingest.Aggregate(nil),
	}
}

// Init starts the elapsed-time ticker.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.bar.Init())
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case pauseToggledMsg:
		m.paused = bool(msg)
		return m, nil

	case eventMsg:
		m = m.apply(msg.event)
		if m.done {
			return m, tea.Quit
		}
		return m, nil

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.bar, cmd = m.bar.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) handleKey(key string) (progressModel, tea.Cmd) {
	switch key {
	case "p":
		if m.done {
			return m, nil
		}
		return m, togglePause(m.control)
	case "ctrl+c", "q":
		m.quitting = true
		m.control.Cancel()
		return m, tea.Quit
	}
	return m, nil
}

// apply folds one orchestrator event into the model.
func (m progressModel) apply(ev ingest.Event) progressModel {
	if ev.RunID != "" {
		m.runID = ev.RunID
	}
	if ev.Progress != nil {
		m.progress = *ev.Progress
	}

	switch ev.Kind {
	case ingest.EventBatchStarted:
		m.current = ev.Batch
		m.batches = ev.Batch.Total
		m.uploading = true
	case ingest.EventBatchFinished:
		m.current = ev.Batch
		m.batches = ev.Batch.Total
		m.finished++
		m.uploading = false
	case ingest.EventAnomaly:
		m.anomalyCount++
		m.anomalies = append(m.anomalies, *ev.Anomaly)
		if len(m.anomalies) > maxShownAnomalies {
			m.anomalies = slices.Clone(m.anomalies[len(m.anomalies)-maxShownAnomalies:])
		}
	case ingest.EventPauseChanged:
		m.paused = ev.Paused
	case ingest.EventRunComplete:
		m.report = ev.Report
		m.done = true
	}
	return m
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	var b strings.Builder

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.phase()))
	pct := float64(m.progress.Percent) / 100
	fmt.Fprintf(&b, "%s %s %3d%%  %d/%d jobs finished  %s\n",
		status, m.bar.ViewAs(pct), m.progress.Percent, m.progress.Terminal, m.progress.Accepted,
		m.now.Sub(m.startedAt).Round(time.Second))

	fmt.Fprintf(&b, "  %s\n", m.stateLine())
	if stages := m.stageLine(); stages != "" {
		fmt.Fprintf(&b, "  stages: %s\n", stages)
	}
	if m.progress.Slow > 0 {
		b.WriteString(m.theme.warningStyle().Render(fmt.Sprintf("  %d jobs taking longer than expected", m.progress.Slow)))
		b.WriteString("\n")
	}

	if m.current != nil {
		verb := "uploaded"
		if m.uploading {
			verb = "uploading"
		}
		name := m.current.Name
		if m.current.Items > 1 {
			name = fmt.Sprintf("%s +%d more", name, m.current.Items-1)
		}
		fmt.Fprintf(&b, "  %s batch %d/%d: %s (%s)\n",
			verb, m.current.Index+1, m.current.Total, name, humanize.Bytes(uint64(m.current.Bytes)))
	}

	if m.anomalyCount > 0 {
		b.WriteString(m.theme.warningStyle().Render(fmt.Sprintf("  %d warnings", m.anomalyCount)))
		b.WriteString("\n")
		for _, a := range m.anomalies {
			fmt.Fprintf(&b, "    %s\n", describeAnomaly(a))
		}
	}

	hint := "p pause · q stop watching"
	if m.paused {
		hint = "p resume · q stop watching"
	}
	b.WriteString(m.theme.hintStyle().Render(hint))
	b.WriteString("\n")
	return b.String()
}

func (m progressModel) phase() string {
	switch {
	case m.paused:
		return "paused"
	case m.batches == 0 || m.finished < m.batches:
		return "uploading"
	default:
		return "processing"
	}
}

func (m progressModel) stateLine() string {
	parts := make([]string, 0, len(models.JobStates))
	for _, state := range models.JobStates {
		parts = append(parts, fmt.Sprintf("%s %d", state, m.progress.PerState[state]))
	}
	return strings.Join(parts, " · ")
}

// stageLine lists backend stages of processing jobs, largest first.
func (m progressModel) stageLine() string {
	type stageCount struct {
		stage string
		n     int
	}
	var stages []stageCount
	for stage, n := range m.progress.PerStage {
		if slices.Contains(models.JobStates, models.JobState(stage)) {
			continue
		}
		stages = append(stages, stageCount{stage, n})
	}
	slices.SortFunc(stages, func(a, b stageCount) int {
		if a.n != b.n {
			return b.n - a.n
		}
		return strings.Compare(a.stage, b.stage)
	})

	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = fmt.Sprintf("%s %d", s.stage, s.n)
	}
	return strings.Join(parts, ", ")
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nStopped watching run %s. Accepted jobs keep processing on the server.\n", m.runID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.report != nil && m.report.Unknown+m.report.Unsubmitted > 0 {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Run %s finished with problems\n", m.runID))
	}
	return m.theme.completedStyle().Render(fmt.Sprintf("\n✓ Run %s complete\n", m.runID))
}

func describeAnomaly(a ingest.Anomaly) string {
	var where string
	switch {
	case a.JobID != "":
		where = "job " + a.JobID
	case a.Batch >= 0:
		where = fmt.Sprintf("batch %d", a.Batch+1)
	}
	s := string(a.Kind)
	if where != "" {
		s += " (" + where + ")"
	}
	if a.Detail != "" {
		s += ": " + a.Detail
	}
	return s
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runInteractive runs the orchestrator behind the progress view.
// Quitting the view stops watching; the returned report then has Cancelled set.
func runInteractive(ctx context.Context, orch *orchestrator, req ingest.Request) (ingest.Report, error) {
	handle := &runHandle{}
	model := newProgressModel(handle, len(req.Items))
	p := tea.NewProgram(model, tea.WithContext(ctx))

	// Send blocks until the program is running and is a no-op once it has exited.
	req.Observer = ingest.ObserverFunc(func(ev ingest.Event) {
		p.Send(eventMsg{event: ev})
	})

	run, err := orch.Start(ctx, req)
	if err != nil {
		return ingest.Report{}, err
	}
	handle.run = run

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		run.Cancel()
		<-run.Done()
		return run.Report(), fmt.Errorf("progress UI error: %w", err)
	}

	// The view quits on run_complete, on q (which cancels the run), or when ctx is
	// cancelled, which the run observes through its parent context.
	<-run.Done()
	return run.Report(), nil
}
