// Package watch renders a live terminal view of the leaderboard and the
// response-time trend.
package watch

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"rescueops-hub/internal/api"
	"rescueops-hub/internal/fleet"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

type snapshotMsg struct{ Snapshot }

type errMsg struct{ err error }

const (
	agentIDWidth = 12
	barWidth     = 30
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

type model struct {
	api     string
	table   table.Model
	snap    Snapshot
	err     error
	width   int
	updated time.Time
}

func newModel(apiURL string) model {
	cols := []table.Column{
		{Title: "#", Width: 3},
		{Title: "Agent", Width: agentIDWidth},
		{Title: "Missions", Width: 8},
		{Title: "Battery", Width: 7},
		{Title: "Status", Width: 10},
		{Title: "Score", Width: 7},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(10))
	return model{api: apiURL, table: t, width: 80}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetWidth(msg.Width)
		if h := msg.Height - 20; h > 3 {
			m.table.SetHeight(h)
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	case snapshotMsg:
		m.snap = msg.Snapshot
		m.err = nil
		m.updated = msg.At
		m.table.SetRows(benchmarkRows(msg.Benchmarks))
	case errMsg:
		m.err = msg.err
	}
	return m, nil
}

func benchmarkRows(entries []fleet.LeaderboardEntry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, table.Row{
			strconv.Itoa(i + 1),
			truncate.StringWithTail(e.AgentID, agentIDWidth, "…"),
			strconv.Itoa(e.MissionsCompleted),
			fmt.Sprintf("%.0f%%", e.CurrentBattery),
			string(e.Status),
			fmt.Sprintf("%.1f", e.Score),
		})
	}
	return rows
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("rescueops leaderboard"))
	b.WriteString(dimStyle.Render("  " + m.api))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	b.WriteString(titleStyle.Render("response time (last missions)"))
	b.WriteString("\n")
	b.WriteString(renderTrend(m.snap.Trend))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	return b.String()
}

func renderTrend(points []api.TrendPoint) string {
	if len(points) == 0 {
		return dimStyle.Render("no completed missions yet") + "\n"
	}
	maxD := 0.0
	for _, p := range points {
		maxD = math.Max(maxD, p.DurationSeconds)
	}
	var b strings.Builder
	for _, p := range points {
		n := 0
		if maxD > 0 {
			n = int(math.Round(p.DurationSeconds / maxD * barWidth))
		}
		fmt.Fprintf(&b, "%s %s %.1fs\n", p.Time, barStyle.Render(strings.Repeat("█", n)), p.DurationSeconds)
	}
	return b.String()
}

func (m model) renderStatus() string {
	agents := fmt.Sprintf("%d agents", len(m.snap.Agents))
	if m.err != nil {
		return errStyle.Render(wordwrap.String("poll failed: "+m.err.Error(), m.width)) + "\n" + dimStyle.Render(agents+" · q to quit")
	}
	updated := "waiting for first poll"
	if !m.updated.IsZero() {
		updated = "updated " + m.updated.Format("15:04:05")
	}
	return dimStyle.Render(fmt.Sprintf("%s · %s · q to quit", agents, updated))
}

// Fetcher returns one snapshot of the API.
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// poll fetches once and forwards the result to p.
func poll(ctx context.Context, f Fetcher, p teaProgram) {
	s, err := f.Fetch(ctx)
	if err != nil {
		p.Send(errMsg{err: err})
		return
	}
	p.Send(snapshotMsg{s})
}

// Run polls f every interval and renders until the user quits or ctx ends.
func Run(ctx context.Context, apiURL string, f Fetcher, interval time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := tea.NewProgram(newModel(apiURL), tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		poll(ctx, f, p)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll(ctx, f, p)
			}
		}
	}()
	_, err := p.Run()
	if err == tea.ErrProgramKilled && ctx.Err() != nil {
		return nil
	}
	return err
}
