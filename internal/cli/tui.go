package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/model"
	"github.com/matzehuels/pipescope/pkg/replica"
)

// List styles
var (
	listDimStyle    = lipgloss.NewStyle().Foreground(colorDim)
	listHeaderStyle = lipgloss.NewStyle().Foreground(colorGray).Bold(true)
)

var stateStyles = map[components.State]lipgloss.Style{
	components.StatePlaying: lipgloss.NewStyle().Foreground(colorGreen),
	components.StatePaused:  lipgloss.NewStyle().Foreground(colorYellow),
	components.StatePending: lipgloss.NewStyle().Foreground(colorYellow),
	components.StateFailed:  lipgloss.NewStyle().Foreground(colorRed),
	components.StateDone:    lipgloss.NewStyle().Foreground(colorGray),
}

// =============================================================================
// WatchModel - Live mirror in the terminal
// =============================================================================

// viewMsg delivers a newly published view to the watch model.
type viewMsg struct{ view *replica.View }

// WatchModel is the bubbletea model of `serve --watch`. It lists the
// mirrored nodes with their state and layout position.
type WatchModel struct {
	Current *replica.View
	Listen  string
	HTTP    string
	Cursor  int
	Height  int
	Offset  int
}

// NewWatchModel creates a watch model showing v.
func NewWatchModel(v *replica.View, cfg Config) WatchModel {
	return WatchModel{
		Current: v,
		Listen:  cfg.Transport.Addr,
		HTTP:    httpAddr(cfg.HTTP),
		Height:  15,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return nil
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.Current = msg.view
		m.clamp()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
			}
		case "down", "j":
			m.Cursor++
		case "home", "g":
			m.Cursor = 0
		case "end", "G":
			m.Cursor = m.rows() - 1
		}
		m.clamp()
	case tea.WindowSizeMsg:
		m.Height = max(msg.Height-10, 5)
		m.clamp()
	}
	return m, nil
}

func (m WatchModel) rows() int {
	if m.Current == nil || m.Current.Snapshot == nil {
		return 0
	}
	return len(m.Current.Snapshot.Nodes)
}

// clamp keeps the cursor on a live row and inside the visible window.
func (m *WatchModel) clamp() {
	n := m.rows()
	m.Cursor = max(min(m.Cursor, n-1), 0)
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
	if m.Cursor >= m.Offset+m.Height {
		m.Offset = m.Cursor - m.Height + 1
	}
	m.Offset = max(min(m.Offset, n-m.Height), 0)
}

func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("pipescope"))
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  producers %s  http %s", m.Listen, m.HTTP)))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  q quit"))
	b.WriteString("\n\n")

	if m.Current == nil || m.Current.Snapshot == nil {
		b.WriteString(listDimStyle.Render("  waiting for the first view"))
		return b.String()
	}

	b.WriteString(statusLine(m.Current.Status))
	b.WriteString("\n\n")

	snap := m.Current.Snapshot
	if snap.Empty() {
		b.WriteString(listDimStyle.Render("  no nodes"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.nodeTable(snap))
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(snap.Nodes))))
		b.WriteString("\n")
	}

	if n := len(snap.Pending); n > 0 {
		b.WriteString("\n")
		b.WriteString(StyleWarning.Render(fmt.Sprintf("%s %d pending %s", iconWarning, n, plural(n, "edge", "edges"))))
		b.WriteString("\n")
		for _, p := range snap.Pending[:min(n, 3)] {
			b.WriteString(listDimStyle.Render(fmt.Sprintf("  %d %s %d  %s", p.Output, iconArrow, p.Input, p.Reason)))
			b.WriteString("\n")
		}
	}
	if l := m.Current.Layout; l != nil && len(l.Anomalies) > 0 {
		b.WriteString(StyleWarning.Render(fmt.Sprintf("%s layout fallback: %s", iconWarning, l.Anomalies[0])))
		b.WriteString("\n")
	}
	return b.String()
}

func (m WatchModel) nodeTable(snap *model.Snapshot) string {
	end := min(m.Offset+m.Height, len(snap.Nodes))

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		n := snap.Nodes[i]
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		name := n.Name
		if name == "" {
			name = "#" + strconv.FormatUint(uint64(n.ID), 10)
		}
		if n.IsBin {
			name += "/"
		}
		container := "—"
		if c, ok := snap.Node(n.Container); ok {
			container = c.Name
		}
		layer := "—"
		if l := m.Current.Layout.Layer(n.ID); l >= 0 {
			layer = strconv.Itoa(l)
		}
		rows = append(rows, []string{cursor, name, orDash(n.Factory), n.State.String(), container, layer})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Node", "Factory", "State", "Bin", "Layer").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return listHeaderStyle
			}
			idx := m.Offset + row
			if idx >= len(snap.Nodes) {
				return lipgloss.NewStyle()
			}
			base := lipgloss.NewStyle()
			if col == 3 {
				if s, ok := stateStyles[snap.Nodes[idx].State]; ok {
					base = s
				}
			} else if col >= 4 {
				base = base.Foreground(colorDim)
			}
			if idx == m.Cursor {
				return base.Bold(true)
			}
			return base
		})
	return t.Render()
}

// statusLine summarizes the mirror on one line.
func statusLine(s replica.Status) string {
	conn := styleIconError.Render(iconError) + " no producer"
	if s.Connected() {
		n := len(s.Producers)
		conn = styleIconSuccess.Render(iconSuccess) + fmt.Sprintf(" %d %s", n, plural(n, "producer", "producers"))
	}
	parts := []string{
		conn,
		fmt.Sprintf("%d entities", s.Entities),
		fmt.Sprintf("%d applied", s.Applied),
		fmt.Sprintf("%d relayouts", s.Relayouts),
	}
	if s.Violations > 0 {
		parts = append(parts, StyleWarning.Render(fmt.Sprintf("%d violations", s.Violations)))
	}
	if s.Resyncs > 0 {
		parts = append(parts, fmt.Sprintf("%d resyncs", s.Resyncs))
	}
	return "  " + strings.Join(parts, StyleDim.Render(" · "))
}

// runWatch shows r in the terminal until the user quits or ctx is canceled.
func runWatch(ctx context.Context, r *replica.Replica, cfg Config) error {
	p := tea.NewProgram(NewWatchModel(r.View(), cfg), tea.WithContext(ctx), tea.WithAltScreen())

	views, cancel := r.Subscribe()
	defer cancel()
	fwdCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		for {
			select {
			case <-fwdCtx.Done():
				return
			case v := <-views:
				p.Send(viewMsg{v})
			}
		}
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// =============================================================================
// Helpers
// =============================================================================

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func formatRelativeTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
