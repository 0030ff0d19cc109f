package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	taglineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#c8b6a6")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helperStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("190"))
	statusBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6")).Padding(0, 1)
	helpBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#7f5af0")).Padding(0, 1)
)

// View draws the header, the page board, the status bar and the message
// line, plus the help panel when toggled. The board always occupies
// exactly the viewport rows so screen geometry matches ViewportBox.
func (m *model) View() string {
	parts := []string{m.headerView(), m.boardView(), m.statusView(), m.messageView()}
	if m.helpVisible {
		parts = append(parts, m.helpPanel())
	}
	return strings.Join(parts, "\n")
}

func (m *model) screenWidth() int {
	if m.layout.windowWidth > 0 {
		return m.layout.windowWidth
	}
	return m.viewport.Width
}

func (m *model) headerView() string {
	width := uint(m.screenWidth())
	title := "chunkview"
	if m.doc != nil {
		title = fmt.Sprintf("chunkview · %s", documentTitle(m.doc.Ref()))
	}
	subtitle := heroTagline
	if m.doc != nil {
		subtitle = fmt.Sprintf("%d pages · page %d in view", m.board.pageCount(), m.board.pageAt(m.viewport.YOffset))
		if chunk := m.sync.Selected(); chunk != nil {
			subtitle += " · " + chunkLabel(chunk, m.config.Catalog)
		}
	}
	return titleStyle.Render(truncate.String(title, width)) + "\n" + taglineStyle.Render(truncate.String(subtitle, width))
}

func (m *model) boardView() string {
	if m.board.pageCount() == 0 {
		placeholder := "No document loaded. Press o to open one."
		switch m.stage {
		case stageLoading:
			placeholder = fmt.Sprintf("%s Loading %s…", m.spinner.View(), documentTitle(m.ref))
		case stageFailed:
			placeholder = "Nothing to show."
		}
		return lipgloss.NewStyle().
			Width(m.viewport.Width).
			Height(m.viewport.Height).
			MaxHeight(m.viewport.Height).
			Render(helperStyle.Render(placeholder))
	}
	m.viewport.SetContent(m.paintedContent())
	return m.viewport.View()
}

type span struct {
	start int
	end   int
}

// highlightSpans converts the published rects into board rows and columns.
// Rects are viewport-relative, so the current scroll offset is added back.
func (m *model) highlightSpans() map[int]span {
	spans := make(map[int]span)
	for _, rect := range m.published {
		top := int(math.Floor(rect.Top)) + m.viewport.YOffset
		bottom := int(math.Ceil(rect.Top+rect.Height)) + m.viewport.YOffset
		left := int(math.Floor(rect.Left))
		right := int(math.Ceil(rect.Left + rect.Width))
		for row := top; row < bottom; row++ {
			spans[row] = span{start: left, end: right}
		}
	}
	return spans
}

// paintedContent styles the highlighted cells of the visible rows only.
func (m *model) paintedContent() string {
	lines := m.board.content()
	spans := m.highlightSpans()
	if len(spans) == 0 {
		return strings.Join(lines, "\n")
	}
	top, bottom := m.viewport.YOffset, m.viewport.YOffset+m.viewport.Height
	out := make([]string, len(lines))
	for i, line := range lines {
		sp, ok := spans[i]
		if !ok || i < top || i >= bottom {
			out[i] = line
			continue
		}
		out[i] = paintLine(line, sp)
	}
	return strings.Join(out, "\n")
}

func paintLine(line string, sp span) string {
	runes := []rune(line)
	start, end := sp.start, sp.end
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return line
	}
	return string(runes[:start]) + highlightStyle.Render(string(runes[start:end])) + string(runes[end:])
}

func (m *model) statusView() string {
	stats := []string{m.stageLabel()}
	if count := m.board.pageCount(); count > 0 {
		stats = append(stats, fmt.Sprintf("rendered %d/%d", m.rendered, count))
	}
	if total := m.config.Catalog.Len(); total > 0 {
		stats = append(stats, fmt.Sprintf("chunk %d/%d", m.config.Catalog.Position(), total))
	}
	stats = append(stats, fmt.Sprintf("highlight %s", m.sync.State()))
	if len(m.published) > 0 {
		stats = append(stats, "on screen")
	}
	stats = append(stats, m.jobStatusBadges()...)
	return statusBarStyle.Copy().MaxWidth(m.screenWidth()).Render(strings.Join(stats, "  •  "))
}

func (m *model) stageLabel() string {
	switch m.stage {
	case stageLoading:
		return "loading"
	case stageDisplay:
		if m.rendering {
			return "rendering"
		}
		return "ready"
	case stageFailed:
		return "failed"
	case stageOpen:
		return "open"
	default:
		return "idle"
	}
}

func (m *model) jobStatusBadges() []string {
	running := m.tracker.running()
	badges := make([]string, 0, len(running))
	for _, job := range running {
		elapsed := time.Since(job.StartedAt).Round(100 * time.Millisecond)
		badges = append(badges, fmt.Sprintf("%s %s", job.Kind, elapsed))
	}
	return badges
}

func (m *model) messageView() string {
	width := uint(m.screenWidth())
	switch {
	case m.stage == stageOpen:
		return "Open: " + m.openInput.View()
	case m.errorMessage != "":
		return errorStyle.Render(truncate.String(m.errorMessage, width))
	case m.infoMessage != "":
		message := m.infoMessage
		if m.stage == stageLoading || m.rendering {
			message = fmt.Sprintf("%s %s", m.spinner.View(), message)
		}
		return helperStyle.Render(truncate.String(message, width))
	}
	return ""
}

func (m *model) helpPanel() string {
	return helpBoxStyle.Render(m.help.View(m.keys))
}
