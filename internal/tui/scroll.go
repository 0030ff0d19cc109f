package tui

import (
	"math"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// scrollAnimation eases the viewport towards a target offset, one step per
// frame interval. Each started animation gets a new id so ticks of an older
// one are ignored.
type scrollAnimation struct {
	id       uint64
	active   bool
	from     float64
	to       float64
	started  time.Time
	duration time.Duration
}

func (a *scrollAnimation) stop() {
	a.active = false
	a.id++
}

// ScrollTo moves the viewport to top, animated when smooth is set and a
// scroll duration is configured.
func (m *model) ScrollTo(top float64, smooth bool) {
	if limit := m.MaxScrollTop(); top > limit {
		top = limit
	}
	if top < 0 {
		top = 0
	}
	m.scroll.stop()
	if !smooth || m.config.ScrollDuration <= 0 {
		m.setScroll(int(math.Round(top)))
		return
	}
	m.scroll.active = true
	m.scroll.from = float64(m.viewport.YOffset)
	m.scroll.to = top
	m.scroll.started = m.now()
	m.scroll.duration = m.config.ScrollDuration
	m.queueScrollTick()
}

func (m *model) queueScrollTick() {
	id := m.scroll.id
	m.outbox = append(m.outbox, tea.Tick(m.config.FrameInterval, func(time.Time) tea.Msg {
		return scrollTickMsg{id: id}
	}))
}

func (m *model) stepScroll(msg scrollTickMsg) {
	if !m.scroll.active || msg.id != m.scroll.id {
		return
	}
	progress := float64(m.now().Sub(m.scroll.started)) / float64(m.scroll.duration)
	if progress >= 1 {
		progress = 1
	}
	eased := 1 - math.Pow(1-progress, 3)
	m.setScroll(int(math.Round(m.scroll.from + (m.scroll.to-m.scroll.from)*eased)))
	if progress >= 1 {
		m.scroll.active = false
		return
	}
	m.queueScrollTick()
}

// userScroll handles manual scrolling. It takes over from any animation.
func (m *model) userScroll(offset int) {
	m.scroll.stop()
	m.setScroll(offset)
}

func (m *model) setScroll(offset int) {
	before := m.viewport.YOffset
	m.viewport.SetYOffset(offset)
	if m.viewport.YOffset != before {
		m.sync.Scrolled()
	}
}
