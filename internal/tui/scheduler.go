package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/chunkview/internal/highlight"
)

// teaScheduler implements highlight.Scheduler on top of the bubbletea loop.
// Scheduling only records a tea.Cmd in the outbox; the model drains it at the
// end of every Update and routes frameMsg/delayMsg back to fire callbacks.
type teaScheduler struct {
	interval time.Duration

	frameSeq     uint64
	framePending bool
	frames       []*scheduledFn

	nextID uint64
	timers map[uint64]*scheduledFn

	outbox []tea.Cmd
}

type scheduledFn struct {
	fn        func()
	cancelled bool
}

func newTeaScheduler(interval time.Duration) *teaScheduler {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &teaScheduler{interval: interval, timers: make(map[uint64]*scheduledFn)}
}

var _ highlight.Scheduler = (*teaScheduler)(nil)

func (s *teaScheduler) AfterFrame(fn func()) highlight.Cancel {
	task := &scheduledFn{fn: fn}
	s.frames = append(s.frames, task)
	if !s.framePending {
		s.framePending = true
		s.frameSeq++
		seq := s.frameSeq
		s.outbox = append(s.outbox, tea.Tick(s.interval, func(time.Time) tea.Msg {
			return frameMsg{seq: seq}
		}))
	}
	return func() { task.cancelled = true }
}

func (s *teaScheduler) AfterDelay(d time.Duration, fn func()) highlight.Cancel {
	s.nextID++
	id := s.nextID
	s.timers[id] = &scheduledFn{fn: fn}
	s.outbox = append(s.outbox, tea.Tick(d, func(time.Time) tea.Msg {
		return delayMsg{id: id}
	}))
	return func() { delete(s.timers, id) }
}

// runFrame fires the callbacks queued before this frame. Stale ticks from a
// superseded frame request are ignored.
func (s *teaScheduler) runFrame(msg frameMsg) int {
	if msg.seq != s.frameSeq || !s.framePending {
		return 0
	}
	s.framePending = false
	batch := s.frames
	s.frames = nil
	ran := 0
	for _, task := range batch {
		if task.cancelled {
			continue
		}
		task.cancelled = true
		task.fn()
		ran++
	}
	return ran
}

func (s *teaScheduler) runDelay(msg delayMsg) bool {
	task, ok := s.timers[msg.id]
	if !ok {
		return false
	}
	delete(s.timers, msg.id)
	task.fn()
	return true
}

// drain returns and clears the commands scheduled since the last call.
func (s *teaScheduler) drain() []tea.Cmd {
	cmds := s.outbox
	s.outbox = nil
	return cmds
}

func (s *teaScheduler) pending() (frames, timers int) {
	for _, task := range s.frames {
		if !task.cancelled {
			frames++
		}
	}
	return frames, len(s.timers)
}
