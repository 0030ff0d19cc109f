package highlight

import (
	"sort"
	"time"
)

// Cancel revokes a scheduled callback. Calling it after the callback ran, or
// more than once, is a no-op.
type Cancel func()

// Scheduler delivers deferred callbacks on the caller's event loop. Frame
// callbacks run at the next display-frame boundary; delay callbacks run once
// the duration has elapsed. Callbacks never run concurrently with each other
// or with the code that scheduled them.
type Scheduler interface {
	AfterFrame(fn func()) Cancel
	AfterDelay(d time.Duration, fn func()) Cancel
}

type manualTask struct {
	seq       int
	due       time.Duration
	fn        func()
	cancelled bool
}

// ManualScheduler is a deterministic Scheduler driven explicitly by Frame and
// Advance. It backs the headless inspect command and the tests.
type ManualScheduler struct {
	now    time.Duration
	seq    int
	frames []*manualTask
	timers []*manualTask
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) AfterFrame(fn func()) Cancel {
	s.seq++
	task := &manualTask{seq: s.seq, fn: fn}
	s.frames = append(s.frames, task)
	return func() { task.cancelled = true }
}

func (s *ManualScheduler) AfterDelay(d time.Duration, fn func()) Cancel {
	if d < 0 {
		d = 0
	}
	s.seq++
	task := &manualTask{seq: s.seq, due: s.now + d, fn: fn}
	s.timers = append(s.timers, task)
	return func() { task.cancelled = true }
}

// Frame runs the frame callbacks queued before the call. Callbacks queued
// while the frame runs wait for the next one. It returns how many ran.
func (s *ManualScheduler) Frame() int {
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

// Advance moves the clock forward and fires due timers in deadline order.
func (s *ManualScheduler) Advance(d time.Duration) int {
	target := s.now + d
	ran := 0
	for {
		next := s.nextDue(target)
		if next == nil {
			break
		}
		s.now = next.due
		next.cancelled = true
		next.fn()
		ran++
	}
	s.now = target
	s.compact()
	return ran
}

func (s *ManualScheduler) nextDue(limit time.Duration) *manualTask {
	var candidates []*manualTask
	for _, task := range s.timers {
		if !task.cancelled && task.due <= limit {
			candidates = append(candidates, task)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].due == candidates[j].due {
			return candidates[i].seq < candidates[j].seq
		}
		return candidates[i].due < candidates[j].due
	})
	return candidates[0]
}

func (s *ManualScheduler) compact() {
	live := s.timers[:0]
	for _, task := range s.timers {
		if !task.cancelled {
			live = append(live, task)
		}
	}
	s.timers = live
}

// Pending reports the number of live frame and timer callbacks.
func (s *ManualScheduler) Pending() (frames, timers int) {
	for _, task := range s.frames {
		if !task.cancelled {
			frames++
		}
	}
	for _, task := range s.timers {
		if !task.cancelled {
			timers++
		}
	}
	return frames, timers
}

// Now returns the simulated clock.
func (s *ManualScheduler) Now() time.Duration {
	return s.now
}
