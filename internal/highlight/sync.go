package highlight

import (
	"log"
	"math"
	"time"

	"github.com/csheth/chunkview/internal/geom"
	"github.com/csheth/chunkview/internal/registry"
)

const (
	DefaultSettleDelay     = 50 * time.Millisecond
	DefaultCenterThreshold = 0.5
)

// State is the synchronizer's position in its per-session lifecycle.
type State int

const (
	StateIdle State = iota
	StatePending
	StateSettled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSettled:
		return "settled"
	default:
		return "idle"
	}
}

// Surface is the live geometry of the scroll container and its pages.
type Surface interface {
	Geometry
	ScrollTop() float64
	MaxScrollTop() float64
}

// Scroller moves the scroll container. Implementations clamp the target.
type Scroller interface {
	ScrollTo(top float64, smooth bool)
}

// LayoutSource notifies subscribers when rendered content may have moved.
type LayoutSource interface {
	Subscribe(fn func()) (unsubscribe func())
}

// Options wires a Synchronizer to its collaborators. Scheduler and Surface are
// required; the rest are optional.
type Options struct {
	Scheduler Scheduler
	Surface   Surface
	Scroller  Scroller
	Layout    LayoutSource
	Publish   func([]geom.PixelRect)

	SettleDelay     time.Duration
	CenterThreshold float64
	ReducedMotion   bool
}

// Stats counts synchronizer work.
type Stats struct {
	Frames    int
	MapCalls  int
	Publishes int
	Scrolls   int
}

// Synchronizer keeps the published highlight aligned with the selected chunk
// while the viewport scrolls, resizes, and re-renders. All methods must be
// called from the event loop that drives the Scheduler.
type Synchronizer struct {
	opts Options

	selected *geom.Chunk
	registry *registry.Registry

	state         State
	cancelFrame   Cancel
	cancelSettle  Cancel
	unsubscribe   func()
	centerPending bool
	closed        bool

	published []geom.PixelRect
	stats     Stats
}

func NewSynchronizer(opts Options) *Synchronizer {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.CenterThreshold <= 0 {
		opts.CenterThreshold = DefaultCenterThreshold
	}
	s := &Synchronizer{opts: opts}
	if opts.Layout != nil {
		s.unsubscribe = opts.Layout.Subscribe(s.Mutated)
	}
	return s
}

// Select replaces the current selection. A nil chunk clears the published set
// right away and never scrolls.
func (s *Synchronizer) Select(chunk *geom.Chunk) {
	if s.closed {
		return
	}
	if chunk == nil {
		s.selected = nil
		s.centerPending = false
		s.cancelScheduled()
		s.publish(nil)
		s.state = StateIdle
		return
	}
	held := *chunk
	s.selected = &held
	s.centerPending = true
	s.requestFrame()
}

// Selected returns the latest selection, or nil.
func (s *Synchronizer) Selected() *geom.Chunk {
	if s.selected == nil {
		return nil
	}
	held := *s.selected
	return &held
}

// SetRegistry swaps in the registry of a new load. Passing nil disables
// resolution until the next successful load.
func (s *Synchronizer) SetRegistry(reg *registry.Registry) {
	if s.closed {
		return
	}
	s.registry = reg
	if reg != nil {
		log.Printf("[highlight] registry generation %d with %d page(s)", reg.Generation(), reg.Len())
	}
	if s.selected != nil {
		s.centerPending = true
	}
	s.requestFrame()
}

// Registry returns the registry currently used for resolution.
func (s *Synchronizer) Registry() *registry.Registry {
	return s.registry
}

// Scrolled reports a scroll of the container. It never re-arms centering so
// user scrolling is not fought.
func (s *Synchronizer) Scrolled() {
	if s.closed {
		return
	}
	s.requestFrame()
}

func (s *Synchronizer) Resized() {
	if s.closed {
		return
	}
	if s.selected != nil {
		s.centerPending = true
	}
	s.requestFrame()
}

// Mutated reports that rendered content may have changed layout. Bursts are
// debounced by the settle delay before a frame is requested.
func (s *Synchronizer) Mutated() {
	if s.closed {
		return
	}
	if s.cancelSettle != nil {
		s.cancelSettle()
	}
	s.state = StatePending
	s.cancelSettle = s.opts.Scheduler.AfterDelay(s.opts.SettleDelay, func() {
		s.cancelSettle = nil
		if s.selected != nil {
			s.centerPending = true
		}
		s.requestFrame()
	})
}

func (s *Synchronizer) requestFrame() {
	s.state = StatePending
	if s.cancelFrame != nil {
		return
	}
	s.cancelFrame = s.opts.Scheduler.AfterFrame(s.runFrame)
}

func (s *Synchronizer) runFrame() {
	s.cancelFrame = nil
	if s.closed {
		return
	}
	s.stats.Frames++
	s.stats.MapCalls++
	loc, ok := locate(s.selected, s.registry, s.opts.Surface)
	if !ok {
		s.publish(nil)
	} else {
		s.publish([]geom.PixelRect{loc.rect})
	}
	if s.cancelSettle == nil {
		if s.selected == nil {
			s.state = StateIdle
		} else {
			s.state = StateSettled
		}
	}
	if ok && s.centerPending {
		s.centerPending = false
		s.center(loc)
	}
}

func (s *Synchronizer) center(loc location) {
	if s.opts.Scroller == nil {
		return
	}
	current := s.opts.Surface.ScrollTop()
	offset := loc.page.Top - loc.viewport.Top + current
	target := offset - (loc.viewport.Height-loc.page.Height)/2
	if limit := s.opts.Surface.MaxScrollTop(); target > limit {
		target = limit
	}
	if target < 0 {
		target = 0
	}
	if math.Abs(target-current) < s.opts.CenterThreshold {
		return
	}
	s.stats.Scrolls++
	s.opts.Scroller.ScrollTo(target, !s.opts.ReducedMotion)
}

func (s *Synchronizer) publish(rects []geom.PixelRect) {
	s.published = rects
	s.stats.Publishes++
	if s.opts.Publish != nil {
		s.opts.Publish(append([]geom.PixelRect(nil), rects...))
	}
}

func (s *Synchronizer) cancelScheduled() {
	if s.cancelFrame != nil {
		s.cancelFrame()
		s.cancelFrame = nil
	}
	if s.cancelSettle != nil {
		s.cancelSettle()
		s.cancelSettle = nil
	}
}

// Published returns the last published rect set.
func (s *Synchronizer) Published() []geom.PixelRect {
	return append([]geom.PixelRect(nil), s.published...)
}

func (s *Synchronizer) State() State {
	return s.state
}

func (s *Synchronizer) Stats() Stats {
	return s.stats
}

// Close cancels scheduled work and detaches from the layout source. Later
// calls on the synchronizer are ignored.
func (s *Synchronizer) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancelScheduled()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.opts.Publish = nil
	s.state = StateIdle
}
