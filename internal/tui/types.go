package tui

import (
	"github.com/csheth/chunkview/internal/geom"
	"github.com/csheth/chunkview/internal/surface"
)

type stage int

const (
	stageIdle stage = iota
	stageLoading
	stageDisplay
	stageFailed
	stageOpen
)

const heroTagline = "Follow chunks across the page."

const (
	minViewportWidth  = 24
	minViewportHeight = 4
	// headerHeight is the number of rows View draws above the viewport.
	headerHeight = 2
	// footerHeight covers the status bar and the message line.
	footerHeight = 2
	pageMargin   = 2
	minPageWidth = 12
)

// ReadyInfo is passed to Config.OnReady after the first successful load.
type ReadyInfo struct {
	PageCount int
}

type documentLoadedMsg struct {
	ticket surface.Ticket
	doc    surface.Document
	err    error
}

// pageRenderedMsg carries one rendered page and the stream to read the next
// one from. A closed stream ends with done set.
type pageRenderedMsg struct {
	ticket  surface.Ticket
	page    surface.Page
	err     error
	done    bool
	updates <-chan pageResult
}

type pageResult struct {
	page surface.Page
	err  error
}

// frameMsg and delayMsg drive the tea-backed scheduler.
type frameMsg struct{ seq uint64 }

type delayMsg struct{ id uint64 }

type scrollTickMsg struct{ id uint64 }

// SelectMsg changes the highlighted chunk from outside the program, e.g. the
// overlay server through Program.Send. A nil Chunk clears the selection.
type SelectMsg struct {
	Chunk *geom.Chunk
}

// OpenMsg asks the viewer to load another document.
type OpenMsg struct {
	Ref string
}
