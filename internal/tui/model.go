package tui

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/csheth/chunkview/internal/chunks"
	"github.com/csheth/chunkview/internal/geom"
	"github.com/csheth/chunkview/internal/highlight"
	"github.com/csheth/chunkview/internal/registry"
	"github.com/csheth/chunkview/internal/surface"
)

// Config wires runtime options into the TUI program.
type Config struct {
	// Document is loaded on start when set.
	Document string
	Catalog  *chunks.Catalog
	Provider surface.Provider
	Workers  int

	FrameInterval  time.Duration
	SettleDelay    time.Duration
	ScrollDuration time.Duration
	ReducedMotion  bool
	CellAspect     float64
	PageGap        int

	// OnReady runs once, after the first document loads.
	OnReady func(ReadyInfo)
	// Publish receives every published highlight set. It is called on the
	// event loop and must not block.
	Publish func([]geom.PixelRect)
}

// New returns a tea.Model ready to be mounted into a Program.
func New(config Config) tea.Model {
	if config.Provider == nil {
		config.Provider = surface.NewPDFProvider(surface.Options{Workers: config.Workers})
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = 16 * time.Millisecond
	}

	openInput := textinput.New()
	openInput.Placeholder = "path, URL or arXiv id"
	openInput.CharLimit = 512
	openInput.Width = 60

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true

	m := &model{
		config:      config,
		stage:       stageIdle,
		keys:        defaultKeyMap(),
		help:        help.New(),
		spinner:     spin,
		viewport:    vp,
		openInput:   openInput,
		layout:      newPageLayout(),
		board:       newBoard(config.CellAspect, config.PageGap),
		sched:       newTeaScheduler(config.FrameInterval),
		jobs:        newJobBus(),
		tracker:     newJobTracker(),
		now:         time.Now,
		infoMessage: "Press o to open a document.",
	}
	m.sync = highlight.NewSynchronizer(highlight.Options{
		Scheduler:     m.sched,
		Surface:       m,
		Scroller:      m,
		Layout:        m.board,
		Publish:       m.onPublish,
		SettleDelay:   config.SettleDelay,
		ReducedMotion: config.ReducedMotion,
	})
	return m
}

type model struct {
	config Config
	stage  stage

	keys      keyMap
	help      help.Model
	spinner   spinner.Model
	viewport  viewport.Model
	openInput textinput.Model
	layout    pageLayout

	board   *board
	sched   *teaScheduler
	sync    *highlight.Synchronizer
	loader  surface.Loader
	loadCtx context.Context
	jobs    *jobBus
	tracker *jobTracker
	outbox  []tea.Cmd
	now     func() time.Time

	doc        surface.Document
	ref        surface.Ref
	loading    bool
	rendering  bool
	rendered   int
	readyFired bool
	published  []geom.PixelRect
	scroll     scrollAnimation

	infoMessage  string
	errorMessage string
	helpVisible  bool
	closed       bool
}

func (m *model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if strings.TrimSpace(m.config.Document) != "" {
		cmds = append(cmds, m.openDocument(m.config.Document))
	}
	return m.withScheduled(tea.Batch(cmds...))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmd := m.update(msg)
	return m, m.withScheduled(cmd)
}

// withScheduled appends the commands queued by the scheduler and the scroll
// animator during this update.
func (m *model) withScheduled(cmd tea.Cmd) tea.Cmd {
	queued := append(m.sched.drain(), m.outbox...)
	m.outbox = nil
	if len(queued) == 0 {
		return cmd
	}
	return tea.Batch(append(queued, cmd)...)
}

func (m *model) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case frameMsg:
		m.sched.runFrame(msg)
		return nil
	case delayMsg:
		m.sched.runDelay(msg)
		return nil
	case scrollTickMsg:
		m.stepScroll(msg)
		return nil
	case spinner.TickMsg:
		if m.stage == stageLoading || m.rendering {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return cmd
		}
		return nil
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		before := m.viewport.YOffset
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		if m.viewport.YOffset != before {
			m.scroll.stop()
			m.sync.Scrolled()
		}
		return cmd
	case SelectMsg:
		m.selectChunk(msg.Chunk, true)
		return nil
	case OpenMsg:
		return m.openDocument(msg.Ref)
	case jobSignalMsg:
		m.tracker.record(msg.Snapshot)
		return nil
	case jobResultEnvelope:
		m.tracker.record(msg.Snapshot)
		if msg.Payload == nil {
			return nil
		}
		return m.update(msg.Payload)
	case documentLoadedMsg:
		return m.handleDocumentLoaded(msg)
	case pageRenderedMsg:
		return m.handlePageRendered(msg)
	case renderFinishedMsg:
		if m.loader.Current(msg.ticket) && msg.err != nil {
			m.errorMessage = fmt.Sprintf("render error: %v", msg.err)
		}
		return nil
	}
	return nil
}

func (m *model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.stage == stageOpen {
		return m.handleOpenKey(msg)
	}
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.shutdown()
		return tea.Quit
	case key.Matches(msg, m.keys.Next):
		if m.config.Catalog.Len() == 0 {
			m.infoMessage = "No chunks loaded. Pass --chunks to enable navigation."
			return nil
		}
		m.selectChunk(m.config.Catalog.Next(), false)
	case key.Matches(msg, m.keys.Prev):
		if m.config.Catalog.Len() == 0 {
			m.infoMessage = "No chunks loaded. Pass --chunks to enable navigation."
			return nil
		}
		m.selectChunk(m.config.Catalog.Prev(), false)
	case key.Matches(msg, m.keys.Clear):
		m.config.Catalog.Reset()
		m.selectChunk(nil, false)
	case key.Matches(msg, m.keys.Open):
		m.stage = stageOpen
		m.openInput.SetValue("")
		m.openInput.Focus()
		return textinput.Blink
	case key.Matches(msg, m.keys.Top):
		m.ScrollTo(0, !m.config.ReducedMotion)
		m.infoMessage = "Jumped to top."
	case key.Matches(msg, m.keys.Bottom):
		m.ScrollTo(m.MaxScrollTop(), !m.config.ReducedMotion)
		m.infoMessage = "Jumped to bottom."
	case key.Matches(msg, m.keys.PrevPage):
		m.jumpPage(-1)
	case key.Matches(msg, m.keys.NextPage):
		m.jumpPage(1)
	case key.Matches(msg, m.keys.ScrollUp):
		m.userScroll(m.viewport.YOffset - 1)
	case key.Matches(msg, m.keys.ScrollDn):
		m.userScroll(m.viewport.YOffset + 1)
	case key.Matches(msg, m.keys.PageUp):
		m.userScroll(m.viewport.YOffset - m.viewport.Height)
	case key.Matches(msg, m.keys.PageDown):
		m.userScroll(m.viewport.YOffset + m.viewport.Height)
	case key.Matches(msg, m.keys.Help):
		m.helpVisible = !m.helpVisible
		m.help.ShowAll = m.helpVisible
		m.resize(m.layout.windowWidth, m.layout.windowHeight)
	}
	return nil
}

func (m *model) handleOpenKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.shutdown()
		return tea.Quit
	case tea.KeyEsc:
		m.openInput.Blur()
		m.stage = m.settledStage()
		m.infoMessage = "Open canceled."
		return nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.openInput.Value())
		m.openInput.Blur()
		m.stage = m.settledStage()
		if value == "" {
			m.infoMessage = "Open canceled."
			return nil
		}
		return m.openDocument(value)
	}
	var cmd tea.Cmd
	m.openInput, cmd = m.openInput.Update(msg)
	return cmd
}

func (m *model) settledStage() stage {
	switch {
	case m.loading && m.doc == nil:
		return stageLoading
	case m.doc != nil:
		return stageDisplay
	case m.errorMessage != "":
		return stageFailed
	default:
		return stageIdle
	}
}

// openDocument starts a load, superseding any load still in flight.
func (m *model) openDocument(raw string) tea.Cmd {
	ref, err := surface.ParseRef(raw)
	if err != nil {
		m.stage = stageFailed
		m.errorMessage = fmt.Sprintf("open failed: %v", err)
		return nil
	}
	ticket, ctx := m.loader.Begin(context.Background(), ref)
	// The previous pages stay on screen until the new load lands, but nothing
	// may resolve against them any more.
	m.sync.SetRegistry(nil)
	m.ref = ref
	m.loadCtx = ctx
	m.loading = true
	m.rendering = false
	if m.doc == nil {
		m.stage = stageLoading
	}
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Loading %s…", documentTitle(ref))
	log.Printf("[tui] load %s (generation %d)", ref.Location, ticket.Generation)
	return tea.Batch(m.jobs.Start(ctx, jobKindLoad, loadDocumentJob(m.config.Provider, ticket)), m.spinner.Tick)
}

func (m *model) handleDocumentLoaded(msg documentLoadedMsg) tea.Cmd {
	if !m.loader.Current(msg.ticket) {
		log.Printf("[tui] dropping stale load of %s (generation %d)", msg.ticket.Ref.Location, msg.ticket.Generation)
		if msg.doc != nil {
			_ = msg.doc.Close()
		}
		return nil
	}
	m.loading = false
	if msg.err != nil {
		m.loader.Finish(msg.ticket)
		m.releaseDocument()
		m.board.clear()
		m.syncViewportContent()
		m.sync.SetRegistry(nil)
		m.stage = stageFailed
		m.errorMessage = fmt.Sprintf("load failed: %v", msg.err)
		m.infoMessage = "Press o to open another document."
		return nil
	}

	m.releaseDocument()
	m.doc = msg.doc
	count := msg.doc.PageCount()
	sizes := make([]surface.Size, count)
	for i := range sizes {
		size, err := msg.doc.PageSize(i + 1)
		if err != nil {
			log.Printf("[tui] page %d size: %v", i+1, err)
		}
		sizes[i] = size
	}
	generation := msg.ticket.Generation
	m.board.reset(generation, sizes)
	m.syncViewportContent()
	m.scroll.stop()
	m.setScroll(0)
	m.sync.SetRegistry(registry.Sequential(generation, count, func(page int) registry.SurfaceID {
		return registry.SurfaceID(fmt.Sprintf("%d:%d", generation, page))
	}))

	m.stage = stageDisplay
	m.rendering = true
	m.rendered = 0
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Loaded %s (%d pages). Rendering…", documentTitle(msg.ticket.Ref), count)
	if !m.readyFired {
		m.readyFired = true
		if m.config.OnReady != nil {
			m.config.OnReady(ReadyInfo{PageCount: count})
		}
	}

	updates := make(chan pageResult, count)
	return tea.Batch(
		m.jobs.Start(m.loadCtx, jobKindRender, renderPagesJob(msg.doc, m.config.Workers, msg.ticket, updates)),
		waitForPage(msg.ticket, updates),
		m.spinner.Tick,
	)
}

func (m *model) handlePageRendered(msg pageRenderedMsg) tea.Cmd {
	if !m.loader.Current(msg.ticket) {
		return nil
	}
	if msg.done {
		m.rendering = false
		m.loader.Finish(msg.ticket)
		m.infoMessage = fmt.Sprintf("Rendered %d of %d pages.", m.rendered, m.board.pageCount())
		return nil
	}
	failed := msg.err != nil
	if failed {
		log.Printf("[tui] page %d: %v", msg.page.Number, msg.err)
	}
	if m.board.markRendered(msg.page, failed) {
		m.rendered++
		m.syncViewportContent()
	}
	return waitForPage(msg.ticket, msg.updates)
}

func (m *model) releaseDocument() {
	if m.doc != nil {
		if err := m.doc.Close(); err != nil {
			log.Printf("[tui] close document: %v", err)
		}
		m.doc = nil
	}
}

// selectChunk hands the selection to the synchronizer. An external selection
// that is exactly a catalog entry moves the catalog cursor so n/p continue
// from there; anything else resets the cursor.
func (m *model) selectChunk(chunk *geom.Chunk, external bool) {
	if external {
		var entry geom.Chunk
		found := false
		if chunk != nil {
			entry, found = m.config.Catalog.Find(chunk.ID)
		}
		if found && entry == *chunk {
			m.config.Catalog.Seek(entry.ID)
		} else {
			m.config.Catalog.Reset()
		}
	}
	m.sync.Select(chunk)
	if chunk == nil {
		m.infoMessage = "Selection cleared."
		return
	}
	m.infoMessage = chunkLabel(chunk, m.config.Catalog)
	if m.doc != nil && chunk.Page > m.doc.PageCount() {
		m.infoMessage += fmt.Sprintf(" (document has %d pages)", m.doc.PageCount())
	}
}

func chunkLabel(chunk *geom.Chunk, catalog *chunks.Catalog) string {
	name := chunk.ID
	if chunk.Label != "" {
		name = chunk.Label
	}
	if pos := catalog.Position(); pos > 0 {
		return fmt.Sprintf("Chunk %d/%d: %s (p.%d)", pos, catalog.Len(), name, chunk.Page)
	}
	return fmt.Sprintf("Chunk %s (p.%d)", name, chunk.Page)
}

func (m *model) onPublish(rects []geom.PixelRect) {
	m.published = rects
	if m.config.Publish != nil {
		m.config.Publish(rects)
	}
}

func (m *model) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	extra := 0
	if m.helpVisible {
		extra = lipgloss.Height(m.helpPanel())
	}
	m.layout.Update(width, height, extra)
	m.viewport.Width = m.layout.viewportWidth
	m.viewport.Height = m.layout.viewportHeight
	m.help.Width = width
	m.board.setWidth(m.layout.viewportWidth)
	m.syncViewportContent()
	m.sync.Resized()
}

func (m *model) syncViewportContent() {
	m.viewport.SetContent(strings.Join(m.board.content(), "\n"))
}

// jumpPage scrolls to the previous or next page frame.
func (m *model) jumpPage(delta int) {
	if m.board.pageCount() == 0 {
		return
	}
	current := m.board.pageAt(m.viewport.YOffset)
	target := current + delta
	if target < 1 {
		target = 1
	}
	if target > m.board.pageCount() {
		target = m.board.pageCount()
	}
	slot := m.board.slot(target)
	m.ScrollTo(float64(slot.top), !m.config.ReducedMotion)
	m.infoMessage = fmt.Sprintf("Page %d of %d.", target, m.board.pageCount())
}

func (m *model) shutdown() {
	if m.closed {
		return
	}
	m.closed = true
	m.sync.Close()
	m.loader.Cancel()
	m.releaseDocument()
}

// ViewportBox reports the scroll container in screen cells.
func (m *model) ViewportBox() (geom.Rect, bool) {
	if m.viewport.Width <= 0 || m.viewport.Height <= 0 {
		return geom.Rect{}, false
	}
	return geom.Rect{Left: 0, Top: headerHeight, Width: float64(m.viewport.Width), Height: float64(m.viewport.Height)}, true
}

// PageBox reports the drawable area of a rendered page in screen cells.
// Pages of a superseded load generation, or not rendered yet, have no box.
func (m *model) PageBox(view registry.PageView) (geom.Rect, bool) {
	if view.Generation != m.loader.Generation() || view.Generation != m.board.generation {
		return geom.Rect{}, false
	}
	slot := m.board.slot(view.Page)
	if slot == nil || !slot.rendered {
		return geom.Rect{}, false
	}
	left, top, width, height := slot.inner()
	return geom.Rect{
		Left:   float64(left),
		Top:    float64(headerHeight + top - m.viewport.YOffset),
		Width:  float64(width),
		Height: float64(height),
	}, true
}

func (m *model) ScrollTop() float64 {
	return float64(m.viewport.YOffset)
}

func (m *model) MaxScrollTop() float64 {
	limit := m.board.totalRows() - m.viewport.Height
	if limit < 0 {
		return 0
	}
	return float64(limit)
}

// Close releases the document and stops highlight tracking.
func (m *model) Close() {
	m.shutdown()
}
