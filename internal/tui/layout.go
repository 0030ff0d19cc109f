package tui

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/csheth/chunkview/internal/surface"
)

type pageLayout struct {
	windowWidth    int
	windowHeight   int
	viewportWidth  int
	viewportHeight int
}

func newPageLayout() pageLayout {
	return pageLayout{viewportWidth: 80, viewportHeight: 20}
}

// Update sizes the viewport for a window, leaving room for the header, the
// footer and extraRows of optional chrome such as the help panel.
func (l *pageLayout) Update(width, height, extraRows int) {
	l.windowWidth = width
	l.windowHeight = height
	l.viewportWidth = width
	if l.viewportWidth < minViewportWidth {
		l.viewportWidth = minViewportWidth
	}
	usable := height - headerHeight - footerHeight - extraRows
	if usable < minViewportHeight {
		usable = minViewportHeight
	}
	l.viewportHeight = usable
}

// pageSlot is one page frame on the board, in content rows and columns.
type pageSlot struct {
	number   int
	size     surface.Size
	top      int
	left     int
	width    int
	height   int
	rendered bool
	failed   bool
	text     string
}

// inner is the area inside the frame border, where chunks are mapped.
func (s pageSlot) inner() (left, top, width, height int) {
	return s.left + 1, s.top + 1, s.width - 2, s.height - 2
}

// board stacks page frames vertically. Frame sizes follow each page's aspect
// ratio corrected for the terminal cell aspect.
type board struct {
	generation uint64
	slots      []pageSlot
	width      int
	cellAspect float64
	gap        int

	lines []string
	dirty bool

	subscribers map[int]func()
	nextSub     int
}

func newBoard(cellAspect float64, gap int) *board {
	if cellAspect <= 0 {
		cellAspect = 2
	}
	if gap < 0 {
		gap = 0
	}
	return &board{cellAspect: cellAspect, gap: gap, width: 80, dirty: true, subscribers: map[int]func(){}}
}

// Subscribe registers fn for layout mutations.
func (b *board) Subscribe(fn func()) func() {
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = fn
	return func() { delete(b.subscribers, id) }
}

func (b *board) notify() {
	for _, fn := range b.subscribers {
		fn()
	}
}

// reset lays out placeholder frames for a freshly loaded document.
func (b *board) reset(generation uint64, sizes []surface.Size) {
	b.generation = generation
	b.slots = make([]pageSlot, len(sizes))
	for i, size := range sizes {
		b.slots[i] = pageSlot{number: i + 1, size: size}
	}
	b.relayout()
	b.notify()
}

func (b *board) clear() {
	b.slots = nil
	b.relayout()
	b.notify()
}

func (b *board) setWidth(width int) {
	if width == b.width {
		return
	}
	b.width = width
	b.relayout()
}

// markRendered fills a frame with its page text. It reports false for pages
// outside the board.
func (b *board) markRendered(page surface.Page, failed bool) bool {
	slot := b.slot(page.Number)
	if slot == nil {
		return false
	}
	slot.rendered = !failed
	slot.failed = failed
	slot.text = page.Text
	if page.Size.Width > 0 && page.Size.Height > 0 && page.Size != slot.size {
		slot.size = page.Size
		b.relayout()
	}
	b.dirty = true
	b.notify()
	return true
}

func (b *board) slot(page int) *pageSlot {
	if page < 1 || page > len(b.slots) {
		return nil
	}
	return &b.slots[page-1]
}

func (b *board) frameWidth() int {
	width := b.width - 2*pageMargin
	if width < minPageWidth {
		width = minPageWidth
	}
	return width
}

func (b *board) relayout() {
	width := b.frameWidth()
	row := 0
	for i := range b.slots {
		slot := &b.slots[i]
		slot.left = pageMargin
		slot.width = width
		slot.height = frameHeight(width, slot.size, b.cellAspect)
		slot.top = row
		row += slot.height + b.gap
	}
	b.dirty = true
}

func frameHeight(width int, size surface.Size, cellAspect float64) int {
	if size.Width <= 0 || size.Height <= 0 {
		size = surface.Size{Width: 612, Height: 792}
	}
	height := int(math.Round(float64(width) * size.Height / size.Width / cellAspect))
	if height < 4 {
		height = 4
	}
	return height
}

// totalRows is the scrollable content height.
func (b *board) totalRows() int {
	if len(b.slots) == 0 {
		return 0
	}
	last := b.slots[len(b.slots)-1]
	return last.top + last.height
}

// content returns the plain board lines, rebuilding them when stale.
func (b *board) content() []string {
	if !b.dirty {
		return b.lines
	}
	b.dirty = false
	lines := make([]string, 0, b.totalRows())
	for i, slot := range b.slots {
		if i > 0 {
			for g := 0; g < b.gap; g++ {
				lines = append(lines, "")
			}
		}
		lines = append(lines, renderFrame(slot)...)
	}
	b.lines = lines
	return lines
}

func renderFrame(slot pageSlot) []string {
	margin := strings.Repeat(" ", slot.left)
	innerWidth := slot.width - 2
	innerHeight := slot.height - 2
	label := fmt.Sprintf("─ p.%d ", slot.number)
	if runewidth.StringWidth(label) > innerWidth {
		label = ""
	}
	lines := make([]string, 0, slot.height)
	lines = append(lines, margin+"┌"+label+strings.Repeat("─", innerWidth-runewidth.StringWidth(label))+"┐")

	body := make([]string, innerHeight)
	switch {
	case slot.failed:
		body[innerHeight/2] = centerText("render failed", innerWidth)
	case !slot.rendered:
		body[innerHeight/2] = centerText("rendering…", innerWidth)
	default:
		text := sanitizeText(slot.text)
		if strings.TrimSpace(text) != "" {
			wrapped := strings.Split(wordwrap.String(text, innerWidth), "\n")
			for i := 0; i < innerHeight && i < len(wrapped); i++ {
				body[i] = truncate.String(wrapped[i], uint(innerWidth))
			}
		}
	}
	for _, line := range body {
		lines = append(lines, margin+"│"+padRight(line, innerWidth)+"│")
	}
	lines = append(lines, margin+"└"+strings.Repeat("─", innerWidth)+"┘")
	return lines
}

// sanitizeText keeps single-cell printable runes so board columns line up.
func sanitizeText(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case unicode.IsSpace(r):
			return ' '
		case !unicode.IsPrint(r) || runewidth.RuneWidth(r) != 1:
			return '·'
		default:
			return r
		}
	}, text)
}

func padRight(text string, width int) string {
	gap := width - runewidth.StringWidth(text)
	if gap <= 0 {
		return text
	}
	return text + strings.Repeat(" ", gap)
}

func centerText(text string, width int) string {
	w := runewidth.StringWidth(text)
	if w >= width {
		return truncate.String(text, uint(width))
	}
	return strings.Repeat(" ", (width-w)/2) + text
}

func (b *board) pageCount() int {
	return len(b.slots)
}

// pageAt returns the page whose frame covers row, or the nearest one before
// it when row falls into a gap.
func (b *board) pageAt(row int) int {
	page := 0
	for _, slot := range b.slots {
		if slot.top > row {
			break
		}
		page = slot.number
	}
	if page == 0 && len(b.slots) > 0 {
		page = 1
	}
	return page
}
