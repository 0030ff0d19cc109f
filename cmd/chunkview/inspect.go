package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/csheth/chunkview/internal/geom"
	"github.com/csheth/chunkview/internal/highlight"
	"github.com/csheth/chunkview/internal/registry"
	"github.com/csheth/chunkview/internal/surface"
)

type inspectOptions struct {
	chunkID    string
	width      float64
	height     float64
	gap        float64
	noProgress bool
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <document>",
		Short: "Render a document headless and print where each chunk is highlighted",
		Long: `inspect loads and renders a document without a terminal UI, stacks the
pages in a virtual viewport of --width by --height pixels and reports the
highlight rectangle the synchronizer publishes for every catalog chunk.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root, opts, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.chunkID, "chunk", "", "only report this chunk id")
	flags.Float64Var(&opts.width, "width", 600, "page width in pixels")
	flags.Float64Var(&opts.height, "height", 800, "viewport height in pixels")
	flags.Float64Var(&opts.gap, "gap", 16, "vertical gap between pages in pixels")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "hide the render progress bar")
	return cmd
}

func runInspect(ctx context.Context, out, errOut io.Writer, root *rootOptions, opts *inspectOptions, document string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.width <= 0 || opts.height <= 0 {
		return fmt.Errorf("width and height must be positive")
	}
	cfg, err := loadSettings(root, document)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	catalog, err := loadCatalog(cfg.Chunks)
	if err != nil {
		return err
	}
	selected := catalog.All()
	if opts.chunkID != "" {
		chunk, ok := catalog.Find(opts.chunkID)
		if !ok {
			return fmt.Errorf("unknown chunk %q", opts.chunkID)
		}
		selected = []geom.Chunk{chunk}
	}

	ref, err := surface.ParseRef(cfg.Document)
	if err != nil {
		return err
	}
	doc, err := newProvider(cfg).Load(ctx, ref)
	if err != nil {
		return err
	}
	defer doc.Close()

	count := doc.PageCount()
	sizes := make([]surface.Size, count)
	for i := range sizes {
		if sizes[i], err = doc.PageSize(i + 1); err != nil {
			return err
		}
	}
	board := newPixelBoard(1, sizes, opts.width, opts.height, opts.gap)

	progressOut := errOut
	if opts.noProgress {
		progressOut = io.Discard
	}
	bar := progressbar.NewOptions(count,
		progressbar.OptionSetWriter(progressOut),
		progressbar.OptionSetDescription("Rendering pages"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	var mu sync.Mutex
	failures := make(map[int]error)
	renderErr := surface.RenderAll(ctx, doc, cfg.Workers, func(page surface.Page, err error) {
		mu.Lock()
		if err != nil {
			failures[page.Number] = err
		} else {
			board.rendered[page.Number] = true
		}
		mu.Unlock()
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	if ctx.Err() != nil {
		return renderErr
	}

	sched := highlight.NewManualScheduler()
	var published []geom.PixelRect
	syncer := highlight.NewSynchronizer(highlight.Options{
		Scheduler:     sched,
		Surface:       board,
		Scroller:      board,
		Publish:       func(rects []geom.PixelRect) { published = rects },
		SettleDelay:   cfg.SettleDelay,
		ReducedMotion: true,
	})
	defer syncer.Close()
	board.onScroll = syncer.Scrolled
	syncer.SetRegistry(registry.Sequential(board.generation, count, func(page int) registry.SurfaceID {
		return registry.SurfaceID(fmt.Sprintf("page-%d", page))
	}))
	settle(sched, cfg.SettleDelay)

	fmt.Fprintf(out, "%s: %d page(s), viewport %.0fx%.0f\n", ref.Location, count, opts.width, opts.height)
	for i, size := range sizes {
		status := "ok"
		if err, failed := failures[i+1]; failed {
			status = fmt.Sprintf("failed: %v", err)
		}
		box := board.pages[i]
		fmt.Fprintf(out, "  p.%-3d %4.0fx%-4.0fpt  box %s  %s\n", i+1, size.Width, size.Height, formatRect(box), status)
	}

	if len(selected) == 0 {
		fmt.Fprintln(out, "no chunks (pass --chunks)")
		return nil
	}
	fmt.Fprintln(out, "chunks:")
	for i := range selected {
		chunk := selected[i]
		syncer.Select(&chunk)
		settle(sched, cfg.SettleDelay)
		if len(published) == 0 {
			fmt.Fprintf(out, "  %s p.%d  not visible\n", chunk.ID, chunk.Page)
			continue
		}
		fmt.Fprintf(out, "  %s p.%d  rect %s  scroll %.1f\n", chunk.ID, chunk.Page, formatRect(published[0].Rect()), board.scrollTop)
	}
	stats := syncer.Stats()
	fmt.Fprintf(out, "frames=%d maps=%d publishes=%d scrolls=%d\n", stats.Frames, stats.MapCalls, stats.Publishes, stats.Scrolls)
	return nil
}

// settle runs frames and settle timers until nothing is scheduled.
func settle(sched *highlight.ManualScheduler, delay time.Duration) {
	if delay <= 0 {
		delay = highlight.DefaultSettleDelay
	}
	for i := 0; i < 100; i++ {
		if sched.Frame() > 0 {
			continue
		}
		if sched.Advance(delay) == 0 {
			return
		}
	}
}

func formatRect(r geom.Rect) string {
	return fmt.Sprintf("%.1f,%.1f %.1fx%.1f", r.Left, r.Top, r.Width, r.Height)
}

// pixelBoard stacks pages at a fixed width inside a virtual viewport. It
// stands in for the terminal board when there is no screen.
type pixelBoard struct {
	generation uint64
	viewport   geom.Rect
	pages      []geom.Rect
	rendered   map[int]bool
	content    float64
	scrollTop  float64
	onScroll   func()
}

func newPixelBoard(generation uint64, sizes []surface.Size, width, height, gap float64) *pixelBoard {
	b := &pixelBoard{
		generation: generation,
		viewport:   geom.Rect{Width: width, Height: height},
		pages:      make([]geom.Rect, len(sizes)),
		rendered:   make(map[int]bool, len(sizes)),
	}
	top := 0.0
	for i, size := range sizes {
		if size.Width <= 0 || size.Height <= 0 {
			size = surface.Size{Width: 612, Height: 792}
		}
		pageHeight := width * size.Height / size.Width
		b.pages[i] = geom.Rect{Top: top, Width: width, Height: pageHeight}
		top += pageHeight + gap
	}
	if len(sizes) > 0 {
		top -= gap
	}
	b.content = top
	return b
}

func (b *pixelBoard) ViewportBox() (geom.Rect, bool) {
	return b.viewport, true
}

func (b *pixelBoard) PageBox(view registry.PageView) (geom.Rect, bool) {
	if view.Generation != b.generation || view.Page < 1 || view.Page > len(b.pages) || !b.rendered[view.Page] {
		return geom.Rect{}, false
	}
	box := b.pages[view.Page-1]
	box.Top -= b.scrollTop
	return box, true
}

func (b *pixelBoard) ScrollTop() float64 {
	return b.scrollTop
}

func (b *pixelBoard) MaxScrollTop() float64 {
	return math.Max(0, b.content-b.viewport.Height)
}

func (b *pixelBoard) ScrollTo(top float64, _ bool) {
	top = math.Min(math.Max(0, top), b.MaxScrollTop())
	if top == b.scrollTop {
		return
	}
	b.scrollTop = top
	if b.onScroll != nil {
		b.onScroll()
	}
}
