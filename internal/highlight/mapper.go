package highlight

import (
	"math"

	"github.com/csheth/chunkview/internal/geom"
	"github.com/csheth/chunkview/internal/registry"
)

// Geometry answers live layout queries in one shared coordinate space.
// Either query may report false while the surface is not mounted or the page
// has not rendered yet.
type Geometry interface {
	ViewportBox() (geom.Rect, bool)
	PageBox(view registry.PageView) (geom.Rect, bool)
}

// Map converts the selected chunk into at most one viewport-relative rect.
// It re-queries geometry on every call and returns nil whenever anything is
// missing.
func Map(chunk *geom.Chunk, reg *registry.Registry, g Geometry) []geom.PixelRect {
	loc, ok := locate(chunk, reg, g)
	if !ok {
		return nil
	}
	return []geom.PixelRect{loc.rect}
}

type location struct {
	rect     geom.PixelRect
	viewport geom.Rect
	page     geom.Rect
}

func locate(chunk *geom.Chunk, reg *registry.Registry, g Geometry) (location, bool) {
	if chunk == nil || g == nil {
		return location{}, false
	}
	view, ok := reg.Lookup(chunk.Page)
	if !ok {
		return location{}, false
	}
	vp, ok := g.ViewportBox()
	if !ok {
		return location{}, false
	}
	page, ok := g.PageBox(view)
	if !ok {
		return location{}, false
	}
	box := chunk.BBox
	rect := geom.PixelRect{
		ID:     chunk.ID,
		Left:   page.Left - vp.Left + box.X0*page.Width,
		Top:    page.Top - vp.Top + box.Y0*page.Height,
		Width:  math.Max(geom.MinExtent, (box.X1-box.X0)*page.Width),
		Height: math.Max(geom.MinExtent, (box.Y1-box.Y0)*page.Height),
		Page:   chunk.Page,
	}
	return location{rect: rect, viewport: vp, page: page}, true
}
