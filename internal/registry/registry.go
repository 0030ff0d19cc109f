// Package registry maps page numbers to the rendered page surfaces of one
// document load.
package registry

import "sort"

// SurfaceID identifies a rendered page surface on the rendering side. It is
// opaque to the engine; geometry is always resolved through the surface.
type SurfaceID string

// PageView ties a page number to its surface for one load generation.
type PageView struct {
	Page       int
	Surface    SurfaceID
	Generation uint64
}

// Registry is an immutable snapshot. Replacing the registry means swapping the
// pointer; a nil *Registry behaves as an empty one.
type Registry struct {
	generation uint64
	views      []PageView
	byPage     map[int]int
}

// Build returns a complete registry for the given load generation. The
// surface callback names the surface handle of each page; duplicate page
// numbers keep the first occurrence and non-positive pages are skipped.
func Build(generation uint64, pages []int, surface func(page int) SurfaceID) *Registry {
	ordered := append([]int(nil), pages...)
	sort.Ints(ordered)
	r := &Registry{
		generation: generation,
		views:      make([]PageView, 0, len(ordered)),
		byPage:     make(map[int]int, len(ordered)),
	}
	for _, page := range ordered {
		if page < 1 {
			continue
		}
		if _, dup := r.byPage[page]; dup {
			continue
		}
		r.byPage[page] = len(r.views)
		r.views = append(r.views, PageView{
			Page:       page,
			Surface:    surface(page),
			Generation: generation,
		})
	}
	return r
}

// Sequential builds a registry for pages 1..count.
func Sequential(generation uint64, count int, surface func(page int) SurfaceID) *Registry {
	pages := make([]int, 0, count)
	for i := 1; i <= count; i++ {
		pages = append(pages, i)
	}
	return Build(generation, pages, surface)
}

func (r *Registry) Lookup(page int) (PageView, bool) {
	if r == nil {
		return PageView{}, false
	}
	idx, ok := r.byPage[page]
	if !ok {
		return PageView{}, false
	}
	return r.views[idx], true
}

// Pages returns the page views in ascending page order.
func (r *Registry) Pages() []PageView {
	if r == nil {
		return nil
	}
	return append([]PageView(nil), r.views...)
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.views)
}

func (r *Registry) Generation() uint64 {
	if r == nil {
		return 0
	}
	return r.generation
}
