package geom

import (
	"errors"
	"fmt"
	"math"
)

// MinExtent is the smallest width or height a published highlight may have.
const MinExtent = 2.0

// ErrInvalidChunk reports a chunk that cannot be mapped onto a page.
var ErrInvalidChunk = errors.New("invalid chunk")

// Rect is an axis-aligned box with a top-left origin.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Contains reports whether o lies inside r, allowing slack on every edge.
func (r Rect) Contains(o Rect, slack float64) bool {
	return o.Left >= r.Left-slack &&
		o.Top >= r.Top-slack &&
		o.Right() <= r.Right()+slack &&
		o.Bottom() <= r.Bottom()+slack
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// NormBox is a bounding box scaled to [0,1] against a page's width and height.
type NormBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Validate checks the unit-square bounds and edge ordering. Zero-area boxes
// are allowed.
func (b NormBox) Validate() error {
	for _, v := range []float64{b.X0, b.Y0, b.X1, b.Y1} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: coordinate %v outside [0,1]", ErrInvalidChunk, v)
		}
	}
	if b.X1 < b.X0 || b.Y1 < b.Y0 {
		return fmt.Errorf("%w: inverted box (%v,%v,%v,%v)", ErrInvalidChunk, b.X0, b.Y0, b.X1, b.Y1)
	}
	return nil
}

// Chunk is a region of interest on one page.
type Chunk struct {
	ID    string  `json:"id"`
	Page  int     `json:"page"`
	BBox  NormBox `json:"bbox"`
	Label string  `json:"label,omitempty"`
}

func (c Chunk) Validate() error {
	if c.Page < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalidChunk, c.Page)
	}
	return c.BBox.Validate()
}

// PixelRect is a highlight box positioned relative to the viewport origin.
type PixelRect struct {
	ID     string  `json:"id"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Page   int     `json:"page"`
}

func (p PixelRect) Rect() Rect {
	return Rect{Left: p.Left, Top: p.Top, Width: p.Width, Height: p.Height}
}
