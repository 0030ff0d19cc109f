// Package chunks loads chunk catalogs and tracks the navigation cursor over
// them.
package chunks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/csheth/chunkview/internal/geom"
)

// ErrInvalidChunk is returned for catalog entries that fail validation.
var ErrInvalidChunk = geom.ErrInvalidChunk

// record is the on-disk form of a chunk. The bbox is [x0, y0, x1, y1].
type record struct {
	ID    string    `json:"id,omitempty" yaml:"id,omitempty"`
	Page  int       `json:"page" yaml:"page"`
	BBox  []float64 `json:"bbox" yaml:"bbox"`
	Label string    `json:"label,omitempty" yaml:"label,omitempty"`
}

type document struct {
	Chunks []record `json:"chunks" yaml:"chunks"`
}

// Catalog is an ordered, validated list of chunks with a cursor. The cursor
// starts before the first chunk; Next and Prev wrap around.
type Catalog struct {
	chunks []geom.Chunk
	index  map[string]int
	cursor int
	source string
}

// Load reads a catalog from a .json, .yaml or .yml file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunks %s: %w", path, err)
	}
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	default:
		format = "json"
	}
	catalog, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse chunks %s: %w", path, err)
	}
	catalog.source = path
	return catalog, nil
}

// Parse decodes catalog bytes. The payload is either a list of chunks or an
// object with a "chunks" list.
func Parse(data []byte, format string) (*Catalog, error) {
	records, err := decode(data, format)
	if err != nil {
		return nil, err
	}
	chunks := make([]geom.Chunk, 0, len(records))
	for i, rec := range records {
		chunk, err := rec.chunk()
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i+1, err)
		}
		chunks = append(chunks, chunk)
	}
	return New(chunks)
}

func decode(data []byte, format string) ([]record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch format {
	case "yaml":
		var list []record
		if err := yaml.Unmarshal(trimmed, &list); err == nil {
			return list, nil
		}
		var doc document
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		return doc.Chunks, nil
	case "json":
		if trimmed[0] == '[' {
			var list []record
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, err
			}
			return list, nil
		}
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		return doc.Chunks, nil
	default:
		return nil, fmt.Errorf("unknown catalog format %q", format)
	}
}

func (r record) chunk() (geom.Chunk, error) {
	if len(r.BBox) != 4 {
		return geom.Chunk{}, fmt.Errorf("%w: bbox needs 4 values, got %d", ErrInvalidChunk, len(r.BBox))
	}
	return geom.Chunk{
		ID:    strings.TrimSpace(r.ID),
		Page:  r.Page,
		BBox:  geom.NormBox{X0: r.BBox[0], Y0: r.BBox[1], X1: r.BBox[2], Y1: r.BBox[3]},
		Label: strings.TrimSpace(r.Label),
	}, nil
}

// New validates chunks and builds a catalog. Chunks without an id get a random
// one; duplicate ids are rejected.
func New(chunks []geom.Chunk) (*Catalog, error) {
	c := &Catalog{
		chunks: make([]geom.Chunk, 0, len(chunks)),
		index:  make(map[string]int, len(chunks)),
		cursor: -1,
	}
	for _, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return nil, err
		}
		if chunk.ID == "" {
			chunk.ID = uuid.New().String()
		}
		if _, dup := c.index[chunk.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidChunk, chunk.ID)
		}
		c.index[chunk.ID] = len(c.chunks)
		c.chunks = append(c.chunks, chunk)
	}
	return c, nil
}

// Source is the path the catalog was loaded from, if any.
func (c *Catalog) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.chunks)
}

// All returns a copy of the chunks in catalog order.
func (c *Catalog) All() []geom.Chunk {
	if c == nil {
		return nil
	}
	out := make([]geom.Chunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// Find looks a chunk up by id.
func (c *Catalog) Find(id string) (geom.Chunk, bool) {
	if c == nil {
		return geom.Chunk{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return geom.Chunk{}, false
	}
	return c.chunks[i], true
}

// Current returns the chunk under the cursor, or nil when nothing is selected.
func (c *Catalog) Current() *geom.Chunk {
	if c == nil || c.cursor < 0 || c.cursor >= len(c.chunks) {
		return nil
	}
	chunk := c.chunks[c.cursor]
	return &chunk
}

// Position is the 1-based cursor position, 0 when nothing is selected.
func (c *Catalog) Position() int {
	if c == nil || c.cursor < 0 {
		return 0
	}
	return c.cursor + 1
}

// Next advances the cursor and returns the new current chunk.
func (c *Catalog) Next() *geom.Chunk {
	if c.Len() == 0 {
		return nil
	}
	c.cursor = (c.cursor + 1) % len(c.chunks)
	return c.Current()
}

// Prev moves the cursor back and returns the new current chunk.
func (c *Catalog) Prev() *geom.Chunk {
	if c.Len() == 0 {
		return nil
	}
	if c.cursor <= 0 {
		c.cursor = len(c.chunks) - 1
	} else {
		c.cursor--
	}
	return c.Current()
}

// Seek moves the cursor to id.
func (c *Catalog) Seek(id string) (*geom.Chunk, bool) {
	if c == nil {
		return nil, false
	}
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	c.cursor = i
	return c.Current(), true
}

// Reset clears the cursor.
func (c *Catalog) Reset() {
	if c != nil {
		c.cursor = -1
	}
}
