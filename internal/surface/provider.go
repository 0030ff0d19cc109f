// Package surface loads documents and renders their pages into surfaces the
// viewer can lay out.
package surface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
)

// US Letter in points, used when a page carries no usable MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
	maxInheritDepth   = 32
)

// Size is a page's dimensions in points after rotation.
type Size struct {
	Width  float64
	Height float64
}

// Page is one rendered page surface.
type Page struct {
	Number int
	Size   Size
	Text   string
}

// Document is a loaded document ready to render pages. Render may be called
// from several goroutines.
type Document interface {
	Ref() Ref
	PageCount() int
	PageSize(page int) (Size, error)
	Render(ctx context.Context, page int) (Page, error)
	Close() error
}

// Provider loads documents. Load is slow and is run off the event loop.
type Provider interface {
	Load(ctx context.Context, ref Ref) (Document, error)
}

// Options configures the PDF provider.
type Options struct {
	// Workers bounds concurrent page rendering.
	Workers     int
	CacheDir    string
	CacheTTL    time.Duration
	HTTPTimeout time.Duration
}

// PDFProvider loads PDF documents from disk or through the download cache.
type PDFProvider struct {
	opts  Options
	once  sync.Once
	cache *Cache
	err   error
}

func NewPDFProvider(opts Options) *PDFProvider {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = defaultHTTPTimeout
	}
	return &PDFProvider{opts: opts}
}

// Workers returns the configured render concurrency.
func (p *PDFProvider) Workers() int {
	return p.opts.Workers
}

func (p *PDFProvider) downloadCache() (*Cache, error) {
	p.once.Do(func() {
		client := newHTTPClient(p.opts.HTTPTimeout)
		p.cache, p.err = NewCache(p.opts.CacheDir, p.opts.CacheTTL, client)
	})
	return p.cache, p.err
}

func (p *PDFProvider) Load(ctx context.Context, ref Ref) (Document, error) {
	path := ref.Location
	if ref.Kind == RefURL {
		cache, err := p.downloadCache()
		if err != nil {
			return nil, err
		}
		path, err = cache.Fetch(ctx, ref.Location)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ref.Location, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return openPDF(ctx, ref, path)
}

type pdfDocument struct {
	ref   Ref
	file  *os.File
	size  int64
	sizes []Size
	pool  sync.Pool
}

func openPDF(ctx context.Context, ref Ref, path string) (*pdfDocument, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat document: %w", err)
	}
	reader, err := newReader(file, info.Size())
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	count := reader.NumPage()
	if count == 0 {
		file.Close()
		return nil, errors.New("parse pdf: document has no pages")
	}
	doc := &pdfDocument{ref: ref, file: file, size: info.Size(), sizes: make([]Size, count)}
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			file.Close()
			return nil, err
		}
		doc.sizes[i-1] = pageSize(reader.Page(i).V)
	}
	doc.pool.Put(reader)
	log.Printf("[surface] opened %s (%d pages)", ref.Location, count)
	return doc, nil
}

func newReader(r io.ReaderAt, size int64) (reader *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.NewReader(r, size)
}

func (d *pdfDocument) Ref() Ref       { return d.ref }
func (d *pdfDocument) PageCount() int { return len(d.sizes) }

func (d *pdfDocument) PageSize(page int) (Size, error) {
	if page < 1 || page > len(d.sizes) {
		return Size{}, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, len(d.sizes))
	}
	return d.sizes[page-1], nil
}

// Render extracts the page text. Extraction failures leave the text empty;
// the surface still renders with its geometry.
func (d *pdfDocument) Render(ctx context.Context, page int) (Page, error) {
	size, err := d.PageSize(page)
	if err != nil {
		return Page{}, err
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	reader, err := d.borrowReader()
	if err != nil {
		return Page{}, err
	}
	defer d.pool.Put(reader)
	text, err := plainText(reader.Page(page))
	if err != nil {
		log.Printf("[surface] page %d text: %v", page, err)
		text = ""
	}
	return Page{Number: page, Size: size, Text: text}, nil
}

func (d *pdfDocument) borrowReader() (*pdf.Reader, error) {
	if cached, ok := d.pool.Get().(*pdf.Reader); ok && cached != nil {
		return cached, nil
	}
	reader, err := newReader(d.file, d.size)
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	return reader, nil
}

func (d *pdfDocument) Close() error {
	return d.file.Close()
}

func plainText(page pdf.Page) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extract text: %v", rec)
		}
	}()
	if page.V.IsNull() {
		return "", nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// pageSize resolves MediaBox and Rotate through the /Parent chain.
func pageSize(v pdf.Value) Size {
	size := Size{Width: defaultPageWidth, Height: defaultPageHeight}
	if box, ok := inherited(v, "MediaBox"); ok && box.Kind() == pdf.Array && box.Len() == 4 {
		width := math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
		height := math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
		if width > 0 && height > 0 {
			size = Size{Width: width, Height: height}
		}
	}
	if rotate, ok := inherited(v, "Rotate"); ok && rotate.Kind() == pdf.Integer {
		if r := ((rotate.Int64() % 360) + 360) % 360; r == 90 || r == 270 {
			size.Width, size.Height = size.Height, size.Width
		}
	}
	return size
}

func inherited(v pdf.Value, key string) (pdf.Value, bool) {
	node := v
	for depth := 0; depth < maxInheritDepth && !node.IsNull(); depth++ {
		if value := node.Key(key); !value.IsNull() {
			return value, true
		}
		node = node.Key("Parent")
	}
	return pdf.Value{}, false
}
