package surface

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubDocument struct {
	pages    int
	failOn   int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (d *stubDocument) Ref() Ref       { return Ref{Location: "stub"} }
func (d *stubDocument) PageCount() int { return d.pages }
func (d *stubDocument) Close() error   { return nil }

func (d *stubDocument) PageSize(page int) (Size, error) {
	if page < 1 || page > d.pages {
		return Size{}, ErrPageOutOfRange
	}
	return Size{Width: 612, Height: 792}, nil
}

func (d *stubDocument) Render(ctx context.Context, page int) (Page, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		peak := d.peak.Load()
		if n <= peak || d.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	if page == d.failOn {
		return Page{}, errors.New("bad page")
	}
	size, _ := d.PageSize(page)
	return Page{Number: page, Size: size}, nil
}

func TestRenderAllBoundsConcurrency(t *testing.T) {
	doc := &stubDocument{pages: 12}
	var mu sync.Mutex
	seen := map[int]bool{}
	err := RenderAll(context.Background(), doc, 3, func(p Page, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			t.Errorf("page %d: %v", p.Number, err)
		}
		seen[p.Number] = true
	})
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(seen) != 12 {
		t.Fatalf("expected all pages, got %d", len(seen))
	}
	if peak := doc.peak.Load(); peak > 3 {
		t.Fatalf("worker limit exceeded: %d", peak)
	}
}

func TestRenderAllReportsPageFailureAndContinues(t *testing.T) {
	doc := &stubDocument{pages: 4, failOn: 2}
	var mu sync.Mutex
	var failed []int
	count := 0
	err := RenderAll(context.Background(), doc, 2, func(p Page, err error) {
		mu.Lock()
		defer mu.Unlock()
		count++
		if err != nil {
			failed = append(failed, p.Number)
		}
	})
	if err == nil {
		t.Fatal("expected the page error to surface")
	}
	if count != 4 || len(failed) != 1 || failed[0] != 2 {
		t.Fatalf("expected every page reported and page 2 failed, got count=%d failed=%v", count, failed)
	}
}

func TestRenderAllStopsWhenCancelled(t *testing.T) {
	doc := &stubDocument{pages: 8}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := RenderAll(ctx, doc, 2, func(Page, error) { calls++ })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("cancelled render should not report pages, got %d", calls)
	}
}
