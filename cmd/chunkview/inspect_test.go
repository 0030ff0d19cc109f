package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/csheth/chunkview/internal/registry"
	"github.com/csheth/chunkview/internal/surface"
	"github.com/csheth/chunkview/internal/surface/surfacetest"
)

const chunkFixture = `chunks:
  - id: abstract
    page: 1
    bbox: [0.1, 0.1, 0.5, 0.2]
    label: Abstract
  - id: figure
    page: 2
    bbox: [0.25, 0.5, 0.75, 0.75]
  - id: appendix
    page: 9
    bbox: [0, 0, 1, 1]
`

func writeChunks(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.yaml")
	if err := os.WriteFile(path, []byte(chunkFixture), 0o644); err != nil {
		t.Fatalf("write chunks: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInspectReportsChunkGeometry(t *testing.T) {
	pdf := surfacetest.Write(t, "fixture.pdf", surfacetest.Letter(2))
	chunks := writeChunks(t)
	missingConfig := filepath.Join(t.TempDir(), "absent.yaml")

	out, err := runCLI(t, "inspect", pdf, "--chunks", chunks, "--config", missingConfig, "--width", "612", "--height", "792", "--no-progress")
	if err != nil {
		t.Fatalf("inspect: %v\n%s", err, out)
	}
	for _, want := range []string{
		"2 page(s), viewport 612x792",
		"box 0.0,0.0 612.0x792.0  ok",
		"box 0.0,808.0 612.0x792.0  ok",
		"abstract p.1  rect 61.2,79.2 244.8x79.2  scroll 0.0",
		"figure p.2  rect 153.0,396.0 306.0x198.0  scroll 808.0",
		"appendix p.9  not visible",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInspectSingleChunk(t *testing.T) {
	pdf := surfacetest.Write(t, "fixture.pdf", surfacetest.Letter(1))
	chunks := writeChunks(t)
	missingConfig := filepath.Join(t.TempDir(), "absent.yaml")

	out, err := runCLI(t, "inspect", pdf, "--chunks", chunks, "--config", missingConfig, "--chunk", "abstract", "--no-progress")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if strings.Contains(out, "figure") || !strings.Contains(out, "abstract p.1") {
		t.Fatalf("expected only the abstract chunk:\n%s", out)
	}

	if _, err := runCLI(t, "inspect", pdf, "--chunks", chunks, "--config", missingConfig, "--chunk", "nope", "--no-progress"); err == nil || !strings.Contains(err.Error(), "unknown chunk") {
		t.Fatalf("expected unknown chunk error, got %v", err)
	}
}

func TestInspectWithoutCatalog(t *testing.T) {
	pdf := surfacetest.Write(t, "fixture.pdf", surfacetest.Letter(1))
	out, err := runCLI(t, "inspect", pdf, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "--no-progress")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out, "no chunks (pass --chunks)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestLoadSettingsFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunkview.yaml")
	if err := os.WriteFile(path, []byte("workers: 2\nalt_screen: true\nchunks: from-file.json\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadSettings(&rootOptions{configPath: path, workers: 6, noAltScreen: true, reducedMotion: true}, "paper.pdf")
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if cfg.Workers != 6 || cfg.AltScreen || !cfg.ReducedMotion {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.Document != "paper.pdf" || cfg.Chunks != "from-file.json" {
		t.Fatalf("unexpected document/chunks: %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("workers: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadSettings(&rootOptions{configPath: path}, ""); err == nil {
		t.Fatal("expected validation error for zero workers")
	}
}

func TestPixelBoard(t *testing.T) {
	sizes := []surface.Size{{Width: 600, Height: 800}, {Width: 600, Height: 800}}
	b := newPixelBoard(3, sizes, 600, 500, 20)
	if got := b.MaxScrollTop(); got != 1120 {
		t.Fatalf("MaxScrollTop = %v want 1120", got)
	}
	view := registry.PageView{Page: 2, Generation: 3}
	if _, ok := b.PageBox(view); ok {
		t.Fatal("unrendered page must have no box")
	}
	b.rendered[2] = true
	scrolled := 0
	b.onScroll = func() { scrolled++ }
	b.ScrollTo(5000, true)
	if b.ScrollTop() != 1120 || scrolled != 1 {
		t.Fatalf("scroll not clamped: top=%v calls=%d", b.ScrollTop(), scrolled)
	}
	b.ScrollTo(1120, false)
	if scrolled != 1 {
		t.Fatal("scrolling to the current offset must not notify")
	}
	box, ok := b.PageBox(view)
	if !ok || box.Top != 820-1120 || box.Height != 800 {
		t.Fatalf("unexpected page box %+v", box)
	}
	view.Generation = 4
	if _, ok := b.PageBox(view); ok {
		t.Fatal("other generations must have no box")
	}
}
