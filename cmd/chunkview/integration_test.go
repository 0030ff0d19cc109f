package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/csheth/chunkview/internal/surface/surfacetest"
	"github.com/csheth/chunkview/internal/tuitest"
)

func TestViewerHighlightsChunkEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary and drives it through a PTY")
	}
	t.Parallel()

	cmdDir := moduleDir(t)
	pdf := surfacetest.Write(t, "fixture.pdf", surfacetest.Letter(2))
	chunks := writeChunks(t)
	binary := buildBinary(t, cmdDir)

	rec, err := tuitest.Run(context.Background(), tuitest.Config{
		Command: []string{binary, "--no-alt-screen", "--reduced-motion", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "--chunks", chunks, pdf},
		Dir:     cmdDir,
		Width:   100,
		Height:  32,
		Steps: []tuitest.Step{
			{WaitFor: "Rendered 2 of 2 pages."},
			{Input: []byte("n")},
			{WaitFor: "Chunk 1/3: Abstract (p.1)"},
			{Input: []byte("?")},
			{WaitFor: "next chunk"},
			{Delay: 200 * time.Millisecond, Input: []byte("q")},
		},
		Timeout: 20 * time.Second,
	})
	if err != nil {
		t.Fatalf("run CLI: %v", err)
	}

	plain := rec.Plain()
	for _, want := range []string{"chunkview · fixture.pdf", "rendered 2/2", "chunk 1/3"} {
		if !strings.Contains(plain, want) {
			t.Fatalf("terminal output missing %q:\n%s", want, plain)
		}
	}
	if _, ok := rec.FinalFrame(); !ok {
		t.Fatal("no frames captured")
	}
}

func moduleDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime caller unavailable")
	}
	return filepath.Dir(file)
}

func buildBinary(t *testing.T, cmdDir string) string {
	t.Helper()
	name := "chunkview-integration"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	binPath := filepath.Join(t.TempDir(), name)
	cmd := exec.Command("go", "build", "-o", binPath, ".")
	cmd.Dir = cmdDir
	cmd.Env = os.Environ()
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build CLI: %v\n%s", err, output)
	}
	return binPath
}
