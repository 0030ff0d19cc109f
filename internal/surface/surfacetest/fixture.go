// Package surfacetest writes small PDF documents for tests.
package surfacetest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// PageSpec describes one fixture page.
type PageSpec struct {
	Width  float64
	Height float64
	Rotate int
	Text   string
}

// Letter returns n portrait US Letter pages labelled "Page N".
func Letter(n int) []PageSpec {
	pages := make([]PageSpec, n)
	for i := range pages {
		pages[i] = PageSpec{Width: 612, Height: 792, Text: fmt.Sprintf("Page %d", i+1)}
	}
	return pages
}

// Build returns the bytes of a PDF with the given pages.
func Build(pages []PageSpec) []byte {
	var buf bytes.Buffer
	var offsets []int
	object := func(body string) int {
		offsets = append(offsets, buf.Len())
		num := len(offsets)
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
		return num
	}

	buf.WriteString("%PDF-1.4\n")
	object("<< /Type /Catalog /Pages 2 0 R >>")

	// Reserve the page tree slot; kids are page objects written after the font.
	kids := make([]int, len(pages))
	for i := range pages {
		kids[i] = 4 + i*2
	}
	var kidRefs bytes.Buffer
	for _, k := range kids {
		fmt.Fprintf(&kidRefs, "%d 0 R ", k)
	}
	object(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kidRefs.String(), len(pages)))
	object("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, p := range pages {
		page := fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R",
			p.Width, p.Height, kids[i]+1)
		if p.Rotate != 0 {
			page += fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		object(page + " >>")
		content := fmt.Sprintf("BT /F1 12 Tf 72 %g Td (%s) Tj ET", p.Height-72, p.Text)
		object(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// Write stores a fixture PDF in a test temp dir and returns its path.
func Write(t testing.TB, name string, pages []PageSpec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, Build(pages), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
