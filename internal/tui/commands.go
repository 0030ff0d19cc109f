package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/chunkview/internal/surface"
)

type renderFinishedMsg struct {
	ticket surface.Ticket
	err    error
}

func loadDocumentJob(provider surface.Provider, ticket surface.Ticket) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		doc, err := provider.Load(ctx, ticket.Ref)
		if err != nil {
			return documentLoadedMsg{ticket: ticket, err: err}, err
		}
		return documentLoadedMsg{ticket: ticket, doc: doc}, nil
	}
}

// renderPagesJob renders every page with bounded concurrency and streams each
// result into updates, closing it when done.
func renderPagesJob(doc surface.Document, workers int, ticket surface.Ticket, updates chan<- pageResult) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		defer close(updates)
		err := surface.RenderAll(ctx, doc, workers, func(page surface.Page, err error) {
			updates <- pageResult{page: page, err: err}
		})
		return renderFinishedMsg{ticket: ticket, err: err}, err
	}
}

func waitForPage(ticket surface.Ticket, updates <-chan pageResult) tea.Cmd {
	return func() tea.Msg {
		result, ok := <-updates
		if !ok {
			return pageRenderedMsg{ticket: ticket, done: true}
		}
		return pageRenderedMsg{ticket: ticket, page: result.page, err: result.err, updates: updates}
	}
}

func documentTitle(ref surface.Ref) string {
	location := ref.Location
	if ref.Kind == surface.RefFile {
		location = filepath.Base(location)
	}
	return trimmedTitle(location)
}

func trimmedTitle(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= 60 {
		return value
	}
	return fmt.Sprintf("%s…", strings.TrimSpace(string(runes[:57])))
}
