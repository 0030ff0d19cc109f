package surface

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RenderAll renders every page of doc with at most workers renders in flight.
// each is called from the rendering goroutines once per page, in completion
// order, and must be safe for concurrent use. A failed page does not stop the
// others; RenderAll returns the first page error or the context error.
func RenderAll(ctx context.Context, doc Document, workers int, each func(Page, error)) error {
	if workers <= 0 {
		workers = 1
	}
	parent := ctx
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	errs := make(chan error, 1)
	for page := 1; page <= doc.PageCount(); page++ {
		if ctx.Err() != nil {
			break
		}
		page := page
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rendered, err := doc.Render(ctx, page)
			if err != nil {
				rendered = Page{Number: page}
				select {
				case errs <- err:
				default:
				}
			}
			each(rendered, err)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := parent.Err(); err != nil {
		return err
	}
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}
