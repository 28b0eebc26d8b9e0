package imageload

import (
	"context"
	"image"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/ruiji/internal/models"
)

// Thumbnail pairs a record with its loaded image.
type Thumbnail struct {
	Record models.Record
	Image  *image.NRGBA
}

// Grid loads a thumbnail for every record concurrently. Records whose image fails to load
// are logged and left out; the rest keep their input order. An error is returned only
// when ctx is cancelled.
func (l *Loader) Grid(ctx context.Context, records []models.Record, size Size) ([]Thumbnail, error) {
	images := make([]*image.NRGBA, len(records))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i := range records {
		i := i
		g.Go(func() error {
			img, err := l.Load(gCtx, records[i].ImageURL(), size)
			if err != nil {
				// Only the caller's context aborts the grid; a per-item timeout is a skip.
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				l.logger.Warn("skipping image",
					zap.String("id", records[i].ID.String()),
					zap.String("source", records[i].ImageURL()),
					zap.Error(err))
				return nil
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Thumbnail, 0, len(records))
	for i, img := range images {
		if img == nil {
			continue
		}
		out = append(out, Thumbnail{Record: records[i], Image: img})
	}
	return out, nil
}
