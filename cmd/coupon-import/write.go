package main

import (
	"context"
	"sync/atomic"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/coupon"
)

type importStats struct {
	created atomic.Int64
	skipped atomic.Int64
}

// creator is implemented by *coupon.Service.
type creator interface {
	Create(ctx context.Context, p coupon.CreateParams) (*coupon.Coupon, error)
}

// importRows creates coupons concurrently. Rows the service rejects, including
// codes that already exist, are logged and skipped; any other error aborts.
func importRows(ctx context.Context, lg *zap.Logger, svc creator, rows []row, workers int) (*importStats, error) {
	stats := &importStats{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, r := range rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := svc.Create(ctx, r.params)
			switch {
			case err == nil:
				stats.created.Add(1)
			case apperr.IsValidation(err):
				stats.skipped.Add(1)
				lg.Warn("Skipped coupon",
					zap.String("code", r.params.Code),
					zap.String("file", r.file),
					zap.Int("line", r.line),
					zap.String("reason", err.Error()),
				)
			default:
				return errors.Wrapf(err, "create %s (%s:%d)", r.params.Code, r.file, r.line)
			}
			if n := i + 1; n%progressEvery == 0 {
				lg.Info("Write progress", zap.Int("submitted", n), zap.Int("total", len(rows)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}
