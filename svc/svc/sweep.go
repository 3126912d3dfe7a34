package svc

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sealbin/metrics"
	"sealbin/svc/util"
)

const (
	sweepBatchSize   = 500
	sweepConcurrency = 8
)

// StartSweeper runs the expiry sweep until ctx is cancelled. Each cycle
// walks the rows the metadata store reports expired and removes them pair
// by pair, payload before row.
func (p *Paste) StartSweeper(ctx context.Context, interval time.Duration) {
	sweepRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, sweepRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", sweepRequestID).
		Dur("interval", interval).
		Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", sweepRequestID).
				Msg("expiry sweeper shutting down")
			return
		case <-ticker.C:
			purged, err := p.sweepOnce(ctx)
			metrics.SweepCycles.Inc()
			if err != nil {
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("sweep cycle failed")
			} else if purged > 0 {
				metrics.SweepPurged.Add(float64(purged))
				util.Info().
					Int("purged", purged).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("sweep cycle completed")
			}
		}
	}
}

// sweepOnce drains the expired set in batches. Each batch deletes its own
// metadata rows, so re-listing always sees fresh ids; a batch that removes
// nothing stops the cycle rather than re-reading the same rows until the
// next tick.
func (p *Paste) sweepOnce(ctx context.Context) (int, error) {
	now := p.now()
	total := 0
	for {
		ids, err := p.meta.ExpiredIDs(ctx, now, sweepBatchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			break
		}
		var removed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(sweepConcurrency)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				if err := p.payloads.Delete(gctx, id); err != nil {
					// Same tolerance as the inline purge: a stray blob
					// is TTL-bound, the row goes regardless.
					util.Warn().Err(err).Str("id", id).Msg("sweep payload delete failed")
				}
				if err := p.meta.Delete(gctx, id); err != nil {
					util.Warn().Err(err).Str("id", id).Msg("sweep metadata delete failed")
					return nil
				}
				removed.Add(1)
				return nil
			})
		}
		_ = g.Wait()
		total += int(removed.Load())
		if removed.Load() == 0 || len(ids) < sweepBatchSize {
			break
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
	}
	// Backstop for rows that expired after the listing, e.g. burned while
	// the batch was in flight.
	n, err := p.meta.PurgeExpired(ctx, now)
	return total + n, err
}
