package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/pool"
	"github.com/mwzzzh/devreg/pkg/util"
)

// BatchRunner produces n devices and reports how many were committed.
// Satisfied by *Engine.
type BatchRunner interface {
	Run(ctx context.Context, tasks int) (int64, error)
}

// Filler tops the sharded device pool up to a per-shard target. Each
// iteration measures every shard, picks the emptiest (lowest index wins
// ties) and generates one bounded batch forced onto that shard.
type Filler struct {
	cfg      config.Fill
	shards   int
	store    pool.Store
	assigner *pool.Assigner
	runner   BatchRunner

	total int64 // devices committed by this filler across iterations
}

// NewFiller builds the controller. shards comes from the DB config.
func NewFiller(cfg config.Fill, shards int, store pool.Store, assigner *pool.Assigner, runner BatchRunner) *Filler {
	if shards < 1 {
		shards = 1
	}
	return &Filler{cfg: cfg, shards: shards, store: store, assigner: assigner, runner: runner}
}

// Total reports how many devices the filler has committed.
func (f *Filler) Total() int64 { return f.total }

// Loop runs fill iterations until every shard meets the target (in run-once
// mode), the overall cap is hit, or ctx is cancelled. In watch mode a full
// pool is re-checked every interval.
func (f *Filler) Loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		generated, full, err := f.iterate(ctx)
		if err != nil {
			return err
		}

		if f.cfg.MaxTotal > 0 && f.total >= int64(f.cfg.MaxTotal) {
			util.Infof("fill loop reached overall cap of %d devices", f.cfg.MaxTotal)
			return nil
		}
		if full {
			if f.cfg.Once {
				util.Infof("all %d shards at target %d", f.shards, f.cfg.Target)
				return nil
			}
			if err := sleepCtx(ctx, f.cfg.Interval); err != nil {
				return err
			}
			continue
		}
		if generated == 0 {
			// Every attempt in the batch failed; back off instead of spinning.
			if err := sleepCtx(ctx, f.cfg.Interval); err != nil {
				return err
			}
		}
	}
}

// iterate measures the shards and fills the emptiest one. Returns how many
// devices were committed and whether every shard already meets the target.
func (f *Filler) iterate(ctx context.Context) (int64, bool, error) {
	shard, count, err := f.emptiestShard(ctx)
	if err != nil {
		return 0, false, err
	}

	missing := int64(f.cfg.Target) - count
	if missing <= 0 {
		return 0, true, nil
	}

	fill := missing
	if int64(f.cfg.BatchMax) < fill {
		fill = int64(f.cfg.BatchMax)
	}
	if f.cfg.MaxTotal > 0 {
		if remaining := int64(f.cfg.MaxTotal) - f.total; remaining < fill {
			fill = remaining
		}
	}
	if fill <= 0 {
		return 0, false, nil
	}

	util.WithShard(shard).Infof("filling: have %d, target %d, generating %d", count, f.cfg.Target, fill)

	f.assigner.SetForce(shard)
	defer f.assigner.ClearForce()

	saved, err := f.runner.Run(ctx, int(fill))
	f.total += saved
	if err != nil {
		return saved, false, fmt.Errorf("fill batch on shard %d: %w", shard, err)
	}
	util.WithShard(shard).Infof("fill batch committed %d/%d devices", saved, fill)
	return saved, false, nil
}

// emptiestShard returns the shard with the fewest devices; the lowest index
// wins ties so fill order is deterministic when counts are equal.
func (f *Filler) emptiestShard(ctx context.Context) (int, int64, error) {
	best, bestCount := 0, int64(-1)
	for s := 0; s < f.shards; s++ {
		n, err := f.store.CountShard(ctx, s)
		if err != nil {
			return 0, 0, fmt.Errorf("counting shard %d: %w", s, err)
		}
		if bestCount < 0 || n < bestCount {
			best, bestCount = s, n
		}
	}
	return best, bestCount, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
