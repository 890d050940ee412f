// Package pipeline decouples registration workers from persistence. Workers
// enqueue provisioned devices; a single writer goroutine collects them into
// batches and upserts each batch into the device pool, retrying failed
// flushes forever with exponential backoff. A batch is never dropped while
// the process lives.
package pipeline

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/device"
	"github.com/mwzzzh/devreg/pkg/pool"
	"github.com/mwzzzh/devreg/pkg/util"
)

// flushTick bounds how long a partial batch waits before being written.
const flushTick = time.Second

// Mirror receives each committed batch after the DB accepts it. Mirroring
// is best-effort; errors are logged and do not fail the flush.
type Mirror interface {
	MirrorRows(ctx context.Context, rows []pool.Row) error
}

type item struct {
	shardKey int
	dev      *device.Device
}

// Pipeline is the buffered writer between workers and the device pool.
type Pipeline struct {
	cfg      config.Pipeline
	store    pool.Store
	assigner *pool.Assigner
	backup   *BackupWriter
	mirror   Mirror
	results  *resultsFile

	mu      sync.RWMutex
	stopped bool

	ch    chan item
	done  chan struct{}
	saved atomic.Int64
}

// New builds the pipeline. Call Start before Save; Stop drains.
func New(cfg config.Pipeline, store pool.Store, assigner *pool.Assigner) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		store:    store,
		assigner: assigner,
		ch:       make(chan item, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	if cfg.SaveResults && cfg.ResultsFile != "" {
		p.results = newResultsFile(cfg.ResultsFile)
	}
	return p
}

// AttachBackup adds the optional file backup target.
func (p *Pipeline) AttachBackup(w *BackupWriter) { p.backup = w }

// AttachMirror adds the optional post-commit mirror.
func (p *Pipeline) AttachMirror(m Mirror) { p.mirror = m }

// Saved reports how many devices have been committed to the store.
func (p *Pipeline) Saved() int64 { return p.saved.Load() }

// Start launches the writer goroutine. ctx is the hard-abort context: while
// it lives, failed flushes retry forever; once it is cancelled the current
// retry loop gives up and remaining batches are abandoned with a log line.
func (p *Pipeline) Start(ctx context.Context) {
	go p.run(ctx)
}

// Save enqueues one provisioned device. shardKey spreads file-backup writes
// (it does not choose the DB shard). Blocks while the queue is full.
func (p *Pipeline) Save(ctx context.Context, d *device.Device, shardKey int) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return util.ErrPipelineClosed
	}
	select {
	case p.ch <- item{shardKey: shardKey, dev: d}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new saves, drains everything already enqueued through the
// store, then releases the backup and results files. Returns ctx.Err() if
// draining outlives ctx.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.ch)

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.backup != nil {
		p.backup.Close()
	}
	if p.results != nil {
		p.results.close()
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(flushTick)
	defer ticker.Stop()

	batch := make([]item, 0, p.cfg.BatchSize)
	for {
		select {
		case it, ok := <-p.ch:
			if !ok {
				if len(batch) > 0 {
					p.flush(ctx, batch)
				}
				return
			}
			batch = append(batch, it)
			if len(batch) >= p.cfg.BatchSize {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes one batch. The DB upsert retries until it succeeds or the
// hard-abort context dies; the file targets are written after the DB commit
// and never fail the flush.
func (p *Pipeline) flush(ctx context.Context, batch []item) {
	rows := make([]pool.Row, 0, len(batch))
	keys := make([]int, 0, len(batch))
	for _, it := range batch {
		row, err := p.assigner.RowFor(it.dev)
		if err != nil {
			util.Errorf("skipping unserializable device: %v", err)
			continue
		}
		rows = append(rows, row)
		keys = append(keys, it.shardKey)
	}
	if len(rows) == 0 {
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBase
	bo.MaxInterval = p.cfg.RetryMax
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		uerr := p.store.Upsert(ctx, rows)
		if uerr != nil {
			util.WithField("attempt", attempt).Warnf("batch flush failed (%d rows): %v", len(rows), uerr)
		}
		return uerr
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		util.Errorf("abandoning batch of %d rows after shutdown abort: %v", len(rows), err)
		return
	}

	p.saved.Add(int64(len(rows)))

	for i, row := range rows {
		if p.backup != nil {
			if berr := p.backup.Append(keys[i], row.JSON); berr != nil {
				util.Warnf("device backup write failed: %v", berr)
			}
		}
		if p.results != nil {
			p.results.append(row.JSON)
		}
	}
	if p.mirror != nil {
		if merr := p.mirror.MirrorRows(ctx, rows); merr != nil {
			util.Warnf("mirroring %d rows failed: %v", len(rows), merr)
		}
	}
}

// resultsFile is the optional one-line-per-device sidecar. It exists for
// operators who want a flat file of the run's output; any failure is logged
// and ignored.
type resultsFile struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func newResultsFile(path string) *resultsFile {
	return &resultsFile{path: path}
}

func (r *resultsFile) append(line []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			util.Warnf("opening results file: %v", err)
			return
		}
		r.f = f
	}
	if _, err := r.f.Write(append(line, '\n')); err != nil {
		util.Warnf("writing results file: %v", err)
	}
}

func (r *resultsFile) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
}
