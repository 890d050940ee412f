// Package engine runs registration batches: it fans fabricated devices out
// across a semaphore-bounded worker pool, drives each through the handshake
// on a pooled session, and funnels survivors into the write pipeline.
package engine

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/device"
	"github.com/mwzzzh/devreg/pkg/pipeline"
	"github.com/mwzzzh/devreg/pkg/pool"
	"github.com/mwzzzh/devreg/pkg/proxy"
	"github.com/mwzzzh/devreg/pkg/session"
	"github.com/mwzzzh/devreg/pkg/util"
)

// Handshake is the per-device registration flow. The production
// implementation is register.Client; tests substitute stubs.
type Handshake interface {
	Run(ctx context.Context, httpc *http.Client, d *device.Device) (*device.Device, error)
}

// Engine owns the shared resources of a batch run. One Engine serves the
// whole process; each Run gets its own pipeline lifecycle so a completed
// batch is fully persisted when Run returns.
type Engine struct {
	cfg      config.Config
	fab      *device.Fabricator
	reg      Handshake
	sessions *session.Pool
	proxies  *proxy.Ring
	store    pool.Store
	assigner *pool.Assigner

	backup *pipeline.BackupWriter
	mirror pipeline.Mirror

	attempted atomic.Int64
	failed    atomic.Int64
}

// New assembles the engine.
func New(cfg config.Config, fab *device.Fabricator, reg Handshake, sessions *session.Pool, proxies *proxy.Ring, store pool.Store, assigner *pool.Assigner) *Engine {
	return &Engine{
		cfg:      cfg,
		fab:      fab,
		reg:      reg,
		sessions: sessions,
		proxies:  proxies,
		store:    store,
		assigner: assigner,
	}
}

// AttachBackup adds the file backup target to every subsequent Run.
func (e *Engine) AttachBackup(w *pipeline.BackupWriter) { e.backup = w }

// AttachMirror adds the post-commit mirror to every subsequent Run.
func (e *Engine) AttachMirror(m pipeline.Mirror) { e.mirror = m }

// Attempted reports how many tasks have started across all runs.
func (e *Engine) Attempted() int64 { return e.attempted.Load() }

// Failed reports how many tasks ended in a stage failure or error.
func (e *Engine) Failed() int64 { return e.failed.Load() }

// Run executes tasks registration attempts and blocks until every attempted
// device is persisted. Returns how many devices the batch committed. A
// cancelled ctx stops scheduling new tasks; devices already provisioned
// still drain through the pipeline.
func (e *Engine) Run(ctx context.Context, tasks int) (int64, error) {
	if tasks <= 0 {
		return 0, nil
	}

	pipe := pipeline.New(e.cfg.Pipeline, e.store, e.assigner)
	if e.backup != nil {
		pipe.AttachBackup(e.backup)
	}
	if e.mirror != nil {
		pipe.AttachMirror(e.mirror)
	}
	drainCtx := context.WithoutCancel(ctx)
	pipe.Start(drainCtx)

	sem := semaphore.NewWeighted(int64(e.cfg.Concurrency))
	var wg sync.WaitGroup

	var schedErr error
	for i := 0; i < tasks; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			schedErr = err
			break
		}
		wg.Add(1)
		go func(taskID int) {
			defer wg.Done()
			defer sem.Release(1)
			e.runTask(ctx, taskID, pipe)
		}(i)
	}
	wg.Wait()

	if err := pipe.Stop(drainCtx); err != nil {
		return pipe.Saved(), err
	}
	if schedErr != nil && !errors.Is(schedErr, context.Canceled) {
		return pipe.Saved(), schedErr
	}
	return pipe.Saved(), nil
}

// runTask drives one device through the handshake. Failures are logged and
// counted, never returned: the fill-loop compensates by scheduling more
// tasks next iteration.
func (e *Engine) runTask(ctx context.Context, taskID int, pipe *pipeline.Pipeline) {
	e.attempted.Add(1)
	log := util.WithTask(taskID)

	d := e.fab.Fabricate()
	var proxyURL *url.URL
	if e.proxies != nil {
		proxyURL = e.proxies.Next()
	}

	h, err := e.sessions.Acquire(ctx)
	if err != nil {
		e.failed.Add(1)
		if !errors.Is(err, context.Canceled) {
			log.Warnf("no session available: %v", err)
		}
		return
	}
	defer e.sessions.Release(h)

	httpc, err := h.Ensure()
	if err != nil {
		e.failed.Add(1)
		log.Errorf("building session: %v", err)
		return
	}
	h.MarkUse()

	taskCtx := ctx
	if proxyURL != nil {
		taskCtx = session.WithProxy(ctx, proxyURL)
	}

	provisioned, err := e.reg.Run(taskCtx, httpc, d)
	if err != nil {
		e.failed.Add(1)
		var se *util.StageError
		if errors.As(err, &se) {
			log.Warnf("registration failed at %s: %v", se.Stage, se.Err)
		} else if !errors.Is(err, context.Canceled) {
			log.Warnf("registration failed: %v", err)
		}
		return
	}

	if err := pipe.Save(ctx, provisioned, taskID); err != nil {
		e.failed.Add(1)
		log.Errorf("enqueueing provisioned device: %v", err)
		return
	}
	log.Infof("registered device %s", provisioned.DeviceID)
}
