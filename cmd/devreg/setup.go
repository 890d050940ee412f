package main

import (
	"context"
	"fmt"

	"github.com/mwzzzh/devreg/pkg/cache"
	"github.com/mwzzzh/devreg/pkg/cpu"
	"github.com/mwzzzh/devreg/pkg/device"
	"github.com/mwzzzh/devreg/pkg/engine"
	"github.com/mwzzzh/devreg/pkg/pipeline"
	"github.com/mwzzzh/devreg/pkg/pool"
	"github.com/mwzzzh/devreg/pkg/proxy"
	"github.com/mwzzzh/devreg/pkg/register"
	"github.com/mwzzzh/devreg/pkg/session"
	"github.com/mwzzzh/devreg/pkg/sign"
	"github.com/mwzzzh/devreg/pkg/util"
)

// deps holds everything a batch run needs. close releases connections.
type deps struct {
	store    *pool.MySQL
	assigner *pool.Assigner
	sessions *session.Pool
	eng      *engine.Engine
	mirror   *cache.Cache
}

func (d *deps) close() {
	if d.sessions != nil {
		d.sessions.Close()
	}
	if d.mirror != nil {
		d.mirror.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
}

// openStore connects to MySQL, prompting for the password when needed, and
// makes sure the pool table exists.
func openStore(ctx context.Context) (*pool.MySQL, error) {
	pw, err := dbPassword()
	if err != nil {
		return nil, err
	}
	dbCfg := cfg.DB
	dbCfg.Password = pw

	store, err := pool.Open(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// buildEngine assembles the full registration stack: DB, proxies, session
// pool, signer, handshake client, and the optional backup and Redis mirror.
func buildEngine(ctx context.Context) (*deps, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	d := &deps{
		store:    store,
		assigner: pool.NewAssigner(cfg.DB.Shards, cfg.DB.IDField),
	}

	ring, err := proxy.Load(cfg.ProxyFile)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("loading proxies: %w", err)
	}
	util.Infof("loaded %d proxies from %s", ring.Len(), cfg.ProxyFile)

	var catalog *device.Catalog
	if path := cfg.ProfileFile; path != "" {
		catalog, err = device.LoadCatalog(path)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("loading device profiles: %w", err)
		}
	}

	d.sessions = session.NewPool(cfg.Session)
	reg := register.NewClient(cfg.Endpoints, sign.New(), cpu.NewPool(cfg.ThreadPoolSize))
	d.eng = engine.New(cfg, device.NewFabricator(catalog), reg, d.sessions, ring, d.store, d.assigner)

	if cfg.Backup.Enabled {
		bw, err := pipeline.NewBackupWriter(cfg.Backup)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("preparing file backup: %w", err)
		}
		d.eng.AttachBackup(bw)
	}

	if cfg.Redis.Mirror {
		mirror, err := cache.New(cfg.Redis, cfg.DB.IDField)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("connecting redis mirror: %w", err)
		}
		d.mirror = mirror
		d.eng.AttachMirror(mirror)
	}

	return d, nil
}
