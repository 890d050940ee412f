package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwzzzh/devreg/internal/testutil"
	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/device"
	"github.com/mwzzzh/devreg/pkg/pool"
	"github.com/mwzzzh/devreg/pkg/proxy"
	"github.com/mwzzzh/devreg/pkg/session"
	"github.com/mwzzzh/devreg/pkg/util"
)

// stubHandshake provisions devices without touching the network.
type stubHandshake struct {
	seq     atomic.Int64
	cur     atomic.Int64
	maxSeen atomic.Int64
	fail    error
}

func (s *stubHandshake) Run(ctx context.Context, httpc *http.Client, d *device.Device) (*device.Device, error) {
	n := s.cur.Add(1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	s.cur.Add(-1)

	if s.fail != nil {
		return nil, s.fail
	}
	d.DeviceID = fmt.Sprintf("700000000000%07d", s.seq.Add(1))
	d.InstallID = "9876543210987654321"
	return d, nil
}

func testEngine(t *testing.T, concurrency int, hs Handshake) (*Engine, *testutil.FakeStore) {
	t.Helper()
	cfg := config.Config{
		Concurrency: concurrency,
		Pipeline: config.Pipeline{
			BatchSize: 4,
			QueueSize: 64,
			RetryBase: 5 * time.Millisecond,
			RetryMax:  20 * time.Millisecond,
		},
		Session: config.Session{PoolSize: 2, MaxRequests: 0, Timeout: 5 * time.Second},
	}
	store := testutil.NewFakeStore()
	assigner := pool.NewAssigner(4, "device_id")
	sessions := session.NewPool(cfg.Session)
	t.Cleanup(sessions.Close)

	ring, err := proxy.Parse(strings.NewReader("http://proxy-a:8080\nhttp://proxy-b:8080\n"))
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, device.NewFabricator(nil), hs, sessions, ring, store, assigner), store
}

func TestRunPersistsEveryProvisionedDevice(t *testing.T) {
	hs := &stubHandshake{}
	e, store := testEngine(t, 4, hs)

	saved, err := e.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if saved != 10 {
		t.Errorf("Run() saved = %d, want 10", saved)
	}
	if store.Len() != 10 {
		t.Errorf("store holds %d devices, want 10", store.Len())
	}
	if e.Attempted() != 10 || e.Failed() != 0 {
		t.Errorf("Attempted/Failed = %d/%d, want 10/0", e.Attempted(), e.Failed())
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	hs := &stubHandshake{}
	e, _ := testEngine(t, 3, hs)

	if _, err := e.Run(context.Background(), 20); err != nil {
		t.Fatal(err)
	}
	if got := hs.maxSeen.Load(); got > 3 {
		t.Errorf("max concurrent handshakes = %d, want <= 3", got)
	}
}

func TestRunCountsStageFailures(t *testing.T) {
	hs := &stubHandshake{fail: util.NewStageError("alert_check", errors.New("activation rejected"))}
	e, store := testEngine(t, 4, hs)

	saved, err := e.Run(context.Background(), 5)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if saved != 0 || store.Len() != 0 {
		t.Errorf("failed handshakes must persist nothing, got saved=%d stored=%d", saved, store.Len())
	}
	if e.Failed() != 5 {
		t.Errorf("Failed() = %d, want 5", e.Failed())
	}
}

func TestRunZeroTasks(t *testing.T) {
	e, _ := testEngine(t, 2, &stubHandshake{})
	saved, err := e.Run(context.Background(), 0)
	if err != nil || saved != 0 {
		t.Errorf("Run(0) = %d, %v; want 0, nil", saved, err)
	}
}

func TestRunStopsSchedulingOnCancel(t *testing.T) {
	hs := &stubHandshake{}
	e, _ := testEngine(t, 1, hs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	saved, err := e.Run(ctx, 50)
	if err != nil {
		t.Fatalf("Run() on cancelled ctx error = %v", err)
	}
	if saved != 0 {
		t.Errorf("Run() on cancelled ctx saved %d devices", saved)
	}
}
