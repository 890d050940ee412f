package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/util"
)

func testCfg(size, maxReq int) config.Session {
	return config.Session{
		KeepAlive:   true,
		PoolSize:    size,
		MaxRequests: maxReq,
		Timeout:     15 * time.Second,
	}
}

func TestAcquireRelease(t *testing.T) {
	p := NewPool(testCfg(1, 0))

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Pool of one: a second acquire must block until release.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Acquire() error = %v, want DeadlineExceeded", err)
	}

	p.Release(h)
	h2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	if h2 != h {
		t.Error("expected the same holder back")
	}
	p.Release(h2)
}

func TestHolderExclusivity(t *testing.T) {
	p := NewPool(testCfg(4, 0))

	held := make(map[*Holder]*int32)
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			if held[h] == nil {
				held[h] = new(int32)
			}
			counter := held[h]
			mu.Unlock()

			if n := atomic.AddInt32(counter, 1); n != 1 {
				t.Errorf("holder checked out by %d tasks at once", n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(counter, -1)
			p.Release(h)
		}()
	}
	wg.Wait()
}

func TestRecycleAfterMaxRequests(t *testing.T) {
	p := NewPool(testCfg(1, 2))

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	h.MarkUse()
	p.Release(h)

	h, _ = p.Acquire(context.Background())
	if h.client == nil {
		t.Fatal("session should survive below the request budget")
	}
	h.MarkUse()
	p.Release(h) // usedTasks == 2 == MaxRequests: recycled

	h, _ = p.Acquire(context.Background())
	if h.client != nil {
		t.Error("session should have been torn down at the request budget")
	}
	if h.UsedTasks() != 0 {
		t.Errorf("UsedTasks() = %d after recycle, want 0", h.UsedTasks())
	}
	p.Release(h)
}

func TestEnsureBuildsJarAndProxyTransport(t *testing.T) {
	h := &Holder{cfg: testCfg(1, 0)}
	client, err := h.Ensure()
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if client.Jar == nil {
		t.Error("Ensure() should attach a cookie jar")
	}

	// Same client back on second call.
	client2, _ := h.Ensure()
	if client2 != client {
		t.Error("Ensure() should reuse the existing session")
	}
}

func TestWithProxy(t *testing.T) {
	u, _ := url.Parse("http://proxy:8080")
	ctx := WithProxy(context.Background(), u)

	req, _ := newTestRequest(ctx)
	got, err := proxyFromRequest(req)
	if err != nil || got != u {
		t.Errorf("proxyFromRequest() = %v, %v; want %v", got, err, u)
	}

	req, _ = newTestRequest(context.Background())
	got, err = proxyFromRequest(req)
	if err != nil || got != nil {
		t.Errorf("proxyFromRequest() without proxy = %v, %v; want nil", got, err)
	}
}

func newTestRequest(ctx context.Context) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com/", nil)
}

func TestCloseStopsAcquire(t *testing.T) {
	p := NewPool(testCfg(2, 0))
	p.Close()
	if _, err := p.Acquire(context.Background()); !errors.Is(err, util.ErrPoolClosed) {
		t.Errorf("Acquire() after Close() error = %v, want ErrPoolClosed", err)
	}
}
