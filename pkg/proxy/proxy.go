// Package proxy loads the proxy list and hands proxies out round-robin.
package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/mwzzzh/devreg/pkg/util"
)

// Ring is a round-robin cycle over a fixed proxy list.
type Ring struct {
	mu   sync.Mutex
	urls []*url.URL
	next int
}

// Load reads one proxy URL per line from path. Blank lines are skipped.
// An empty list is a fatal start-up error.
func Load(path string) (*Ring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening proxy file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse builds a ring from newline-separated proxy URLs.
func Parse(r io.Reader) (*Ring, error) {
	var urls []*url.URL
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		s := strings.TrimSpace(scanner.Text())
		if s == "" {
			continue
		}
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("proxy list line %d: %w", line, err)
		}
		urls = append(urls, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading proxy list: %w", err)
	}
	if len(urls) == 0 {
		return nil, util.ErrEmptyProxyList
	}
	return &Ring{urls: urls}, nil
}

// Next returns the next proxy in the cycle.
func (r *Ring) Next() *url.URL {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.urls[r.next]
	r.next = (r.next + 1) % len(r.urls)
	return u
}

// Len returns the number of proxies in the ring.
func (r *Ring) Len() int {
	return len(r.urls)
}
