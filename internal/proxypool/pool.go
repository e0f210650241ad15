// Package proxypool implements the latency-ordered proxy client pool: a
// min-heap of HTTP clients keyed by an exponentially-averaged latency,
// biased-random selection for outbound requests, and append-only reloading
// from a proxy list file.
package proxypool

import (
	"bufio"
	"container/heap"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"cpen442miner/internal/logger"
	"cpen442miner/internal/mineerr"
)

// ReloadTimeout is the per-client timeout used for proxies discovered via
// ReloadFromFile.
const ReloadTimeout = 8 * time.Second

// Pool is a mutex-guarded min-heap of proxy Clients plus the set of URLs
// already known, so ReloadFromFile stays append-only.
type Pool struct {
	mu       sync.Mutex
	h        clientHeap
	seenURLs map[string]struct{}
	path     string
}

// New builds an empty pool and, if path is non-empty, loads it immediately.
func New(path string) (*Pool, error) {
	p := &Pool{
		seenURLs: make(map[string]struct{}),
		path:     path,
	}
	if path == "" {
		return p, nil
	}
	if err := p.ReloadFromFile(); err != nil {
		return nil, err
	}
	return p, nil
}

// Len reports the number of clients currently resting in the heap
// (excludes outstanding checkouts).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.h)
}

// GetClients atomically withdraws up to n entries using a biased-random
// policy: with thresh = 2/n, each popped entry is kept with probability
// thresh, except that once the remaining heap is no longer larger than the
// remaining budget, every further pop is kept unconditionally (there's
// nothing left to be biased against). Entries considered but not kept are
// set aside and pushed back once selection finishes, so bias toward the
// fastest clients does not stop later selections from reaching them
// after all.
func (p *Pool) GetClients(n int) []*Guard {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n > len(p.h) {
		n = len(p.h)
	}
	if n <= 0 {
		return nil
	}

	thresh := 2.0 / float64(n)

	kept := make([]*Client, 0, n)
	rejected := make([]*Client, 0, len(p.h))

	for len(kept) < n && len(p.h) > 0 {
		nRemaining := n - len(kept)
		c := heap.Pop(&p.h).(*Client)

		if len(p.h) <= nRemaining-1 || rand.Float64() < thresh {
			kept = append(kept, c)
		} else {
			rejected = append(rejected, c)
		}
	}

	for _, c := range rejected {
		heap.Push(&p.h, c)
	}

	guards := make([]*Guard, len(kept))
	for i, c := range kept {
		guards[i] = &Guard{pool: p, client: c}
	}
	return guards
}

// returnClient re-inserts a checked-out client unless it has crossed the
// "bad" threshold, in which case it is dropped and logged.
func (p *Pool) returnClient(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.bad() {
		logger.Get().Warn("dropping bad proxy", "url", c.url, "fail_count", c.failCount)
		return
	}
	heap.Push(&p.h, c)
}

// ReloadFromFile re-reads the proxy list file and pushes any URL not
// already known; duplicates are skipped, and lines that fail to parse or
// build are logged and discarded. Safe to call periodically.
func (p *Pool) ReloadFromFile() error {
	if p.path == "" {
		return nil
	}

	f, err := os.Open(p.path)
	if err != nil {
		return mineerr.NewIo(err)
	}
	defer f.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if _, ok := p.seenURLs[line]; ok {
			continue
		}

		c, err := newClient(line, ReloadTimeout)
		if err != nil {
			logger.Get().Warn("bad proxy line", "line", line, "error", err)
			continue
		}

		logger.Get().Info("new proxy", "url", line)
		heap.Push(&p.h, c)
		p.seenURLs[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return mineerr.NewIo(err)
	}

	return nil
}

// clientHeap implements container/heap.Interface as a min-heap ordered by
// latency.
type clientHeap []*Client

func (h clientHeap) Len() int            { return len(h) }
func (h clientHeap) Less(i, j int) bool  { return h[i].latency < h[j].latency }
func (h clientHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *clientHeap) Push(x any)         { *h = append(*h, x.(*Client)) }
func (h *clientHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
