package proxypool

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func seededPool(t *testing.T, latenciesMs ...int) *Pool {
	t.Helper()
	p, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i, ms := range latenciesMs {
		p.h = append(p.h, &Client{
			url:         "http://proxy-" + string(rune('a'+i)) + ":8080",
			latency:     time.Duration(ms) * time.Millisecond,
			lastSuccess: time.Now(),
		})
	}
	fixHeap(&p.h)
	return p
}

// fixHeap restores heap order after directly populating the slice in tests.
func fixHeap(h *clientHeap) {
	n := len(*h)
	for i := n/2 - 1; i >= 0; i-- {
		siftDown(h, i, n)
	}
}

func siftDown(h *clientHeap, i, n int) {
	for {
		l, r, smallest := 2*i+1, 2*i+2, i
		if l < n && (*h)[l].latency < (*h)[smallest].latency {
			smallest = l
		}
		if r < n && (*h)[r].latency < (*h)[smallest].latency {
			smallest = r
		}
		if smallest == i {
			return
		}
		(*h)[i], (*h)[smallest] = (*h)[smallest], (*h)[i]
		i = smallest
	}
}

func TestGetClientsLowestLatencyAlwaysReturned(t *testing.T) {
	p := seededPool(t, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	for trial := 0; trial < 20; trial++ {
		guards := p.GetClients(2)
		if len(guards) != 2 {
			t.Fatalf("expected 2 guards, got %d", len(guards))
		}

		foundLowest := false
		for _, g := range guards {
			if g.Client().latency == time.Millisecond {
				foundLowest = true
			}
			g.Return()
		}
		if !foundLowest {
			t.Fatal("expected the 1ms-latency client to always be among the returned pair")
		}
	}
}

func TestGetClientsCapsAtHeapSize(t *testing.T) {
	p := seededPool(t, 1, 2, 3)
	guards := p.GetClients(10)
	if len(guards) != 3 {
		t.Fatalf("expected GetClients to cap at heap size 3, got %d", len(guards))
	}
	for _, g := range guards {
		g.Return()
	}
	if p.Len() != 3 {
		t.Fatalf("expected all 3 returned, got heap len %d", p.Len())
	}
}

func TestGuardReturnReinsertsGoodClient(t *testing.T) {
	p := seededPool(t, 1, 2)
	guards := p.GetClients(1)
	if len(guards) != 1 {
		t.Fatalf("expected 1 guard, got %d", len(guards))
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 remaining in heap after checkout, got %d", p.Len())
	}

	guards[0].Return()
	if p.Len() != 2 {
		t.Fatalf("expected client returned to heap, got len %d", p.Len())
	}
}

func TestGuardReturnDropsBadClient(t *testing.T) {
	p := seededPool(t, 1)
	guards := p.GetClients(1)
	c := guards[0].Client()
	c.failCount = 101
	c.lastSuccess = time.Now().Add(-11 * time.Minute)

	guards[0].Return()
	if p.Len() != 0 {
		t.Fatalf("expected bad client to be dropped, got heap len %d", p.Len())
	}
}

func TestAccessUpdatesLatencyAndFailCount(t *testing.T) {
	p := seededPool(t, 1)
	guards := p.GetClients(1)
	g := guards[0]

	a := g.Access()
	time.Sleep(time.Millisecond)
	a.Close() // no Success() call -> treated as failure

	if g.Client().failCount != 1 {
		t.Fatalf("expected fail count 1 after unsuccessful access, got %d", g.Client().failCount)
	}

	a2 := g.Access()
	a2.Success()
	a2.Close()

	if g.Client().failCount != 0 {
		t.Fatalf("expected fail count reset to 0 after successful access, got %d", g.Client().failCount)
	}
}

func TestReloadFromFileIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")

	if err := os.WriteFile(path, []byte("http://10.0.0.1:8080\nhttp://10.0.0.2:8080\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 proxies loaded, got %d", p.Len())
	}

	// Appending a duplicate plus one new entry: only the new one should be added.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("http://10.0.0.1:8080\nhttp://10.0.0.3:8080\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	if err := p.ReloadFromFile(); err != nil {
		t.Fatalf("ReloadFromFile: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 proxies after append-only reload, got %d", p.Len())
	}
}
