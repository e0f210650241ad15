package proxypool

import "time"

// Guard is a scoped checkout of one Client from the pool. Go has no
// destructors, so callers must explicitly defer Guard.Return() immediately
// after a successful GetClients call; the pool's heap-membership invariant
// (every entry is either in the heap or held by exactly one outstanding
// Guard) depends on every checkout being returned.
type Guard struct {
	pool     *Pool
	client   *Client
	returned bool
}

// Client exposes the underlying pooled proxy client.
func (g *Guard) Client() *Client { return g.client }

// Access starts a timed access on the held client; its Close (deferred by
// the caller) updates the EMA latency and failure bookkeeping.
func (g *Guard) Access() *Access {
	return &Access{client: g.client, start: time.Now()}
}

// Return gives the client back to the pool, or discards it if it has
// crossed the "bad" threshold. Calling Return more than once is a no-op.
func (g *Guard) Return() {
	if g.returned {
		return
	}
	g.returned = true
	g.pool.returnClient(g.client)
}

// Access is a single timed use of a Client. The caller must defer Close;
// calling Success before Close marks the access as successful.
type Access struct {
	client  *Client
	start   time.Time
	success bool
	closed  bool
}

// HTTP returns the pooled Client being timed; its HTTP method yields the
// *http.Client for issuing the request.
func (a *Access) HTTP() *Client { return a.client }

// Success marks this access as successful. Call it only after a response
// has been validated, before Close.
func (a *Access) Success() { a.success = true }

// Close finalizes the access: updates the EMA latency by averaging in the
// measured duration, and on failure adds a one-second penalty and bumps the
// failure counter; on success resets the failure counter and refreshes
// last-success. Idempotent.
func (a *Access) Close() {
	if a.closed {
		return
	}
	a.closed = true

	measured := time.Since(a.start)
	a.client.latency = (a.client.latency + measured) / 2

	if a.success {
		a.client.lastSuccess = time.Now()
		a.client.failCount = 0
	} else {
		a.client.latency += time.Second
		a.client.failCount++
	}
}
