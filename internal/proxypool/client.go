package proxypool

import (
	"net/http"
	"net/url"
	"time"
)

// Client is one proxied HTTP client in the pool, tracked by an
// exponentially-averaged latency and a rolling failure count.
type Client struct {
	http        *http.Client
	url         string
	latency     time.Duration
	lastSuccess time.Time
	failCount   int
}

func newClient(proxyURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(u)},
		},
		url:         proxyURL,
		latency:     time.Second,
		lastSuccess: time.Now(),
	}, nil
}

// bad reports whether this client has failed so persistently it should be
// dropped rather than returned to the pool: more than 100 failures with no
// success in the last 10 minutes.
func (c *Client) bad() bool {
	return c.failCount > 100 && time.Since(c.lastSuccess) > 10*time.Minute
}

// URL returns the proxy URL this client was built from.
func (c *Client) URL() string { return c.url }

// HTTP returns the underlying *http.Client, for issuing the actual request.
func (c *Client) HTTP() *http.Client { return c.http }
