// Package tracker maintains the freshest head hash and difficulty against
// the coin service's HTTP API, arbitrating between a direct client and a
// pool of proxies, and submits claims on the coordinator's behalf.
package tracker

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"cpen442miner/internal/coin"
	"cpen442miner/internal/config"
	"cpen442miner/internal/logger"
	"cpen442miner/internal/mineerr"
	"cpen442miner/internal/proxypool"
	"cpen442miner/internal/worker"
)

const (
	lastCoinPath   = "/last_coin"
	difficultyPath = "/difficulty"
	claimCoinPath  = "/claim_coin"

	defaultBaseURL = "http://cpen442coin.ece.ubc.ca"
)

// Direct-client rate caps, in requests per 60-second window.
const (
	directHeadCap       = 5
	directDifficultyCap = 2
	directClaimCap      = 10
)

// pollFanout is how many proxy clients one background poll tick spreads a
// request across before giving up.
const pollFanout = 8

// Tracker is the head/difficulty/claim client. All exported methods are
// safe for concurrent use by the coordinator and the background poller.
type Tracker struct {
	minerID string
	baseURL string

	direct   *http.Client
	headWin  *rateWindow
	diffWin  *rateWindow
	claimWin *rateWindow
	proxies  *proxypool.Pool

	Head       worker.Cell[string]
	Difficulty worker.Cell[int]

	fake     bool
	fakeHead string        // only meaningful when fake
	fakeMu   chan struct{} // binary mutex via buffered channel of size 1
}

// New builds a live tracker against the coin service, backed by the given
// proxy pool (may be empty).
func New(minerID string, proxies *proxypool.Pool, cfg *config.NetworkConfig) *Tracker {
	t := &Tracker{
		minerID:  minerID,
		baseURL:  defaultBaseURL,
		direct:   &http.Client{Timeout: cfg.DirectTimeout},
		headWin:  newRateWindow(directHeadCap),
		diffWin:  newRateWindow(directDifficultyCap),
		claimWin: newRateWindow(directClaimCap),
		proxies:  proxies,
	}
	t.Head.Publish(seedHead(minerID))
	t.Difficulty.Publish(8)
	return t
}

// NewFake builds an in-process synthetic tracker: no network traffic, a
// locally-verified claim path, and a freshly seeded starting head whose
// first four bytes are zero (satisfying a difficulty-8 target immediately).
func NewFake(minerID string) *Tracker {
	t := &Tracker{
		minerID:  minerID,
		fake:     true,
		fakeHead: seedHead(minerID),
		fakeMu:   make(chan struct{}, 1),
	}
	t.fakeMu <- struct{}{}
	t.Head.Publish(t.fakeHead)
	t.Difficulty.Publish(8)
	return t
}

// seedHead derives a plausible starting head the same way the fake tracker
// and the live tracker's initial shared-cell seed do: MD5(minerID ||
// random 4 bytes) with the first four bytes zeroed and hex-encoded.
func seedHead(minerID string) string {
	var r [4]byte
	binaryFill(r[:])

	h := md5.New()
	h.Write([]byte(minerID))
	h.Write(r[:])
	sum := h.Sum(nil)
	sum[0], sum[1], sum[2], sum[3] = 0, 0, 0, 0

	return hex.EncodeToString(sum)
}

func binaryFill(b []byte) {
	for i := range b {
		b[i] = byte(rand.IntN(256))
	}
}

// IsFake reports whether this tracker is running against the in-process
// synthetic service.
func (t *Tracker) IsFake() bool { return t.fake }

// MinerID returns the configured miner identity.
func (t *Tracker) MinerID() string { return t.minerID }

// GetLastHead returns the freshest known head, refreshing it from the
// network (subject to the direct-client rate window) when fake mode is off.
func (t *Tracker) GetLastHead(ctx context.Context) (string, error) {
	if t.fake {
		return t.fakeHead, nil
	}

	if t.headWin.TryAcquire() {
		if err := t.fetchHead(ctx, t.direct); err == nil {
			v, _ := t.Head.Peek()
			return v, nil
		} else {
			logger.Get().Debug("direct last_coin request failed", "error", err)
		}
	}

	if v, ok := t.Head.Peek(); ok {
		return v, nil
	}
	return "", mineerr.NewAllRequestsFailed("no head available yet")
}

// GetDifficulty returns the freshest known difficulty, refreshing it from
// the network (subject to its own, tighter rate window) when fake mode is
// off. Values >= coin.MaxDifficulty are rejected as implausible.
func (t *Tracker) GetDifficulty(ctx context.Context) (int, error) {
	if t.fake {
		v, _ := t.Difficulty.Peek()
		return v, nil
	}

	if t.diffWin.TryAcquire() {
		if err := t.fetchDifficulty(ctx, t.direct); err != nil {
			logger.Get().Debug("direct difficulty request failed", "error", err)
		}
	}

	if v, ok := t.Difficulty.Peek(); ok {
		return v, nil
	}
	return 8, nil
}

// fetchHead issues one last_coin request on the given client, validates the
// coin_id, and publishes it on success.
func (t *Tracker) fetchHead(ctx context.Context, client *http.Client) error {
	var resp lastCoinResp
	if err := t.postJSON(ctx, client, t.baseURL+lastCoinPath, nil, &resp); err != nil {
		return err
	}
	if err := validateCoinID(resp.CoinID); err != nil {
		return err
	}
	t.Head.Publish(resp.CoinID)
	return nil
}

// fetchDifficulty issues one difficulty request on the given client and
// publishes the value unless it is implausibly large.
func (t *Tracker) fetchDifficulty(ctx context.Context, client *http.Client) error {
	var resp difficultyResp
	if err := t.postJSON(ctx, client, t.baseURL+difficultyPath, nil, &resp); err != nil {
		return err
	}
	if resp.NumberOfLeadingZeros < 0 || resp.NumberOfLeadingZeros >= coin.MaxDifficulty {
		return mineerr.NewMsg("implausible difficulty %d", resp.NumberOfLeadingZeros)
	}
	t.Difficulty.Publish(resp.NumberOfLeadingZeros)
	return nil
}

// validateCoinID checks that s is exactly 32 lowercase hex characters.
func validateCoinID(s string) error {
	if len(s) != coin.MD5HashHexLen || strings.ToLower(s) != s {
		return mineerr.NewMsg("malformed coin_id %q", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return mineerr.NewHex(err)
	}
	return nil
}

// ClaimCoin submits a winning blob against prevHead. In fake mode it
// recomputes the hash locally and advances the synthetic head on success.
// In live mode it tries the direct client first, then up to 6 proxies,
// returning AllRequestsFailed if every attempt fails. A BadCoin rejection
// stops the proxy sweep immediately: the candidate itself is wrong and no
// other network path will change that.
func (t *Tracker) ClaimCoin(ctx context.Context, blob []byte, prevHead string) error {
	if t.fake {
		return t.claimFake(blob, prevHead)
	}

	req := claimCoinReq{
		CoinBlob:       base64.StdEncoding.EncodeToString(blob),
		IDOfMiner:      t.minerID,
		HashOfLastCoin: prevHead,
	}

	if t.claimWin.TryAcquire() {
		err := t.claimCoinDirect(ctx, t.direct, req)
		if err == nil {
			t.Head.Publish(t.claimHash(blob, prevHead))
			return nil
		}
		if mineerr.IsFatal(err) {
			return err
		}
		logger.FromContext(ctx).Debug("direct claim failed, falling back to proxies", "error", err)
	}

	guards := t.proxies.GetClients(6)
	for i, g := range guards {
		access := g.Access()
		err := t.claimCoinDirect(ctx, access.HTTP().HTTP(), req)

		// The proxy is credited with a success on a successful claim, on any
		// non-fatal error (server busy or a timeout), or on a BadCoin verdict.
		var badCoin *mineerr.BadCoinError
		isBad := errors.As(err, &badCoin)
		if err == nil || isBad || !mineerr.IsFatal(err) {
			access.Success()
		}
		access.Close()
		g.Return()

		if err == nil {
			returnAll(guards[i+1:])
			t.Head.Publish(t.claimHash(blob, prevHead))
			return nil
		}
		if mineerr.IsFatal(err) {
			returnAll(guards[i+1:])
			return err
		}
	}

	return mineerr.NewAllRequestsFailed(fmt.Sprintf("%d proxies + direct client", len(guards)))
}

func returnAll(guards []*proxypool.Guard) {
	for _, g := range guards {
		g.Return()
	}
}

// claimHash computes MD5(Prefix || prevHead || blob || minerID) and returns
// its lowercase hex encoding, which becomes the new head on a successful
// claim.
func (t *Tracker) claimHash(blob []byte, prevHead string) string {
	sum := coin.ClaimHash(prevHead, blob, t.minerID)
	return hex.EncodeToString(sum[:])
}

func (t *Tracker) claimFake(blob []byte, prevHead string) error {
	<-t.fakeMu
	defer func() { t.fakeMu <- struct{}{} }()

	sum := coin.ClaimHash(prevHead, blob, t.minerID)
	hHex := hex.EncodeToString(sum[:])

	if sum[0] == 0 && sum[1] == 0 && sum[2] == 0 && sum[3] == 0 {
		t.fakeHead = hHex
		t.Head.Publish(hHex)
		return nil
	}

	var msg bytes.Buffer
	msg.WriteString(coin.Prefix)
	msg.WriteString(prevHead)
	msg.Write(blob)
	msg.WriteString(t.minerID)

	return mineerr.NewBadCoin(fmt.Sprintf("Invalid Coin Hash: %s Coin: %s", hHex, hex.EncodeToString(msg.Bytes())))
}

func (t *Tracker) claimCoinDirect(ctx context.Context, client *http.Client, req claimCoinReq) error {
	body, err := json.Marshal(req)
	if err != nil {
		return mineerr.NewMsg("marshal claim request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+claimCoinPath, bytes.NewReader(body))
	if err != nil {
		return mineerr.NewRequest(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", randomUserAgent())
	httpReq.Header.Set("X-Forwarded-For", randomForwardedFor())

	resp, err := client.Do(httpReq)
	if err != nil {
		return mineerr.NewRequest(err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)

	if mineerr.IsServerBusy(resp.StatusCode) {
		return mineerr.NewServerBusy(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusBadRequest {
		var cr claimCoinResp
		_ = json.Unmarshal(data, &cr)
		return mineerr.NewBadCoin(cr.Fail)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mineerr.NewMsg("claim_coin failed http %d", resp.StatusCode)
	}

	var cr claimCoinResp
	if err := json.Unmarshal(data, &cr); err != nil {
		return mineerr.NewMsg("unmarshal claim response: %v", err)
	}
	if cr.Fail != "" {
		return mineerr.NewBadCoin(cr.Fail)
	}
	return nil
}

func (t *Tracker) postJSON(ctx context.Context, client *http.Client, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return mineerr.NewMsg("marshal request: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return mineerr.NewRequest(err)
	}
	httpReq.Header.Set("User-Agent", randomUserAgent())
	httpReq.Header.Set("X-Forwarded-For", randomForwardedFor())

	resp, err := client.Do(httpReq)
	if err != nil {
		return mineerr.NewRequest(err)
	}
	defer resp.Body.Close()

	if mineerr.IsServerBusy(resp.StatusCode) {
		return mineerr.NewServerBusy(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mineerr.NewMsg("request to %s failed http %d", url, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// StartBackground spawns the poller goroutine (skipped in fake mode).
func (t *Tracker) StartBackground(ctx context.Context, pollInterval time.Duration) {
	if t.fake {
		return
	}
	go t.pollLoop(ctx, pollInterval)
}

func (t *Tracker) pollLoop(ctx context.Context, pollInterval time.Duration) {
	headTimer := coin.NewTimer(pollInterval)
	diffTimer := coin.NewTimer(2 * pollInterval)
	rescanTimer := coin.NewTimer(60 * time.Second)
	staleWarnTimer := coin.NewTimer(30 * time.Second)

	lastSeenHead, _ := t.Head.Peek()
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if headTimer.CheckAndResetRT() {
			if err := t.pollOnce(ctx, t.headWin, t.fetchHead); err != nil {
				consecutiveFailures++
				logger.Get().Debug("background head poll failed", "error", err)
			} else {
				consecutiveFailures = 0
			}
		}

		if diffTimer.CheckAndResetRT() {
			if err := t.pollOnce(ctx, t.diffWin, t.fetchDifficulty); err != nil {
				consecutiveFailures++
				logger.Get().Debug("background difficulty poll failed", "error", err)
			} else {
				consecutiveFailures = 0
			}
		}

		if rescanTimer.CheckAndResetRT() && t.proxies != nil {
			if err := t.proxies.ReloadFromFile(); err != nil {
				logger.Get().Warn("proxy file rescan failed", "error", err)
			}
		}

		if staleWarnTimer.CheckAndResetRT() {
			cur, _ := t.Head.Peek()
			if cur == lastSeenHead {
				logger.Get().Warn("head has not changed in 30s", "head", cur)
			}
			lastSeenHead = cur
		}

		if consecutiveFailures > 5 {
			time.Sleep(10 * time.Second)
			consecutiveFailures = 0
		}

		time.Sleep(25 * time.Millisecond)
	}
}

// pollOnce fans one request across up to pollFanout proxy clients, stopping
// at the first validated response. With no proxies checked out it falls
// back to the direct client, subject to that endpoint's rate window.
func (t *Tracker) pollOnce(ctx context.Context, win *rateWindow, fetch func(context.Context, *http.Client) error) error {
	guards := t.proxies.GetClients(pollFanout)
	if len(guards) == 0 {
		if !win.TryAcquire() {
			return mineerr.NewAllRequestsFailed("no proxies available and direct rate window exhausted")
		}
		return fetch(ctx, t.direct)
	}

	var lastErr error
	done := false
	for _, g := range guards {
		if done {
			g.Return()
			continue
		}
		access := g.Access()
		if err := fetch(ctx, access.HTTP().HTTP()); err != nil {
			lastErr = err
		} else {
			access.Success()
			done = true
		}
		access.Close()
		g.Return()
	}
	if done {
		return nil
	}
	return lastErr
}
