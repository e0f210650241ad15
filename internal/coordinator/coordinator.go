// Package coordinator implements the mining manager: it owns the CPU and
// GPU worker pools, validates and claims candidates those workers find,
// broadcasts head/difficulty updates down to every worker, and prints
// periodic hash-rate stats.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"cpen442miner/internal/coin"
	"cpen442miner/internal/config"
	"cpen442miner/internal/cpuworker"
	"cpen442miner/internal/gpuworker"
	"cpen442miner/internal/logger"
	"cpen442miner/internal/mineerr"
	"cpen442miner/internal/tracker"
	"cpen442miner/internal/wallet"
	"cpen442miner/internal/worker"
)

// recentBadThreshold and badCoinResetWindow gate claim submission after a
// run of rejected candidates: too many bad coins in a row pauses
// submission until the window closes.
const (
	recentBadThreshold = 5
	badCoinResetWindow = 60 * time.Second
	claimTimeout       = 10 * time.Second
	loopTick           = 10 * time.Millisecond
	statResetPeriod    = 10 * time.Minute
	maxQueuedClaims    = 32
)

// workerHandle bundles one running worker with the plumbing the
// coordinator uses to drive it: its own SharedState (so publishing a new
// head to one worker can never be silently consumed by another), its own
// stats channel, and a done channel its goroutine reports through.
type workerHandle struct {
	kind        string
	id          int
	deviceIndex int // gpu workers only
	w           worker.Worker
	state       *worker.SharedState
	statsCh     chan worker.Stats
	done        chan error
}

// Coordinator is the mining manager. All of its mutable state is owned by
// the single goroutine running Run; workers communicate back exclusively
// through channels and their shared cells.
type Coordinator struct {
	minerID string
	tr      *tracker.Tracker
	wal     *wallet.Wallet
	net     config.NetworkConfig
	gpu     config.GPUSettings

	candidatesCh chan worker.Candidate

	numCPU     int
	cpuSeq     int
	gpuSeq     int
	gpuIndices []int // registered device indices still considered usable
	nextGPU    int

	cpu  []*workerHandle
	gpuw []*workerHandle

	coinsMined   int
	coinsLost    int
	recentBad    int
	lastBadAt    time.Time
	queuedClaims []worker.Candidate

	lastHead string
	lastDiff int

	statTotal uint64
	statStart time.Time
	badWarn   *coin.Timer
}

// New builds a Coordinator. The tracker must already have a seeded head and
// difficulty (both New and NewFake guarantee this). wal may be nil when no
// wallet file was configured.
func New(minerID string, tr *tracker.Tracker, wal *wallet.Wallet, net config.NetworkConfig, gpu config.GPUSettings) *Coordinator {
	return &Coordinator{
		minerID:      minerID,
		tr:           tr,
		wal:          wal,
		net:          net,
		gpu:          gpu,
		candidatesCh: make(chan worker.Candidate, 2),
		badWarn:      coin.NewTimer(5 * time.Second),
	}
}

// Run starts numCPU CPU workers (runtime.NumCPU() if <= 0) and, when
// gpuEnabled, one GPU worker per entry in gpuDeviceIndices, or one per
// device ListDevices reports when gpuDeviceIndices is empty. It blocks until
// ctx is cancelled, then stops and joins every worker before returning.
func (c *Coordinator) Run(ctx context.Context, numCPU int, gpuEnabled bool, gpuDeviceIndices []int) error {
	log := logger.Get()

	if numCPU <= 0 {
		numCPU = runtime.NumCPU()
	}
	c.numCPU = numCPU

	if gpuEnabled {
		indices := gpuDeviceIndices
		if len(indices) == 0 {
			devices, err := gpuworker.ListDevices()
			if err != nil {
				log.Warn("gpu device enumeration failed, running without gpu workers", "error", err)
			}
			for _, d := range devices {
				indices = append(indices, d.Index)
			}
		}
		c.gpuIndices = indices
	}

	c.topUpWorkers()

	if len(c.cpu)+len(c.gpuw) == 0 {
		return mineerr.NewMsg("no workers started (cpu=%d, gpu_enabled=%v)", numCPU, gpuEnabled)
	}

	log.Info("worker pool started", "cpu_workers", len(c.cpu), "gpu_workers", len(c.gpuw))

	c.mainLoop(ctx)
	c.stopAndJoin()
	return nil
}

// mainLoop is the coordinator's hot loop: candidate intake runs as fast as
// candidates arrive, while pool maintenance, head/difficulty refresh, and
// stats printing are paced by their own timers.
func (c *Coordinator) mainLoop(ctx context.Context) {
	coinCheck := coin.NewTimer(c.net.CoinCheckPeriod)
	statsPrint := coin.NewTimer(c.net.StatsPrintPeriod)
	statReset := coin.NewTimer(statResetPeriod)
	stopMiner := coin.NewTimer(c.net.StopMinerPeriod)
	c.statStart = time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case cand := <-c.candidatesCh:
			c.handleCandidate(ctx, cand)
			continue
		default:
		}

		c.topUpWorkers()
		c.pruneWorkers()
		c.collectStats()

		if coinCheck.CheckAndResetRT() {
			c.refreshAndBroadcast(ctx)
			c.drainClaimQueue(ctx)
		}

		if statsPrint.CheckAndResetRT() {
			c.printStats()
		}

		if statReset.CheckAndResetRT() {
			c.statTotal = 0
			c.statStart = time.Now()
		}

		// Periodically stop one CPU worker; prune reaps it and the next
		// top-up starts a fresh one in its place.
		if c.net.StopMinerPeriod > 0 && stopMiner.CheckAndReset() {
			c.stopOneCPUWorker()
		}

		time.Sleep(loopTick)
	}
}

// topUpWorkers keeps len(cpu) at numCPU and one GPU worker running per
// registered device, starting at most one new GPU worker per call so
// multiple devices come up in rotation rather than all-at-once.
func (c *Coordinator) topUpWorkers() {
	for len(c.cpu) < c.numCPU {
		c.startCPUWorker()
	}

	if len(c.gpuIndices) == 0 || len(c.gpuw) >= len(c.gpuIndices) {
		return
	}

	running := make(map[int]bool, len(c.gpuw))
	for _, h := range c.gpuw {
		running[h.deviceIndex] = true
	}

	for range c.gpuIndices {
		devIdx := c.gpuIndices[c.nextGPU%len(c.gpuIndices)]
		c.nextGPU++
		if running[devIdx] {
			continue
		}
		if err := c.startGPUWorker(devIdx); err != nil {
			logger.Get().Warn("failed to open gpu device, dropping it", "device_index", devIdx, "error", err)
			c.dropGPUIndex(devIdx)
		}
		return
	}
}

// pruneWorkers reaps at most one exited worker per kind per call; topUp on
// the next iteration replaces it.
func (c *Coordinator) pruneWorkers() {
	for i, h := range c.cpu {
		select {
		case err := <-h.done:
			if err != nil {
				logger.Get().Error("cpu worker exited with error", "id", h.id, "error", err)
			}
			c.cpu = append(c.cpu[:i], c.cpu[i+1:]...)
		default:
			continue
		}
		break
	}

	for i, h := range c.gpuw {
		select {
		case err := <-h.done:
			if err != nil {
				logger.Get().Error("gpu worker exited with error, dropping its device",
					"id", h.id, "device_index", h.deviceIndex, "error", err)
				c.dropGPUIndex(h.deviceIndex)
			}
			c.gpuw = append(c.gpuw[:i], c.gpuw[i+1:]...)
		default:
			continue
		}
		break
	}
}

func (c *Coordinator) dropGPUIndex(devIdx int) {
	for i, v := range c.gpuIndices {
		if v == devIdx {
			c.gpuIndices = append(c.gpuIndices[:i], c.gpuIndices[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) startCPUWorker() {
	w := cpuworker.New(c.cpuSeq, c.minerID)
	h := &workerHandle{kind: "cpu", id: c.cpuSeq, w: w, state: c.seededState(), statsCh: make(chan worker.Stats, 4), done: make(chan error, 1)}
	c.cpuSeq++
	c.cpu = append(c.cpu, h)
	c.spawn(h)
}

func (c *Coordinator) startGPUWorker(deviceIndex int) error {
	d, err := gpuworker.Open(deviceIndex)
	if err != nil {
		return err
	}
	w := gpuworker.New(c.gpuSeq, c.minerID, d, c.gpu.MaxLoopMS, c.gpu.ThrottleOf100)
	h := &workerHandle{kind: "gpu", id: c.gpuSeq, deviceIndex: deviceIndex, w: w, state: c.seededState(), statsCh: make(chan worker.Stats, 4), done: make(chan error, 1)}
	c.gpuSeq++
	c.gpuw = append(c.gpuw, h)
	c.spawn(h)
	return nil
}

func (c *Coordinator) spawn(h *workerHandle) {
	go func() {
		h.done <- h.w.Run(h.state, h.statsCh, c.candidatesCh)
	}()
}

// seededState builds a SharedState pre-loaded with whatever head/difficulty
// the tracker already knows, so a newly started worker does not have to
// wait a full poll interval before it can grind.
func (c *Coordinator) seededState() *worker.SharedState {
	state := &worker.SharedState{}
	if head, ok := c.tr.Head.Peek(); ok {
		state.PrevHead.Publish(head)
	}
	if diff, ok := c.tr.Difficulty.Peek(); ok {
		state.Difficulty.Publish(diff)
	}
	return state
}

// handleCandidate re-validates a candidate against the coordinator's
// current view of head/difficulty (a worker may have found it against a
// head that has since moved on) before attempting to claim it.
func (c *Coordinator) handleCandidate(ctx context.Context, cand worker.Candidate) {
	if c.recentBad >= recentBadThreshold {
		if time.Since(c.lastBadAt) < badCoinResetWindow {
			if c.badWarn.CheckAndReset() {
				logger.Get().Warn("too many rejected coins recently, refusing candidates until the cooldown passes",
					"recent_bad", c.recentBad)
			}
			return
		}
		c.recentBad = 0
	}

	head, ok := c.tr.Head.Peek()
	if !ok || cand.PrevHead != head {
		logger.Get().Debug("dropping stale candidate", "candidate_head", cand.PrevHead, "current_head", head)
		return
	}

	diff, _ := c.tr.Difficulty.Peek()
	if cand.NumZeros < diff {
		logger.Get().Debug("dropping candidate below current difficulty", "have", cand.NumZeros, "need", diff)
		return
	}

	sum := coin.ClaimHash(cand.PrevHead, cand.Blob, c.minerID)
	if !coin.HashStartsNZeroes(sum[:], diff) {
		logger.Get().Error("bad hash: local recheck failed, discarding candidate",
			"head", cand.PrevHead, "need_zeros", diff)
		c.coinsLost++
		c.recentBad++
		c.lastBadAt = time.Now()
		return
	}

	c.submitClaim(ctx, cand)
}

// submitClaim attempts one claim. A BadCoin or all-requests-failed outcome
// counts against the cooldown gate; a success advances the head everywhere
// and records the coin to the wallet.
func (c *Coordinator) submitClaim(ctx context.Context, cand worker.Candidate) {
	cctx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()
	cctx = logger.WithContext(cctx, logger.Get().With("prev_head", cand.PrevHead))

	err := c.tr.ClaimCoin(cctx, cand.Blob, cand.PrevHead)
	if err == nil {
		c.coinsMined++
		c.recentBad = 0

		newHead, _ := c.tr.Head.Peek()
		diff, _ := c.tr.Difficulty.Peek()
		c.broadcast(newHead, diff)

		if c.wal != nil {
			if werr := c.wal.Store(cand.PrevHead, cand.Blob); werr != nil {
				logger.Get().Error("failed to record claimed coin to wallet", "error", werr)
			}
		}
		logger.Get().Info("claimed coin", "new_head", newHead, "mined", c.coinsMined)
		return
	}

	var badCoin *mineerr.BadCoinError
	var allFailed *mineerr.AllRequestsFailedError
	if errors.As(err, &badCoin) || errors.As(err, &allFailed) {
		c.coinsLost++
		c.recentBad++
		c.lastBadAt = time.Now()
		logger.Get().Warn("coin rejected", "error", err, "recent_bad", c.recentBad)
		return
	}

	logger.Get().Warn("claim failed, queueing for retry", "error", err)
	if len(c.queuedClaims) >= maxQueuedClaims {
		c.coinsLost++
		c.queuedClaims = c.queuedClaims[1:]
	}
	c.queuedClaims = append(c.queuedClaims, cand)
}

// drainClaimQueue re-runs queued candidates through full validation; a
// retry against a head that has since moved on is dropped there rather
// than submitted.
func (c *Coordinator) drainClaimQueue(ctx context.Context) {
	queue := c.queuedClaims
	c.queuedClaims = nil
	for _, cand := range queue {
		c.handleCandidate(ctx, cand)
	}
}

func (c *Coordinator) stopOneCPUWorker() {
	if len(c.cpu) == 0 {
		return
	}
	h := c.cpu[0]
	h.state.StopFlag.Store(true)
	h.w.Stop()
}

// refreshAndBroadcast polls the tracker for the freshest head/difficulty
// and, on change, pushes them to every worker's own cell and clears the
// bad-coin counter (a moved head means the old rejections are moot).
func (c *Coordinator) refreshAndBroadcast(ctx context.Context) {
	head, err := c.tr.GetLastHead(ctx)
	if err != nil {
		logger.Get().Debug("head refresh failed", "error", err)
		return
	}

	diff, err := c.tr.GetDifficulty(ctx)
	if err != nil {
		logger.Get().Debug("difficulty refresh failed", "error", err)
		diff = c.lastDiff
	}

	if head == c.lastHead && diff == c.lastDiff {
		return
	}
	c.lastHead = head
	c.lastDiff = diff
	c.recentBad = 0
	c.broadcast(head, diff)
}

func (c *Coordinator) broadcast(head string, diff int) {
	for _, h := range c.allHandles() {
		h.state.PrevHead.Publish(head)
		if diff > 0 {
			h.state.Difficulty.Publish(diff)
		}
	}
}

func (c *Coordinator) allHandles() []*workerHandle {
	all := make([]*workerHandle, 0, len(c.cpu)+len(c.gpuw))
	all = append(all, c.cpu...)
	all = append(all, c.gpuw...)
	return all
}

// collectStats drains a bounded number of stats messages from every
// worker's channel into the running total.
func (c *Coordinator) collectStats() {
	for _, h := range c.allHandles() {
	drain:
		for i := 0; i < 4; i++ {
			select {
			case s := <-h.statsCh:
				c.statTotal += s.NHash
			default:
				break drain
			}
		}
	}
}

// printStats logs the hash rate over the current stats window with a
// humanized suffix.
func (c *Coordinator) printStats() {
	seconds := time.Since(c.statStart).Seconds()
	if seconds <= 0 {
		return
	}
	rate := float64(c.statTotal) / seconds

	logger.Get().Info("mining",
		"hash_rate", humanizeHashRate(rate),
		"cpu_workers", len(c.cpu),
		"gpu_workers", len(c.gpuw),
		"mined", c.coinsMined,
		"lost", c.coinsLost)
}

// stopAndJoin flags every worker to stop, then joins them, draining the
// candidate channel throughout so no worker stays blocked on a send.
func (c *Coordinator) stopAndJoin() {
	all := c.allHandles()
	for _, h := range all {
		h.state.StopFlag.Store(true)
		h.w.Stop()
	}

	for _, h := range all {
	join:
		for {
			select {
			case <-h.done:
				break join
			case <-c.candidatesCh:
			}
		}
	}
}

// humanizeHashRate renders a hashes-per-second figure with a K/M/G suffix.
func humanizeHashRate(hashesPerSec float64) string {
	switch {
	case hashesPerSec >= 1e9:
		return fmt.Sprintf("%.2f GH/s", hashesPerSec/1e9)
	case hashesPerSec >= 1e6:
		return fmt.Sprintf("%.2f MH/s", hashesPerSec/1e6)
	case hashesPerSec >= 1e3:
		return fmt.Sprintf("%.2f KH/s", hashesPerSec/1e3)
	default:
		return fmt.Sprintf("%.0f H/s", hashesPerSec)
	}
}
