package gpuworker

import (
	"context"
	"crypto/rand"
	mrand "math/rand/v2"
	"time"

	"cpen442miner/internal/coin"
	"cpen442miner/internal/logger"
	"cpen442miner/internal/worker"
)

// wgMultiplierChangeIterations is how often (in kernel-dispatch loops) the
// adaptive work-group multiplier is reconsidered.
const wgMultiplierChangeIterations = 64

// peakRetryInterval is how long after declaring a peak the worker tries
// doubling the multiplier again, in case conditions improved.
const peakRetryInterval = 10 * time.Minute

// defaultMaxLoopMS is the adaptive sizing policy's default upper bound on a
// single kernel-dispatch loop, when the caller does not override it.
const defaultMaxLoopMS = 500

const statsFlushInterval = 2 * time.Second

// Worker is the GPU search backend: one Dispatcher (one device, one queue,
// one kernel handle), adaptively sized, reporting Candidates reconstructed
// from the kernel's compact hit report.
type Worker struct {
	id          int
	minerID     string
	dispatcher  Dispatcher
	maxLoopMS   int64
	throttleOf  int // percent of iterations to sleep a throttle tick, 0-100
	start       time.Time
}

// New builds a GPU worker around an already-open Dispatcher. maxLoopMS
// bounds the adaptive work-group sizing policy (<=0 uses the 500ms
// default); throttleOf100 sleeps on that percentage of iterations.
func New(id int, minerID string, d Dispatcher, maxLoopMS int, throttleOf100 int) *Worker {
	if maxLoopMS <= 0 {
		maxLoopMS = defaultMaxLoopMS
	}
	return &Worker{
		id:         id,
		minerID:    minerID,
		dispatcher: d,
		maxLoopMS:  int64(maxLoopMS),
		throttleOf: throttleOf100,
		start:      time.Now(),
	}
}

// Stop is a no-op; cancellation happens through SharedState.StopFlag, and
// the GPU worker cannot interrupt an in-flight dispatch, so worst-case
// cancellation latency equals maxLoopMS.
func (w *Worker) Stop() {}

// Run drives the adaptive kernel-dispatch loop until the shared stop flag is
// observed. Each iteration rebuilds the randomized message, launches one
// kernel dispatch, and on a hit reconstructs and publishes the exact
// winning blob.
func (w *Worker) Run(shared *worker.SharedState, statsCh chan<- worker.Stats, candidatesCh chan<- worker.Candidate) error {
	log := logger.Get().With("gpu_worker", w.id)
	defer w.dispatcher.Close()

	prevHead, ok := shared.PrevHead.Take()
	for !ok {
		if shared.StopFlag.Load() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
		prevHead, ok = shared.PrevHead.Take()
	}
	numZeros, _ := shared.Difficulty.Peek()
	if numZeros == 0 {
		numZeros = 8
	}
	word2Mask := numZerosToWord2Mask(numZeros)

	suffix := []byte(w.minerID)
	var message [messageLen]byte
	modStart := len(coin.Prefix) + len(prevHead)
	modEnd := messageLen - len(suffix)

	copy(message[:len(coin.Prefix)], coin.Prefix)
	copy(message[len(coin.Prefix):modStart], prevHead)
	copy(message[modEnd:], suffix)

	devWGSize := w.dispatcher.MaxWorkGroupSize()

	var (
		loopMS                     int64
		loopIterations             uint64
		wgMultiplier               int64 = 1
		lastWGMultiplierHashRate   int64
		wgMultiplierHashCount      uint64
		wgMultiplierRuntimeMS      int64
		wgMultiplierFoundPeak      bool
		wgFoundPeakTime            time.Time
		statHashCounter            uint64
	)

	lastFlush := time.Now()

	for !shared.StopFlag.Load() {
		loopStart := time.Now()

		wgSize := devWGSize * int(wgMultiplier)
		if wgSize < 1 {
			wgSize = devWGSize
		}

		refreshMessage(message[:], modStart, modEnd, w.start)

		in := DispatchInput{
			Message:        message,
			Word2Mask:      word2Mask,
			R:              [3]uint32{randUint32(), mrand.Uint32(), randUint32()},
			GlobalWorkSize: wgSize,
		}

		out, err := w.dispatcher.Dispatch(context.Background(), in)
		if err != nil {
			return err
		}

		loopIterMS := time.Since(loopStart).Milliseconds()
		loopMS = (loopMS + loopIterMS) / 2
		wgMultiplierRuntimeMS += loopIterMS

		if v, ok := shared.PrevHead.Take(); ok {
			prevHead = v
			copy(message[len(coin.Prefix):modStart], prevHead)
			continue
		}

		if v, ok := shared.Difficulty.Take(); ok {
			numZeros = v
			word2Mask = numZerosToWord2Mask(numZeros)
		}

		if out.Found {
			blob := ReconstructBlob(message[:], modStart, modEnd, out.ID, out.Idx, out.Idx2, in.R)
			// A full candidate channel briefly blocks this loop; that's
			// acceptable since the worker's purpose is discharged once a
			// winning coin is in flight to the coordinator.
			candidatesCh <- worker.Candidate{PrevHead: prevHead, Blob: blob, NumZeros: numZeros}
		}

		loopIterations++

		nhashes := uint64(nLoops) * uint64(nLoops2) * uint64(wgSize)
		statHashCounter += nhashes
		wgMultiplierHashCount += nhashes

		if time.Since(lastFlush) >= statsFlushInterval {
			select {
			case statsCh <- worker.Stats{NHash: statHashCounter}:
			default:
			}
			statHashCounter = 0
			lastFlush = time.Now()
		}

		if w.throttleOf > 0 && loopIterations%100 < uint64(w.throttleOf) {
			time.Sleep(2 * time.Duration(loopMS) * time.Millisecond)
		}

		if loopIterations%wgMultiplierChangeIterations == 0 && wgMultiplierRuntimeMS > 0 {
			hashRate := 1000 * int64(wgMultiplierHashCount) / wgMultiplierRuntimeMS
			curLoopMS := wgMultiplierRuntimeMS / wgMultiplierChangeIterations

			if !wgMultiplierFoundPeak {
				switch {
				case curLoopMS > w.maxLoopMS:
					wgMultiplier /= 2
					wgMultiplierFoundPeak = true
					wgFoundPeakTime = time.Now()
				case hashRate < lastWGMultiplierHashRate:
					wgMultiplier /= 2
					wgMultiplierFoundPeak = true
					wgFoundPeakTime = time.Now()
				default:
					wgMultiplier *= 2
				}
			} else if time.Since(wgFoundPeakTime) > peakRetryInterval {
				wgMultiplier *= 2
				wgMultiplierFoundPeak = false
			}

			if wgMultiplier < 1 {
				wgMultiplier = 1
			}

			lastWGMultiplierHashRate = hashRate
			wgMultiplierHashCount = 0
			wgMultiplierRuntimeMS = 0
		}
	}

	select {
	case statsCh <- worker.Stats{NHash: statHashCounter}:
	default:
	}
	log.Debug("gpu worker stopping")
	return nil
}

// refreshMessage rewrites the modifiable [modStart, modEnd) region with a
// fresh entropy mix: an 8-byte native-endian elapsed-time stamp, two
// independent 16-byte cryptographic-RNG draws, then uniformly-random
// padding filling the rest: the same three-source mix as the CPU worker,
// adapted to the GPU message's fixed-size modifiable region.
func refreshMessage(message []byte, modStart, modEnd int, start time.Time) {
	i := modStart

	elapsed := uint64(time.Since(start).Nanoseconds())
	for b := 0; b < 8 && i < modEnd; b, i = b+1, i+1 {
		message[i] = byte(elapsed >> (8 * b))
	}

	for _, n := range [2]int{16, 16} {
		end := i + n
		if end > modEnd {
			end = modEnd
		}
		_, _ = rand.Read(message[i:end])
		i = end
	}

	for ; i < modEnd; i++ {
		message[i] = byte(mrand.IntN(256))
	}
}

func randUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
