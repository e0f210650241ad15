// Package cpuworker implements the CPU search worker: a fixed difficulty-8
// grind over an MD5 message built from a prefix/suffix template around a
// randomized, incrementally-mutated blob.
package cpuworker

import (
	"crypto/md5"
	"crypto/rand"
	mrand "math/rand/v2"
	"time"

	"cpen442miner/internal/coin"
	"cpen442miner/internal/logger"
	"cpen442miner/internal/worker"
)

// maxBlocks bounds the candidate-blob arena at 8 MD5 blocks.
const maxBlocks = 8

// fixedDifficulty is the leading-zero-nibble target (8 nibbles, i.e. four
// zero bytes) the CPU worker always grinds for;
// the coordinator re-checks against the service-advertised difficulty
// before claiming.
const fixedDifficulty = 8

// statsFlushInterval is how often the worker reports its hash count.
const statsFlushInterval = 2 * time.Second

// Worker is the CPU search backend.
type Worker struct {
	id      int
	minerID string
	start   time.Time
}

// New builds a CPU worker identified by id, mining against minerID.
func New(id int, minerID string) *Worker {
	return &Worker{id: id, minerID: minerID, start: time.Now()}
}

// Stop is a no-op: cancellation happens through SharedState.StopFlag, which
// the coordinator sets directly before calling this for symmetry with the
// Worker interface.
func (w *Worker) Stop() {}

// Run grinds difficulty-8 candidates until the shared stop flag is set,
// rebuilding its prefix whenever the coordinator publishes a new head.
func (w *Worker) Run(shared *worker.SharedState, statsCh chan<- worker.Stats, candidatesCh chan<- worker.Candidate) error {
	var prevHead string
	var prefix []byte
	suffix := []byte(w.minerID)
	var hashCount uint64
	lastFlush := time.Now()

	log := logger.Get().With("cpu_worker", w.id)

	for !shared.StopFlag.Load() {
		if v, ok := shared.PrevHead.Take(); ok {
			prevHead = v
			prefix = append([]byte(coin.Prefix), []byte(prevHead)...)
		}

		if prevHead == "" {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		blob := buildBlob(w.start, len(prefix), len(suffix))

		found, hashes := grind(prefix, blob, suffix, prevHead, fixedDifficulty, candidatesCh, shared)
		hashCount += hashes

		if time.Since(lastFlush) >= statsFlushInterval {
			select {
			case statsCh <- worker.Stats{NHash: hashCount}:
			default:
			}
			hashCount = 0
			lastFlush = time.Now()
		}

		if found {
			continue
		}

		if shared.StopFlag.Load() {
			select {
			case statsCh <- worker.Stats{NHash: hashCount}:
			default:
			}
			log.Debug("cpu worker stopping")
			return nil
		}
	}

	return nil
}

// buildBlob clears and refills the candidate-blob arena: an 8-byte
// native-endian timestamp (elapsed nanoseconds since worker start), 16
// bytes of cryptographic randomness, then uniformly-random padding so the
// total prefix+blob+suffix length is a whole number of MD5 blocks and stays
// under the arena cap.
func buildBlob(start time.Time, prefixLen, suffixLen int) []byte {
	elapsed := uint64(time.Since(start).Nanoseconds())

	blob := make([]byte, 0, maxBlocks*coin.MD5BlockLen)
	var tsBuf [8]byte
	for i := 0; i < 8; i++ {
		tsBuf[i] = byte(elapsed >> (8 * i))
	}
	blob = append(blob, tsBuf[:]...)

	var cryptoBuf [16]byte
	_, _ = rand.Read(cryptoBuf[:])
	blob = append(blob, cryptoBuf[:]...)

	blockLen := coin.MD5BlockLen
	maxTotal := maxBlocks * blockLen

	fixedLen := prefixLen + suffixLen + len(blob)
	pad := blockLen - (fixedLen % blockLen)
	if pad == blockLen {
		pad = 0
	}
	if fixedLen+pad > maxTotal {
		pad -= blockLen
	}
	if pad < 0 {
		pad = 0
	}

	for i := 0; i < pad; i++ {
		blob = append(blob, byte(mrand.IntN(256)))
	}

	return blob
}

// grind runs the nested x/cb_idx sweep: each iteration mutates one byte of
// the blob by adding x, hashes prefix||blob||suffix, and checks the first
// difficulty hex nibbles for zero. It returns true and publishes a
// Candidate on a hit. difficulty is a parameter rather than the
// fixedDifficulty constant directly so tests can exercise the sweep
// mechanics without needing a real MD5 collision.
func grind(prefix, blob, suffix []byte, prevHead string, difficulty int, candidatesCh chan<- worker.Candidate, shared *worker.SharedState) (bool, uint64) {
	var hashes uint64
	msg := make([]byte, len(prefix)+len(blob)+len(suffix))
	copy(msg, prefix)
	copy(msg[len(prefix)+len(blob):], suffix)

	for x := 0; x < 256; x++ {
		if shared.StopFlag.Load() {
			return false, hashes
		}

		for cbIdx := 0; cbIdx < len(blob); cbIdx++ {
			copy(msg[len(prefix):len(prefix)+len(blob)], blob)

			sum := md5.Sum(msg)
			hashes++

			if coin.HashStartsNZeroes(sum[:], difficulty) {
				out := make([]byte, len(blob))
				copy(out, blob)
				candidatesCh <- worker.Candidate{
					PrevHead: prevHead,
					Blob:     out,
					NumZeros: difficulty,
				}
				return true, hashes
			}

			blob[cbIdx] += byte(x)
		}
	}

	return false, hashes
}
