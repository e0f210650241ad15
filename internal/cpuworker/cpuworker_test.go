package cpuworker

import (
	"testing"
	"time"

	"cpen442miner/internal/coin"
	"cpen442miner/internal/worker"
)

func TestBuildBlobLengthIsMD5BlockMultiple(t *testing.T) {
	start := time.Now().Add(-time.Second)

	cases := []struct {
		prefixLen, suffixLen int
	}{
		{prefixLen: 18 + 32, suffixLen: 32},
		{prefixLen: 18 + 32, suffixLen: 16},
		{prefixLen: 18 + 32, suffixLen: 48},
		{prefixLen: 0, suffixLen: 0},
	}

	for _, c := range cases {
		blob := buildBlob(start, c.prefixLen, c.suffixLen)
		total := c.prefixLen + c.suffixLen + len(blob)
		if total%coin.MD5BlockLen != 0 {
			t.Fatalf("prefixLen=%d suffixLen=%d: total length %d is not a multiple of %d", c.prefixLen, c.suffixLen, total, coin.MD5BlockLen)
		}
		if total > maxBlocks*coin.MD5BlockLen {
			t.Fatalf("prefixLen=%d suffixLen=%d: total length %d exceeds arena cap", c.prefixLen, c.suffixLen, total)
		}
		if len(blob) < 24 {
			t.Fatalf("expected blob to contain at least the 8-byte timestamp and 16-byte random seed, got length %d", len(blob))
		}
	}
}

func TestBuildBlobTimestampAdvancesWithElapsedTime(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	blob := buildBlob(start, 50, 32)

	var elapsed uint64
	for i := 0; i < 8; i++ {
		elapsed |= uint64(blob[i]) << (8 * i)
	}
	if elapsed == 0 {
		t.Fatal("expected nonzero elapsed timestamp after an hour of simulated runtime")
	}
}

func TestGrindWithZeroDifficultyFindsImmediateCandidate(t *testing.T) {
	prefix := []byte(coin.Prefix + "00000000deadbeef00000000deadbeef")
	suffix := []byte("d41f33d21c5b2c49053c2b1cc2a8cc84")
	blob := make([]byte, 64)

	candidatesCh := make(chan worker.Candidate, 1)
	shared := &worker.SharedState{}

	found, hashes := grind(prefix, blob, suffix, "deadbeef", 0, candidatesCh, shared)
	if !found {
		t.Fatal("expected a difficulty-0 grind to always find a candidate on the first hash")
	}
	if hashes != 1 {
		t.Fatalf("expected exactly one hash attempt at difficulty 0, got %d", hashes)
	}

	select {
	case cand := <-candidatesCh:
		if cand.PrevHead != "deadbeef" {
			t.Fatalf("expected candidate to carry the prev head, got %q", cand.PrevHead)
		}
		if len(cand.Blob) != len(blob) {
			t.Fatalf("expected candidate blob length %d, got %d", len(blob), len(cand.Blob))
		}
	default:
		t.Fatal("expected a candidate to be published")
	}
}

func TestGrindStopsWhenStopFlagSet(t *testing.T) {
	prefix := []byte(coin.Prefix + "00000000")
	suffix := []byte("minerid")
	blob := make([]byte, 64)

	candidatesCh := make(chan worker.Candidate, 1)
	shared := &worker.SharedState{}
	shared.StopFlag.Store(true)

	found, hashes := grind(prefix, blob, suffix, "head", coin.MaxDifficulty*4, candidatesCh, shared)
	if found {
		t.Fatal("expected grind to abandon the sweep when the stop flag is already set")
	}
	if hashes != 0 {
		t.Fatalf("expected zero hash attempts once the stop flag is set, got %d", hashes)
	}
}
