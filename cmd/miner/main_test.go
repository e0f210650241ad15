package main

import (
	"encoding/hex"
	"testing"

	"cpen442miner/internal/config"
)

func TestResolveIdentityRequiresValue(t *testing.T) {
	cfg := &config.MinerConfig{}
	if _, err := resolveIdentity(cfg); err == nil {
		t.Fatal("expected an error when no identity is configured")
	}
}

func TestResolveIdentityHashesWithMD5(t *testing.T) {
	cfg := &config.MinerConfig{}
	cfg.Identity.Value = "alice"
	cfg.Identity.HashAsMD5 = true

	id, err := resolveIdentity(cfg)
	if err != nil {
		t.Fatalf("resolveIdentity: %v", err)
	}
	if len(id) != 32 {
		t.Fatalf("expected a 32-char hex identity, got %d chars", len(id))
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Fatalf("expected hex identity, got %q", id)
	}
}

func TestResolveIdentityRejectsBadLength(t *testing.T) {
	cfg := &config.MinerConfig{}
	cfg.Identity.Value = "alice"

	if _, err := resolveIdentity(cfg); err == nil {
		t.Fatal("expected a non-hashed identity shorter than 32 hex chars to be rejected")
	}
}

func TestResolveIdentityLowercasesHex(t *testing.T) {
	cfg := &config.MinerConfig{}
	cfg.Identity.Value = "D41F33D21C5B2C49053C2B1CC2A8CC84"

	id, err := resolveIdentity(cfg)
	if err != nil {
		t.Fatalf("resolveIdentity: %v", err)
	}
	if id != "d41f33d21c5b2c49053c2b1cc2a8cc84" {
		t.Fatalf("expected lowercased identity, got %q", id)
	}
}

func TestApplyFlagOverridesMapsUtilizationToThrottle(t *testing.T) {
	cfg := &config.MinerConfig{}
	applyFlagOverrides(cfg, "", false, 0, false, "", "", 0, 0.75, 0, false, false)

	if cfg.GPU.ThrottleOf100 != 25 {
		t.Fatalf("expected 0.75 utilization to become a 25%% throttle, got %d", cfg.GPU.ThrottleOf100)
	}
}
