package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMinerConfigDefaults(t *testing.T) {
	cfg, err := LoadMinerConfig("")
	if err != nil {
		t.Fatalf("LoadMinerConfig failed: %v", err)
	}

	if cfg.Mining.NumCPUWorkers != 0 {
		t.Errorf("expected num_cpu_workers 0 (auto), got %d", cfg.Mining.NumCPUWorkers)
	}
	if !cfg.Mining.GPUEnabled {
		t.Error("expected gpu enabled by default")
	}
	if cfg.Mining.FakeMode {
		t.Error("expected fake mode disabled by default")
	}

	if cfg.GPU.MaxLoopMS != DefaultGPUMaxLoopMS {
		t.Errorf("expected gpu.max_loop_ms %d, got %d", DefaultGPUMaxLoopMS, cfg.GPU.MaxLoopMS)
	}

	if cfg.Network.CoinCheckPeriod != 4000*time.Millisecond {
		t.Errorf("expected coin_check_period 4000ms, got %v", cfg.Network.CoinCheckPeriod)
	}
	if cfg.Network.StopMinerPeriod != 64*time.Second {
		t.Errorf("expected stop_miner_period 64s, got %v", cfg.Network.StopMinerPeriod)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level info, got %q", cfg.Logging.Level)
	}
}

func TestMinerConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*MinerConfig)
	}{
		{"negative cpu workers", func(c *MinerConfig) { c.Mining.NumCPUWorkers = -1 }},
		{"zero max loop ms", func(c *MinerConfig) { c.GPU.MaxLoopMS = 0 }},
		{"throttle out of range", func(c *MinerConfig) { c.GPU.ThrottleOf100 = 101 }},
		{"too-short poll interval", func(c *MinerConfig) { c.Network.PollInterval = time.Millisecond }},
		{"bad logging level", func(c *MinerConfig) { c.Logging.Level = "verbose-ish" }},
		{"bad logging format", func(c *MinerConfig) { c.Logging.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadMinerConfig("")
			if err != nil {
				t.Fatalf("LoadMinerConfig failed: %v", err)
			}
			tc.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected Validate to reject the mutated config")
			}
		})
	}
}

func TestLoadMinerConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "miner-config.yaml")
	contents := "identity:\n  value: \"d41f33d21c5b2c49053c2b1cc2a8cc84\"\nmining:\n  num_cpu_workers: 4\n  gpu_enabled: false\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadMinerConfig(path)
	if err != nil {
		t.Fatalf("LoadMinerConfig failed: %v", err)
	}

	if cfg.Identity.Value != "d41f33d21c5b2c49053c2b1cc2a8cc84" {
		t.Errorf("expected identity from file, got %q", cfg.Identity.Value)
	}
	if cfg.Mining.NumCPUWorkers != 4 {
		t.Errorf("expected num_cpu_workers 4, got %d", cfg.Mining.NumCPUWorkers)
	}
	if cfg.Mining.GPUEnabled {
		t.Error("expected gpu_enabled false from file")
	}
}
