// Command miner runs the CPEN442 Coin mining client: it grinds MD5
// proof-of-work candidates on the CPU and, when built with OpenCL support,
// on any number of GPU devices, submitting winning coins to the coin
// service and recording them to a local wallet file.
package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cpen442miner/internal/coin"
	"cpen442miner/internal/config"
	"cpen442miner/internal/coordinator"
	"cpen442miner/internal/gpuworker"
	"cpen442miner/internal/logger"
	"cpen442miner/internal/proxypool"
	"cpen442miner/internal/tracker"
	"cpen442miner/internal/wallet"
)

// intList collects a repeatable -cl-device flag into a slice of ints.
type intList []int

func (l *intList) String() string {
	strs := make([]string, len(*l))
	for i, v := range *l {
		strs[i] = strconv.Itoa(v)
	}
	return strings.Join(strs, ",")
}

func (l *intList) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid device index %q: %w", s, err)
	}
	*l = append(*l, n)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath    string
		identity      string
		md5Identity   bool
		numCPU        int
		fakeMode      bool
		outputPath    string
		proxyFile     string
		pollMS        int
		listCLDevices bool
		clMaxUtilize  float64
		clMaxMS       int
		gpuEnabled    bool
		verbose       bool
		quiet         bool
	)
	var clDevices intList

	flag.StringVar(&configPath, "config", "", "path to miner-config.yaml (search paths used when empty)")
	flag.StringVar(&identity, "i", "", "miner identity string")
	flag.StringVar(&identity, "identity", "", "miner identity string (long form)")
	flag.BoolVar(&md5Identity, "md5identity", false, "hash the identity string with MD5 before use")
	flag.IntVar(&numCPU, "j", 0, "number of CPU workers (0 = all cores)")
	flag.IntVar(&numCPU, "ncpu", 0, "number of CPU workers (long form)")
	flag.BoolVar(&fakeMode, "fake", false, "run against the in-process synthetic coin service")
	flag.StringVar(&outputPath, "o", "", "wallet output file")
	flag.StringVar(&outputPath, "output", "", "wallet output file (long form)")
	flag.StringVar(&proxyFile, "proxy-file", "", "path to a newline-delimited proxy URL list")
	flag.IntVar(&pollMS, "poll-ms", 0, "head/difficulty poll interval in milliseconds (0 = config default)")
	flag.BoolVar(&listCLDevices, "list-cl-devices", false, "list OpenCL devices and exit")
	flag.Var(&clDevices, "cl-device", "OpenCL device index to use (repeatable; default: all devices)")
	flag.Float64Var(&clMaxUtilize, "cl-max-utilize", -1, "fraction of time to utilize the GPU, 0-1 (-1 = config default)")
	flag.IntVar(&clMaxMS, "cl-max-ms", 0, "GPU adaptive sizing loop bound in milliseconds (0 = config default)")
	flag.BoolVar(&gpuEnabled, "gpu", true, "enable GPU mining if devices are available")
	flag.BoolVar(&verbose, "v", false, "enable debug logging")
	flag.BoolVar(&quiet, "q", false, "suppress all but error logging")
	flag.Parse()

	if listCLDevices {
		return listDevices()
	}

	if clMaxUtilize > 1 {
		fmt.Fprintf(os.Stderr, "-cl-max-utilize must be in [0, 1], got %v\n", clMaxUtilize)
		return 1
	}

	if len(clDevices) > 0 {
		devices, err := gpuworker.ListDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "enumerating OpenCL devices: %v\n", err)
			return 1
		}
		for _, idx := range clDevices {
			if idx < 0 || idx >= len(devices) {
				fmt.Fprintf(os.Stderr, "OpenCL device index %d out of range (found %d devices)\n", idx, len(devices))
				return 1
			}
		}
	}

	cfg, err := config.LoadMinerConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		return 1
	}

	applyFlagOverrides(cfg, identity, md5Identity, numCPU, fakeMode, outputPath, proxyFile, pollMS, clMaxUtilize, clMaxMS, verbose, quiet)
	if !gpuEnabled {
		cfg.Mining.GPUEnabled = false
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	minerID, err := resolveIdentity(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	logger.Set(logger.NewFromMinerConfig(cfg))
	log := logger.Get()

	log.Info("starting miner", "identity", minerID, "fake_mode", cfg.Mining.FakeMode)

	var wal *wallet.Wallet
	if cfg.Wallet.File != "" {
		wal, err = wallet.New(cfg.Wallet.File, minerID)
		if err != nil {
			log.Error("failed to open wallet file", "file", cfg.Wallet.File, "error", err)
			return 1
		}
		defer wal.Close()
	}

	var tr *tracker.Tracker
	if cfg.Mining.FakeMode {
		tr = tracker.NewFake(minerID)
	} else {
		pool, err := proxypool.New(cfg.Network.ProxyFile)
		if err != nil {
			log.Error("failed to load proxy pool", "file", cfg.Network.ProxyFile, "error", err)
			return 1
		}
		tr = tracker.New(minerID, pool, &cfg.Network)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.StartBackground(ctx, cfg.Network.PollInterval)

	if err := config.WatchMinerConfig(ctx, configPath, func(newCfg *config.MinerConfig) {
		log.Info("config hot-reload observed; running workers and the tracker keep the settings they started with",
			"gpu_max_loop_ms", newCfg.GPU.MaxLoopMS, "gpu_throttle", newCfg.GPU.ThrottleOf100)
	}, log); err != nil {
		log.Warn("config watch not started", "error", err)
	}

	coord := coordinator.New(minerID, tr, wal, cfg.Network, cfg.GPU)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx, cfg.Mining.NumCPUWorkers, cfg.Mining.GPUEnabled, []int(clDevices))
	})
	g.Go(func() error {
		select {
		case <-sigCh:
			log.Info("shutdown signal received, stopping miner")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("miner stopped with error", "error", err)
		return 1
	}

	log.Info("miner stopped")
	return 0
}

func applyFlagOverrides(cfg *config.MinerConfig, identity string, md5Identity bool, numCPU int, fakeMode bool, outputPath, proxyFile string, pollMS int, clMaxUtilize float64, clMaxMS int, verbose, quiet bool) {
	if identity != "" {
		cfg.Identity.Value = identity
	}
	if md5Identity {
		cfg.Identity.HashAsMD5 = true
	}
	if numCPU != 0 {
		cfg.Mining.NumCPUWorkers = numCPU
	}
	if fakeMode {
		cfg.Mining.FakeMode = true
	}
	if outputPath != "" {
		cfg.Wallet.File = outputPath
	}
	if proxyFile != "" {
		cfg.Network.ProxyFile = proxyFile
	}
	if pollMS > 0 {
		cfg.Network.PollInterval = time.Duration(pollMS) * time.Millisecond
	}
	if clMaxUtilize >= 0 {
		cfg.GPU.ThrottleOf100 = int((1 - clMaxUtilize) * 100)
	}
	if clMaxMS > 0 {
		cfg.GPU.MaxLoopMS = clMaxMS
	}
	if verbose {
		cfg.Logging.Verbose = true
	}
	if quiet {
		cfg.Logging.Quiet = true
	}
}

// resolveIdentity returns the miner identity: the configured value's MD5
// hex digest when hash_as_md5 is set, otherwise the value itself, which
// must then already be exactly 32 hex characters.
func resolveIdentity(cfg *config.MinerConfig) (string, error) {
	id := cfg.Identity.Value
	if id == "" {
		return "", fmt.Errorf("no miner identity configured (pass -i or set identity.value)")
	}
	if cfg.Identity.HashAsMD5 {
		sum := md5.Sum([]byte(id))
		return hex.EncodeToString(sum[:]), nil
	}
	if len(id) != coin.MD5HashHexLen {
		return "", fmt.Errorf("identity must be %d hex characters (got %d; use -md5identity to derive one)", coin.MD5HashHexLen, len(id))
	}
	if _, err := hex.DecodeString(id); err != nil {
		return "", fmt.Errorf("identity must be hex: %w", err)
	}
	return strings.ToLower(id), nil
}

func listDevices() int {
	devices, err := gpuworker.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing OpenCL devices: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no OpenCL devices found (binary may have been built without -tags opencl,cgo)")
		return 0
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	for _, d := range devices {
		fmt.Println(d.String())
	}
	return 0
}
