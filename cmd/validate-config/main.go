// Command validate-config checks a miner configuration file for correctness
// without starting the miner.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"cpen442miner/internal/config"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	os.Exit(run(configPath))
}

func run(configPath string) int {
	fmt.Println("Validating CPEN442 Coin Miner Configuration")
	fmt.Println("============================================")
	fmt.Println()

	resolved := configPath
	if resolved == "" {
		resolved = findConfigFile("miner-config.yaml")
		if resolved == "" {
			fmt.Println("Status: no config file found (will use defaults)")
			fmt.Println("Search paths:")
			fmt.Println("  - ./miner-config.yaml")
			fmt.Println("  - ~/.cpen442/miner-config.yaml")
			fmt.Println("  - /etc/cpen442/miner-config.yaml")
			return 0
		}
	}

	fmt.Printf("File: %s\n", resolved)

	cfg, err := config.LoadMinerConfig(resolved)
	if err != nil {
		fmt.Println("Status: INVALID")
		fmt.Printf("Error: %v\n", err)
		return 1
	}

	fmt.Println("Status: VALID")
	fmt.Println()
	fmt.Println("Loaded Configuration:")
	fmt.Printf("  Identity:               %q (hash_as_md5=%t)\n", cfg.Identity.Value, cfg.Identity.HashAsMD5)
	fmt.Printf("  CPU Workers:            %d\n", cfg.Mining.NumCPUWorkers)
	fmt.Printf("  GPU Enabled:            %t\n", cfg.Mining.GPUEnabled)
	fmt.Printf("  Fake Mode:              %t\n", cfg.Mining.FakeMode)
	fmt.Printf("  GPU Device Index:       %d\n", cfg.GPU.DeviceIndex)
	fmt.Printf("  GPU Max Loop:           %d ms\n", cfg.GPU.MaxLoopMS)
	fmt.Printf("  GPU Throttle:           %d%%\n", cfg.GPU.ThrottleOf100)
	fmt.Printf("  Proxy File:             %q\n", cfg.Network.ProxyFile)
	fmt.Printf("  Poll Interval:          %v\n", cfg.Network.PollInterval)
	fmt.Printf("  Coin Check Period:      %v\n", cfg.Network.CoinCheckPeriod)
	fmt.Printf("  Stats Print Period:     %v\n", cfg.Network.StatsPrintPeriod)
	fmt.Printf("  Direct Timeout:         %v\n", cfg.Network.DirectTimeout)
	fmt.Printf("  Proxy Timeout:          %v\n", cfg.Network.ProxyTimeout)
	fmt.Printf("  Wallet File:            %q\n", cfg.Wallet.File)
	fmt.Printf("  Logging:                level=%s format=%s quiet=%t verbose=%t\n",
		cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Quiet, cfg.Logging.Verbose)

	return 0
}

func findConfigFile(filename string) string {
	searchPaths := []string{
		filepath.Join(".", filename),
		filepath.Join(os.Getenv("HOME"), ".cpen442", filename),
		filepath.Join("/etc/cpen442", filename),
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
