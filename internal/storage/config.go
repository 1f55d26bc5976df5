package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinydb/storagecore/internal/storage/pager"
)

// Config is the YAML-loadable set of construction options for a storage
// core instance: a flat YAML file unmarshaled straight into this struct.
type Config struct {
	Directory      string `yaml:"directory"`
	BlockSize      int    `yaml:"block_size"`
	NumBuffers     int    `yaml:"num_buffers"`
	Fresh          bool   `yaml:"fresh"`
	LockTimeoutMs  int    `yaml:"lock_timeout_ms"`
	Policy         string `yaml:"policy"`       // lru | clock | sieve
	LatchTable     string `yaml:"latch_table"`  // baseline | sharded
	LatchShards    int    `yaml:"latch_shards"`
	CheckpointCron string `yaml:"checkpoint_cron"` // empty disables the scheduler
}

// DefaultConfig returns the zero-config defaults used by tests and by the
// inspection CLI: 8 KiB blocks, 256 buffers, LRU, a 16-way sharded latch
// table, and no checkpoint scheduler.
func DefaultConfig() Config {
	return Config{
		Directory:     "./data",
		BlockSize:     pager.DefaultBlockSize,
		NumBuffers:    256,
		Fresh:         false,
		LockTimeoutMs: 2000,
		Policy:        "lru",
		LatchTable:    "sharded",
		LatchShards:   16,
	}
}

// LoadConfig reads and unmarshals a YAML config file at path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the block-size and policy/latch-table enums.
func (c Config) Validate() error {
	if !pager.ValidBlockSize(c.BlockSize) {
		return fmt.Errorf("config: invalid block_size %d", c.BlockSize)
	}
	if c.NumBuffers <= 0 {
		return fmt.Errorf("config: num_buffers must be positive, got %d", c.NumBuffers)
	}
	switch c.Policy {
	case "lru", "clock", "sieve":
	default:
		return fmt.Errorf("config: unknown policy %q", c.Policy)
	}
	switch c.LatchTable {
	case "baseline", "sharded":
	default:
		return fmt.Errorf("config: unknown latch_table %q", c.LatchTable)
	}
	if c.LatchTable == "sharded" && c.LatchShards <= 0 {
		return fmt.Errorf("config: latch_shards must be positive for sharded latch table, got %d", c.LatchShards)
	}
	return nil
}

func (c Config) policyKind() pager.Policy {
	switch c.Policy {
	case "clock":
		return pager.PolicyClock
	case "sieve":
		return pager.PolicySieve
	default:
		return pager.PolicyLRU
	}
}

func (c Config) latchTableMode() pager.LatchTableMode {
	if c.LatchTable == "baseline" {
		return pager.LatchBaseline
	}
	return pager.LatchSharded
}
