package storage

import (
	"os"
	"path/filepath"
	"testing"
)

// TestConfigRoundTrip: LoadConfig over a YAML file with every field set
// returns a Config matching the parsed fields with no error.
func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
directory: ./scratch
block_size: 4096
num_buffers: 32
fresh: true
lock_timeout_ms: 1500
policy: clock
latch_table: baseline
latch_shards: 8
checkpoint_cron: "@every 1m"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := Config{
		Directory:      "./scratch",
		BlockSize:      4096,
		NumBuffers:     32,
		Fresh:          true,
		LockTimeoutMs:  1500,
		Policy:         "clock",
		LatchTable:     "baseline",
		LatchShards:    8,
		CheckpointCron: "@every 1m",
	}
	if cfg != want {
		t.Fatalf("LoadConfig round trip: want %+v, got %+v", want, cfg)
	}
}

func TestConfigValidateRejectsBadBlockSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockSize = 5000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to reject an invalid block_size")
	}
}

func TestConfigValidateRejectsUnknownPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = "mru"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to reject an unknown policy")
	}
}

func TestConfigValidateRejectsUnknownLatchTable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LatchTable = "weird"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to reject an unknown latch_table")
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected the zero-config defaults to validate cleanly, got %v", err)
	}
}
