package vaultconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("Load(missing) = %+v, want %+v", cfg, Default())
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Crypto.ScryptWorkFactorLog2 = 18
	cfg.Bridge.TouchTimeout = 30 * time.Second
	cfg.Cache.MaxEntries = 500

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != cfg {
		t.Fatalf("Load() = %+v, want %+v", got, cfg)
	}
}

func TestLoadPartialFileFillsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := "[crypto]\nscrypt_work_factor_log2 = 22\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Crypto.ScryptWorkFactorLog2 != 22 {
		t.Fatalf("ScryptWorkFactorLog2 = %d, want 22", got.Crypto.ScryptWorkFactorLog2)
	}
	if got.Bridge.TouchTimeout != Default().Bridge.TouchTimeout {
		t.Fatalf("TouchTimeout = %v, want default %v since the file omits [bridge]", got.Bridge.TouchTimeout, Default().Bridge.TouchTimeout)
	}
}
