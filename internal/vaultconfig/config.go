// Package vaultconfig holds the TOML-backed engine tunables: scrypt work
// factor, touch/PTY timeouts, cache bounds, and log rotation.
package vaultconfig

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/barqly/vault-core/internal/atomicfile"
	"github.com/barqly/vault-core/internal/vaulterr"
)

// CryptoSettings tunes the multi-recipient cipher.
type CryptoSettings struct {
	// ScryptWorkFactorLog2 is log2(N) for the passphrase scrypt KDF, tuned
	// for roughly one second of derivation on a typical client; 20 (N=2^20)
	// is age's own recommended interactive-use default.
	ScryptWorkFactorLog2 int `toml:"scrypt_work_factor_log2"`
}

// BridgeSettings tunes the identity-plugin PTY driver.
type BridgeSettings struct {
	TouchTimeout   time.Duration `toml:"touch_timeout"`
	PTYIdleTimeout time.Duration `toml:"pty_idle_timeout"`
}

// CacheSettings tunes the fingerprint → artifact cache.
type CacheSettings struct {
	MaxEntries int64         `toml:"max_entries"`
	TTL        time.Duration `toml:"ttl"`
}

// LogSettings tunes rotation.
type LogSettings struct {
	MaxBytes    int64 `toml:"max_bytes"`
	RetainFiles int   `toml:"retain_files"`
}

// Config is the full set of engine tunables, persisted at
// "<private-root>/config.toml".
type Config struct {
	SchemaVersion int             `toml:"schema_version"`
	Crypto        CryptoSettings  `toml:"crypto"`
	Bridge        BridgeSettings  `toml:"bridge"`
	Cache         CacheSettings   `toml:"cache"`
	Log           LogSettings     `toml:"log"`
}

// Default returns the prescribed defaults: scrypt N=2^20, touch timeout
// 15s, PTY idle timeout 10s, log rotation at 10MB/7 archives.
func Default() Config {
	return Config{
		SchemaVersion: 1,
		Crypto:        CryptoSettings{ScryptWorkFactorLog2: 20},
		Bridge: BridgeSettings{
			TouchTimeout:   15 * time.Second,
			PTYIdleTimeout: 10 * time.Second,
		},
		Cache: CacheSettings{
			MaxEntries: 10_000,
			TTL:        30 * time.Minute,
		},
		Log: LogSettings{
			MaxBytes:    10 * 1024 * 1024,
			RetainFiles: 7,
		},
	}
}

// Load reads config.toml at path, falling back to defaults if absent.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, vaulterr.Wrap(vaulterr.CodeIoError, "read config", err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, vaulterr.Wrap(vaulterr.CodeSerializationError, "parse config", err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return vaulterr.Wrap(vaulterr.CodeSerializationError, "encode config", err)
	}
	if err := atomicfile.Write(path, data, 0o600); err != nil {
		return err
	}
	return nil
}
