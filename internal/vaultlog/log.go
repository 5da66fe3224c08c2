// Package vaultlog wraps zerolog with component-scoped loggers and secret
// redaction: a global logger plus For/WithVault/WithKey
// accessors. Every call site that might carry a PIN, passphrase, or
// wrapped-key byte must route the value through Redact first.
package vaultlog

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	base   = zerolog.New(os.Stderr).With().Timestamp().Logger()
	secret sync.Map // string -> struct{}, values currently considered secret
)

// Config controls the process-wide logger.
type Config struct {
	Level      zerolog.Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the package-level base logger. Call once at startup.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	base = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

// RegisterSecret marks a value as secret so future log writes redact it.
// Used by the hardware bridge and crypto layer to protect PINs, passphrases,
// and wrapped-key bytes for the lifetime of a single operation.
func RegisterSecret(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	secret.Store(value, struct{}{})
}

// ForgetSecret removes a value from the redaction set (call on zeroize).
func ForgetSecret(value string) {
	secret.Delete(value)
}

// Redact replaces every currently-registered secret substring in s with
// "[REDACTED]". Safe to call on arbitrary free-form text before logging it.
func Redact(s string) string {
	out := s
	secret.Range(func(k, _ any) bool {
		needle, ok := k.(string)
		if !ok || needle == "" {
			return true
		}
		out = strings.ReplaceAll(out, needle, "[REDACTED]")
		return true
	})
	return out
}

// Logger is a component-scoped logger.
type Logger struct {
	zl zerolog.Logger
}

// For returns a logger scoped to the named component.
func For(component string) Logger {
	mu.RLock()
	defer mu.RUnlock()
	return Logger{zl: base.With().Str("component", component).Logger()}
}

// WithVault returns a copy of l scoped additionally to a vault id.
func (l Logger) WithVault(vaultID string) Logger {
	return Logger{zl: l.zl.With().Str("vault_id", vaultID).Logger()}
}

// WithKey returns a copy of l scoped additionally to a key id.
func (l Logger) WithKey(keyID string) Logger {
	return Logger{zl: l.zl.With().Str("key_id", keyID).Logger()}
}

func (l Logger) Info(msg string)  { l.zl.Info().Msg(Redact(msg)) }
func (l Logger) Warn(msg string)  { l.zl.Warn().Msg(Redact(msg)) }
func (l Logger) Error(err error, msg string) {
	l.zl.Error().Err(err).Msg(Redact(msg))
}
func (l Logger) Debug(msg string) { l.zl.Debug().Msg(Redact(msg)) }
