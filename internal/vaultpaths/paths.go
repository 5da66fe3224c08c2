// Package vaultpaths resolves the platform-specific private (non-sync) and
// user-visible (sync-safe) directory roots, and sanitizes labels for
// filesystem safety.
package vaultpaths

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/barqly/vault-core/internal/vaulterr"
)

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			if err == nil {
				err = os.ErrNotExist
			}
			return "", vaulterr.Wrap(vaulterr.CodeIoError, "resolve home directory", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// CleanAbs expands and cleans path into an absolute form.
func CleanAbs(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", vaulterr.New(vaulterr.CodeInvalidInput, "path required")
	}
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", vaulterr.Wrap(vaulterr.CodeIoError, "get working directory", err)
	}
	return filepath.Clean(filepath.Join(cwd, path)), nil
}

// Roots are the resolved private (non-sync) and user-visible (sync-safe)
// directory trees.
type Roots struct {
	PrivateRoot     string // device.json, keys/, vaults/, backups/manifest/, logs/
	UserVisibleRoot string // Barqly-Vaults/, Barqly-Recovery/
}

// Resolve returns the roots under the user's home directory. On every
// platform the private root is $XDG_DATA_HOME/barqly-vault, or
// ~/.local/share/barqly-vault when XDG_DATA_HOME is unset, and the
// user-visible root is the home directory itself so cloud sync clients
// pick it up.
func Resolve() (Roots, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Roots{}, vaulterr.Wrap(vaulterr.CodeIoError, "resolve home directory", err)
	}

	var private string
	switch {
	case os.Getenv("XDG_DATA_HOME") != "":
		private = filepath.Join(os.Getenv("XDG_DATA_HOME"), "barqly-vault")
	default:
		private = filepath.Join(home, ".local", "share", "barqly-vault")
	}

	return Roots{
		PrivateRoot:     private,
		UserVisibleRoot: home,
	}, nil
}

func (r Roots) DeviceIdentityPath() string    { return filepath.Join(r.PrivateRoot, "device.json") }
func (r Roots) RegistryPath() string {
	return filepath.Join(r.PrivateRoot, "keys", "barqly-vault-key-registry.json")
}
func (r Roots) KeysDir() string             { return filepath.Join(r.PrivateRoot, "keys") }
func (r Roots) VaultsDir() string           { return filepath.Join(r.PrivateRoot, "vaults") }
func (r Roots) ManifestBackupsDir() string  { return filepath.Join(r.PrivateRoot, "backups", "manifest") }
func (r Roots) LogsDir() string             { return filepath.Join(r.PrivateRoot, "logs") }
func (r Roots) ConfigPath() string          { return filepath.Join(r.PrivateRoot, "config.toml") }
func (r Roots) BundlesDir() string          { return filepath.Join(r.UserVisibleRoot, "Barqly-Vaults") }
func (r Roots) RecoveryDir() string         { return filepath.Join(r.UserVisibleRoot, "Barqly-Recovery") }
func (r Roots) ManifestPath(sanitized string) string {
	return filepath.Join(r.VaultsDir(), sanitized+".manifest")
}
func (r Roots) WrappedKeyPath(label string) string {
	return filepath.Join(r.KeysDir(), label+".key.enc")
}

var (
	forbiddenChars = regexp.MustCompile(`[/\\:*?"<>| ]`)
	nonASCII       = regexp.MustCompile(`[^\x20-\x7E]`)
	dashRuns       = regexp.MustCompile(`-+`)
)

var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

const maxSanitizedLen = 200

// SanitizeName strips non-ASCII, replaces forbidden characters and spaces
// with "-",
// collapses dash runs, trims leading/trailing dashes and leading dots,
// enforces a length cap, and rejects reserved device names.
func SanitizeName(label string) (string, error) {
	if strings.TrimSpace(label) == "" {
		return "", vaulterr.New(vaulterr.CodeInvalidInput, "label required")
	}
	s := nonASCII.ReplaceAllString(label, "")
	s = forbiddenChars.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	s = strings.TrimLeft(s, ".")
	if len(s) > maxSanitizedLen {
		s = s[:maxSanitizedLen]
		s = strings.Trim(s, "-")
	}
	if s == "" {
		return "", vaulterr.New(vaulterr.CodeInvalidInput, "label sanitizes to empty string")
	}
	upper := strings.ToUpper(s)
	if _, reserved := reservedNames[upper]; reserved {
		return "", vaulterr.New(vaulterr.CodeReservedName, "sanitized name is a reserved device name: "+s)
	}
	return s, nil
}

// ValidateKeyLabel enforces the key's display-label length cap (<= 24
// chars). The display label itself is preserved verbatim in the manifest;
// only filenames use the sanitized form.
func ValidateKeyLabel(label string) error {
	if len(label) > 24 {
		return vaulterr.New(vaulterr.CodeNameTooLong, "key label exceeds 24 characters")
	}
	return nil
}
