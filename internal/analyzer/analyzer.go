// Package analyzer inspects a bundle file without decrypting it: deriving
// a display name from the filename convention, probing
// for a local manifest, and deciding whether the caller is in recovery
// mode (no local manifest, so every registry key must be offered as a
// decrypt candidate). Grounded on target.go's ResolveTarget, which
// resolves and validates a path's existence before anything reads its
// contents; generalized here from "does this env file exist" to "what
// does this bundle's name and any matching manifest tell us".
package analyzer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/barqly/vault-core/internal/cache"
	"github.com/barqly/vault-core/internal/manifeststore"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaulterr"
)

// filenamePattern matches "<sanitized>-YYYY-MM-DD.age".
var filenamePattern = regexp.MustCompile(`^(.+)-(\d{4}-\d{2}-\d{2})\.age$`)

// Result is what Analyze reports about a bundle before any decryption.
type Result struct {
	DisplayName   string
	SanitizedName string
	CreatedHint   time.Time

	IsRecoveryMode bool
	VaultID        string
	Recipients     []vaultmodel.ManifestRecipient
}

// Analyze inspects bundlePath's filename and, if a local manifest matches
// its sanitized name, that manifest's recipients and vault id. manifestsDir
// is the directory holding "<sanitized>.manifest" files (vaultpaths'
// VaultsDir). c is consulted so repeated Analyze calls against the same
// manifest in one process (a GUI front-end re-listing vaults, or a batch
// decrypt across many bundles from one vault) skip reparsing it from disk;
// pass nil to always read through.
func Analyze(bundlePath, manifestsDir string, c *cache.Cache) (Result, error) {
	if _, err := os.Stat(bundlePath); err != nil {
		if os.IsNotExist(err) {
			return Result{}, vaulterr.New(vaulterr.CodeFileNotFound, "bundle not found: "+bundlePath)
		}
		return Result{}, vaulterr.Wrap(vaulterr.CodeIoError, "stat bundle", err)
	}

	base := filenameOf(bundlePath)
	match := filenamePattern.FindStringSubmatch(base)
	if match == nil {
		return Result{}, vaulterr.New(vaulterr.CodeInvalidInput, "bundle filename does not match the \"<name>-YYYY-MM-DD.age\" convention: "+base)
	}
	sanitized := match[1]
	createdHint, err := time.Parse("2006-01-02", match[2])
	if err != nil {
		return Result{}, vaulterr.New(vaulterr.CodeInvalidInput, "bundle filename has an unparseable date: "+base)
	}

	result := Result{
		DisplayName:   desanitize(sanitized),
		SanitizedName: sanitized,
		CreatedHint:   createdHint,
	}

	manifestPath := filepath.Join(manifestsDir, sanitized+".manifest")
	m, err := loadManifestCached(manifestPath, c)
	if err != nil {
		return Result{}, err
	}
	if m == nil {
		result.IsRecoveryMode = true
		return result, nil
	}

	result.VaultID = m.VaultID
	result.Recipients = m.Recipients
	if m.Label != "" {
		result.DisplayName = m.Label
	}
	return result, nil
}

// manifestFingerprint identifies one version of the manifest at path: its
// path plus size and mtime, so an edited-in-place manifest (same path,
// different content) always misses rather than serving stale data.
func manifestFingerprint(path string, info os.FileInfo) string {
	return fmt.Sprintf("manifest\x00%s\x00%d\x00%d", path, info.Size(), info.ModTime().UnixNano())
}

// loadManifestCached loads the manifest at path, short-circuiting through c
// when a manifest matching the file's current size/mtime is already cached.
func loadManifestCached(path string, c *cache.Cache) (*vaultmodel.ManifestV1, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, nil
		}
		return manifeststore.Load(path)
	}

	fingerprint := manifestFingerprint(path, info)
	if cached, ok := c.Get(fingerprint); ok {
		m, _ := cached.(*vaultmodel.ManifestV1)
		return m, nil
	}

	m, err := manifeststore.Load(path)
	if err != nil {
		return nil, err
	}
	c.Set(fingerprint, m, 30*time.Minute)
	return m, nil
}

func filenameOf(path string) string {
	return filepath.Base(path)
}

// desanitize reverses vaultpaths.SanitizeName's dash substitution for
// display purposes only; it cannot recover the original punctuation or
// casing, just a human-readable approximation.
func desanitize(sanitized string) string {
	return strings.ReplaceAll(sanitized, "-", " ")
}
