package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/barqly/vault-core/internal/archive"
	"github.com/barqly/vault-core/internal/cryptostream"
	"github.com/barqly/vault-core/internal/manifeststore"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaulterr"
)

// DecomposeInput describes one decrypt operation.
type DecomposeInput struct {
	BundlePath   string
	Identities   []age.Identity
	DestDir      string
	KeysDir      string // where any embedded wrapped-key backups get restored
	ManifestPath string
	BackupsDir   string
}

// DecomposeResult reports what Decompose did, for the caller to surface to
// the user (the manifest-conflict resolution in particular is a warning,
// not a failure: files are still extracted).
type DecomposeResult struct {
	Manifest           vaultmodel.ManifestV1
	ManifestResolution manifeststore.Resolution
	ManifestWarning    *vaulterr.Error
	RestoredKeyLabels  []string
	ExtractedFiles     []string
}

// Decompose decrypts bundlePath, extracts its files into a staging
// directory, verifies each against the bundled manifest's recorded
// size/sha256, moves the verified files into DestDir, then restores any
// wrapped-key backups missing from KeysDir and reconciles the manifest
// against the local copy. On any integrity mismatch the staging
// directory is removed and no files are left in DestDir.
func Decompose(ctx context.Context, in DecomposeInput, progress ProgressFunc) (DecomposeResult, error) {
	if progress == nil {
		progress = func(Phase, int64, int64) {}
	}

	progress(PhaseDecrypting, 0, 0)
	f, err := os.Open(in.BundlePath)
	if err != nil {
		return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeFileNotFound, "open bundle", err)
	}
	defer f.Close()

	plain, err := cryptostream.Decrypt(f, in.Identities...)
	if err != nil {
		return DecomposeResult{}, err
	}
	reader, err := archive.NewReader(plain)
	if err != nil {
		return DecomposeResult{}, err
	}

	staging, err := os.MkdirTemp(filepath.Dir(in.DestDir), ".barqly-staging-*")
	if err != nil {
		return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeIoError, "create staging directory", err)
	}
	cleanupStaging := true
	defer func() {
		if cleanupStaging {
			_ = os.RemoveAll(staging)
		}
	}()

	var manifest vaultmodel.ManifestV1
	haveManifest := false
	restoredKeys := map[string][]byte{}
	stagedFiles := map[string]vaultmodel.ManifestFileEntry{}

	for {
		select {
		case <-ctx.Done():
			return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeCancelled, "operation cancelled", ctx.Err())
		default:
		}

		ef, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return DecomposeResult{}, err
		}

		switch {
		case ef.RelativePath == manifestEntryPath:
			var buf strings.Builder
			if err := reader.CopyTo(&buf); err != nil {
				return DecomposeResult{}, err
			}
			if err := json.Unmarshal([]byte(buf.String()), &manifest); err != nil {
				return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeSerializationError, "parse bundled manifest", err)
			}
			haveManifest = true

		case ef.RelativePath == recoveryEntryPath:
			if err := discard(reader); err != nil {
				return DecomposeResult{}, err
			}

		case strings.HasPrefix(ef.RelativePath, keysEntryPrefix):
			var buf strings.Builder
			if err := reader.CopyTo(&buf); err != nil {
				return DecomposeResult{}, err
			}
			label := strings.TrimSuffix(strings.TrimPrefix(ef.RelativePath, keysEntryPrefix), ".key.enc")
			restoredKeys[label] = []byte(buf.String())

		default:
			dest := filepath.Join(staging, filepath.FromSlash(ef.RelativePath))
			if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
				return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeIoError, "create staging subdirectory", err)
			}
			outFile, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeIoError, "create staged file", err)
			}
			h := sha256.New()
			err = reader.CopyTo(io.MultiWriter(outFile, h))
			closeErr := outFile.Close()
			if err != nil {
				return DecomposeResult{}, err
			}
			if closeErr != nil {
				return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeIoError, "close staged file", closeErr)
			}
			stagedFiles[ef.RelativePath] = vaultmodel.ManifestFileEntry{
				RelativePath: ef.RelativePath,
				Size:         ef.Size,
				SHA256:       hex.EncodeToString(h.Sum(nil)),
			}
		}
	}

	if !haveManifest {
		return DecomposeResult{}, vaulterr.New(vaulterr.CodeHeaderMalformed, "bundle is missing its manifest")
	}

	for _, want := range manifest.Files {
		got, ok := stagedFiles[want.RelativePath]
		if !ok {
			return DecomposeResult{}, vaulterr.New(vaulterr.CodeIntegrityMismatch, "file missing from bundle: "+want.RelativePath)
		}
		if got.Size != want.Size || got.SHA256 != want.SHA256 {
			return DecomposeResult{}, vaulterr.New(vaulterr.CodeIntegrityMismatch, "integrity mismatch: "+want.RelativePath)
		}
	}

	if err := os.MkdirAll(in.DestDir, 0o700); err != nil {
		return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeIoError, "create destination directory", err)
	}
	extracted := make([]string, 0, len(manifest.Files))
	for _, want := range manifest.Files {
		src := filepath.Join(staging, filepath.FromSlash(want.RelativePath))
		dst := filepath.Join(in.DestDir, filepath.FromSlash(want.RelativePath))
		if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
			return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeIoError, "create destination subdirectory", err)
		}
		if err := os.Rename(src, dst); err != nil {
			return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeIoError, "move extracted file into place", err)
		}
		extracted = append(extracted, want.RelativePath)
	}
	cleanupStaging = false
	_ = os.RemoveAll(staging)

	var restoredLabels []string
	for label, data := range restoredKeys {
		path := filepath.Join(in.KeysDir, label+".key.enc")
		if _, err := os.Stat(path); err == nil {
			continue // local copy already present, bundle copy is a backup only
		}
		if err := os.MkdirAll(in.KeysDir, 0o700); err != nil {
			return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeIoError, "create keys directory", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return DecomposeResult{}, vaulterr.Wrap(vaulterr.CodeIoError, "restore wrapped key "+label, err)
		}
		restoredLabels = append(restoredLabels, label)
	}

	resolution, warning, err := manifeststore.Reconcile(in.ManifestPath, in.BackupsDir, manifest)
	if err != nil {
		return DecomposeResult{}, err
	}

	progress(PhaseFinalizing, 1, 1)
	return DecomposeResult{
		Manifest:           manifest,
		ManifestResolution: resolution,
		ManifestWarning:    warning,
		RestoredKeyLabels:  restoredLabels,
		ExtractedFiles:     extracted,
	}, nil
}

func discard(r *archive.Reader) error {
	return r.CopyTo(io.Discard)
}
