// Package manifeststore persists per-vault manifests and implements
// version-conflict resolution: a bundle's manifest is reconciled against
// the local copy on decrypt, backing up and
// replacing the local manifest when the bundle is newer, keeping the local
// one (with a warning) when it's newer than the bundle, and tie-breaking
// on last_encrypted_at when versions are equal. Grounded on trust.go's
// save/load idiom plus crypto_age.go's hash-computation style
// (sha256 over a canonical sorted representation) for the integrity chain.
package manifeststore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/barqly/vault-core/internal/atomicfile"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaulterr"
)

const maxBackups = 5

// ComputeFilesHash hashes the sorted (relative_path, size, sha256) triples,
// giving the "files_hash" half of the integrity chain.
func ComputeFilesHash(files []vaultmodel.ManifestFileEntry) string {
	sorted := append([]vaultmodel.ManifestFileEntry(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelativePath < sorted[j].RelativePath })

	h := sha256.New()
	for _, f := range sorted {
		fmt.Fprintf(h, "%s\x00%d\x00%s\x00", f.RelativePath, f.Size, f.SHA256)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeManifestHash hashes the whole manifest with Integrity zeroed
// (filesHash aside, which is folded back in as the only integrity field
// that survives), giving the "manifest_hash" half of the integrity chain.
// Hashing the full document rather than a field subset means tampering
// with any field - timestamps, sizes, labels, token metadata, anything -
// is detected, not just the handful an earlier version picked out.
func ComputeManifestHash(m vaultmodel.ManifestV1, filesHash string) string {
	m.Integrity = vaultmodel.ManifestIntegrity{FilesHash: filesHash}
	data, _ := json.Marshal(m) // ManifestV1 is plain data; marshaling it never fails
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seal computes and sets both integrity hashes on m.
func Seal(m *vaultmodel.ManifestV1) {
	filesHash := ComputeFilesHash(m.Files)
	m.Integrity = vaultmodel.ManifestIntegrity{
		FilesHash:    filesHash,
		ManifestHash: ComputeManifestHash(*m, filesHash),
	}
}

// Verify reports whether m's integrity hashes match its current contents.
func Verify(m vaultmodel.ManifestV1) bool {
	filesHash := ComputeFilesHash(m.Files)
	if filesHash != m.Integrity.FilesHash {
		return false
	}
	return ComputeManifestHash(m, filesHash) == m.Integrity.ManifestHash
}

// Load reads the manifest at path, returning nil, nil if it doesn't exist.
func Load(path string) (*vaultmodel.ManifestV1, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "read manifest", err)
	}
	var m vaultmodel.ManifestV1
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeSerializationError, "parse manifest", err)
	}
	return &m, nil
}

// Save persists m to path atomically.
func Save(path string, m vaultmodel.ManifestV1) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return vaulterr.Wrap(vaulterr.CodeSerializationError, "encode manifest", err)
	}
	return atomicfile.Write(path, data, 0o600)
}

// Resolution is the outcome of reconciling a bundled manifest against the
// local copy.
type Resolution string

const (
	ResolutionAccepted  Resolution = "accepted"           // no local manifest existed
	ResolutionReplaced  Resolution = "replaced_with_backup"
	ResolutionKeptLocal Resolution = "kept_local"
)

// Reconcile applies the version-conflict rules: absent local
// manifest accepts the bundle outright; a newer bundle backs up the local
// copy (pruning to maxBackups) and replaces it; an older bundle is
// rejected in favor of the local copy, surfaced as a non-fatal warning;
// equal versions tie-break on last_encrypted_at.
func Reconcile(localPath, backupsDir string, bundled vaultmodel.ManifestV1) (Resolution, *vaulterr.Error, error) {
	local, err := Load(localPath)
	if err != nil {
		return "", nil, err
	}
	if local == nil {
		if err := Save(localPath, bundled); err != nil {
			return "", nil, err
		}
		return ResolutionAccepted, nil, nil
	}

	replace := bundled.ManifestVersion > local.ManifestVersion
	if bundled.ManifestVersion == local.ManifestVersion {
		replace = bundled.LastEncryptedAt.After(local.LastEncryptedAt)
	}

	if !replace {
		warning := vaulterr.New(vaulterr.CodeManifestOlderKept, "bundle manifest is not newer than the local copy; local manifest kept")
		return ResolutionKeptLocal, warning, nil
	}

	if err := backupAndPrune(backupsDir, *local); err != nil {
		return "", nil, err
	}
	if err := Save(localPath, bundled); err != nil {
		return "", nil, err
	}
	return ResolutionReplaced, nil, nil
}

// Backup writes local into backupsDir and prunes to the most recent
// maxBackups, without touching the live manifest path. Exposed for callers
// (the encrypt orchestrator) that need to back up the current manifest
// before overwriting it with a freshly composed one, so a crash between
// that write and the bundle rename can roll back.
func Backup(backupsDir string, local vaultmodel.ManifestV1) error {
	return backupAndPrune(backupsDir, local)
}

func backupAndPrune(backupsDir string, local vaultmodel.ManifestV1) error {
	if err := os.MkdirAll(backupsDir, 0o700); err != nil {
		return vaulterr.Wrap(vaulterr.CodeIoError, "create manifest backup directory", err)
	}
	name := fmt.Sprintf("%s-%s.manifest", local.SanitizedName, time.Now().UTC().Format("20060102T150405.000000000Z"))
	if err := Save(filepath.Join(backupsDir, name), local); err != nil {
		return err
	}
	return pruneBackups(backupsDir, local.SanitizedName)
}

func pruneBackups(backupsDir, sanitizedName string) error {
	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		return vaulterr.Wrap(vaulterr.CodeIoError, "list manifest backups", err)
	}
	var names []string
	prefix := sanitizedName + "-"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // timestamp-named, so lexical order is chronological
	for len(names) > maxBackups {
		if err := os.Remove(filepath.Join(backupsDir, names[0])); err != nil && !os.IsNotExist(err) {
			return vaulterr.Wrap(vaulterr.CodeIoError, "prune manifest backup", err)
		}
		names = names[1:]
	}
	return nil
}
