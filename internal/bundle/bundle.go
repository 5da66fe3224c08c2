// Package bundle composes and decomposes ".age" vault bundles: an
// encrypted archive holding the selected files plus a reserved
// metadata tree (manifest, recovery instructions, wrapped-key backups) the
// decomposer uses to reconcile local state without ever needing to trust
// the bundle blindly. Grounded on crypto_age.go's encrypt/decrypt pattern
// generalized from a single string to a streaming multi-file archive, and
// on trust.go's save-before-mutate discipline for the manifest persist
// step.
package bundle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"filippo.io/age"

	"github.com/barqly/vault-core/internal/archive"
	"github.com/barqly/vault-core/internal/atomicfile"
	"github.com/barqly/vault-core/internal/cryptostream"
	"github.com/barqly/vault-core/internal/manifeststore"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaulterr"
)

// Size and count limits on the file selection.
const (
	MaxFileSize  = 100 * 1024 * 1024
	MaxTotalSize = 1024 * 1024 * 1024
	MaxFileCount = 1000
)

// Reserved paths inside the archive's metadata tree, kept out of any
// plausible user file namespace by a leading underscore directory.
const (
	metaPrefix        = "_barqly_meta/"
	manifestEntryPath = metaPrefix + "manifest.json"
	recoveryEntryPath = metaPrefix + "RECOVERY.txt"
	keysEntryPrefix   = metaPrefix + "keys/"
)

// SourceFile is one file selected for a bundle.
type SourceFile struct {
	RelativePath string
	AbsolutePath string
}

// ValidateSelection enforces the file-selection invariants: regular files
// only, no path traversal, and the size/count ceilings.
func ValidateSelection(files []SourceFile) error {
	if len(files) == 0 {
		return vaulterr.New(vaulterr.CodeInvalidInput, "no files selected")
	}
	if len(files) > MaxFileCount {
		return vaulterr.New(vaulterr.CodeTooManyFiles, "selection exceeds the maximum file count")
	}
	var total int64
	seen := map[string]struct{}{}
	for _, f := range files {
		if f.RelativePath == "" {
			return vaulterr.New(vaulterr.CodeInvalidInput, "empty relative path")
		}
		if _, dup := seen[f.RelativePath]; dup {
			return vaulterr.New(vaulterr.CodeInvalidInput, "duplicate relative path: "+f.RelativePath)
		}
		seen[f.RelativePath] = struct{}{}

		info, err := os.Lstat(f.AbsolutePath)
		if err != nil {
			return vaulterr.Wrap(vaulterr.CodeFileNotFound, "stat "+f.RelativePath, err)
		}
		if !info.Mode().IsRegular() {
			return vaulterr.New(vaulterr.CodeInvalidInput, "not a regular file: "+f.RelativePath)
		}
		if info.Size() > MaxFileSize {
			return vaulterr.New(vaulterr.CodeSizeExceeded, "file exceeds the per-file size limit: "+f.RelativePath)
		}
		total += info.Size()
		if total > MaxTotalSize {
			return vaulterr.New(vaulterr.CodeSizeExceeded, "selection exceeds the total size limit")
		}
	}
	return nil
}

// Phase marks a composer/decomposer progress boundary.
type Phase string

const (
	PhaseValidating Phase = "validating"
	PhaseHashing    Phase = "hashing"
	PhaseEncrypting Phase = "encrypting"
	PhaseDecrypting Phase = "decrypting"
	PhaseFinalizing Phase = "finalizing"
)

// ProgressFunc receives phase transitions and, during Encrypting,
// byte-level progress at >= 64KiB granularity. Decompose reports phase
// boundaries only.
type ProgressFunc func(phase Phase, bytesDone, totalBytes int64)

const progressGranularity = 64 * 1024

// ComposeInput describes one encrypt operation.
type ComposeInput struct {
	Vault           vaultmodel.VaultRecord
	Files           []SourceFile
	Recipients      []vaultmodel.ManifestRecipient
	AgeRecipients   []age.Recipient
	WrappedKeyFiles map[string][]byte // label -> encrypted private key bytes, backed up into the bundle
	ManifestVersion int
	EncryptedBy     vaultmodel.EncryptedBy

	LocalManifestPath  string
	ManifestBackupsDir string
	BundlePath         string
}

// Compose validates the selection, builds and seals the manifest, persists
// it locally (backing up any prior manifest first so a mid-crash can roll
// back), streams the archive through the cipher, and atomically renames the
// result into place.
func Compose(ctx context.Context, in ComposeInput, progress ProgressFunc) (vaultmodel.ManifestV1, error) {
	if progress == nil {
		progress = func(Phase, int64, int64) {}
	}

	progress(PhaseValidating, 0, 0)
	if err := ValidateSelection(in.Files); err != nil {
		return vaultmodel.ManifestV1{}, err
	}
	if len(in.AgeRecipients) == 0 {
		return vaultmodel.ManifestV1{}, vaulterr.New(vaulterr.CodeNoRecipients, "at least one recipient is required")
	}

	progress(PhaseHashing, 0, 0)
	fileEntries, archiveEntries, totalSize, err := hashSelection(ctx, in.Files)
	if err != nil {
		return vaultmodel.ManifestV1{}, err
	}

	now := time.Now().UTC()
	manifest := vaultmodel.ManifestV1{
		Schema:          vaultmodel.ManifestSchema,
		VaultID:         in.Vault.ID,
		Label:           in.Vault.Label,
		SanitizedName:   in.Vault.SanitizedName,
		ManifestVersion: in.ManifestVersion,
		CreatedAt:       now,
		LastEncryptedAt: now,
		LastEncryptedBy: in.EncryptedBy,
		SelectionType:   vaultmodel.SelectionFiles,
		Recipients:      in.Recipients,
		Files:           fileEntries,
		TotalSize:       totalSize,
		FileCount:       len(fileEntries),
	}
	manifeststore.Seal(&manifest)

	rollback, err := persistManifestWithRollback(in.LocalManifestPath, in.ManifestBackupsDir, manifest)
	if err != nil {
		return vaultmodel.ManifestV1{}, err
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		rollback()
		return vaultmodel.ManifestV1{}, vaulterr.Wrap(vaulterr.CodeSerializationError, "encode manifest", err)
	}
	archiveEntries = append(archiveEntries, archive.Entry{
		RelativePath: manifestEntryPath,
		Size:         int64(len(manifestJSON)),
		Open:         readerOpener(manifestJSON),
	})
	recovery := []byte(recoveryText(manifest))
	archiveEntries = append(archiveEntries, archive.Entry{
		RelativePath: recoveryEntryPath,
		Size:         int64(len(recovery)),
		Open:         readerOpener(recovery),
	})
	for label, data := range in.WrappedKeyFiles {
		data := data
		archiveEntries = append(archiveEntries, archive.Entry{
			RelativePath: keysEntryPrefix + label + ".key.enc",
			Size:         int64(len(data)),
			Open:         readerOpener(data),
		})
	}
	archive.SortEntries(archiveEntries)

	progress(PhaseEncrypting, 0, totalSize)
	if err := writeEncryptedArchive(in.BundlePath, archiveEntries, in.AgeRecipients, totalSize, progress); err != nil {
		rollback()
		return vaultmodel.ManifestV1{}, err
	}

	progress(PhaseFinalizing, totalSize, totalSize)
	return manifest, nil
}

func hashSelection(ctx context.Context, files []SourceFile) ([]vaultmodel.ManifestFileEntry, []archive.Entry, int64, error) {
	entries := make([]vaultmodel.ManifestFileEntry, 0, len(files))
	archiveEntries := make([]archive.Entry, 0, len(files))
	var total int64

	for _, f := range files {
		select {
		case <-ctx.Done():
			return nil, nil, 0, vaulterr.Wrap(vaulterr.CodeCancelled, "operation cancelled", ctx.Err())
		default:
		}

		info, err := os.Stat(f.AbsolutePath)
		if err != nil {
			return nil, nil, 0, vaulterr.Wrap(vaulterr.CodeFileNotFound, "stat "+f.RelativePath, err)
		}
		sum, err := sha256File(f.AbsolutePath)
		if err != nil {
			return nil, nil, 0, err
		}
		entries = append(entries, vaultmodel.ManifestFileEntry{
			RelativePath: f.RelativePath,
			Size:         info.Size(),
			SHA256:       sum,
		})
		abs := f.AbsolutePath
		archiveEntries = append(archiveEntries, archive.Entry{
			RelativePath: f.RelativePath,
			Size:         info.Size(),
			Open:         func() (io.ReadCloser, error) { return os.Open(abs) },
		})
		total += info.Size()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelativePath < entries[j].RelativePath })
	return entries, archiveEntries, total, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", vaulterr.Wrap(vaulterr.CodeFileNotFound, "open "+path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", vaulterr.Wrap(vaulterr.CodeIoError, "hash "+path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func persistManifestWithRollback(localPath, backupsDir string, next vaultmodel.ManifestV1) (rollback func(), err error) {
	previous, err := manifeststore.Load(localPath)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		if err := manifeststore.Backup(backupsDir, *previous); err != nil {
			return nil, err
		}
	}
	if err := manifeststore.Save(localPath, next); err != nil {
		return nil, err
	}

	return func() {
		if previous != nil {
			_ = manifeststore.Save(localPath, *previous)
		} else {
			_ = os.Remove(localPath)
		}
	}, nil
}

func writeEncryptedArchive(bundlePath string, entries []archive.Entry, recipients []age.Recipient, totalSize int64, progress ProgressFunc) error {
	return atomicfile.WriteStream(bundlePath, 0o600, func(f *os.File) error {
		enc, err := cryptostream.Encrypt(f, recipients...)
		if err != nil {
			return err
		}
		lastReported := int64(0)
		err = archive.Write(enc, entries, func(_ string, bytesWritten int64) {
			if bytesWritten-lastReported >= progressGranularity || bytesWritten == totalSize {
				progress(PhaseEncrypting, bytesWritten, totalSize)
				lastReported = bytesWritten
			}
		})
		if closeErr := enc.Close(); err == nil {
			err = closeErr
		}
		return err
	})
}

func readerOpener(data []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// recoveryFooter is fixed across every bundle: a stable pointer to product
// documentation that still resolves even if this client build is long gone.
const recoveryFooter = "Full recovery instructions and the current Barqly Vault client are at https://docs.barqly.com/vault/recovery.\n"

// recoveryText renders RECOVERY.txt: enough of the manifest, in plain
// prose, that someone with only this bundle and either a registered
// hardware token or the right passphrase can get their files back without
// the registry or any other local state.
func recoveryText(m vaultmodel.ManifestV1) string {
	var b bytes.Buffer
	fmt.Fprint(&b, "Barqly Vault recovery bundle\n")
	fmt.Fprintf(&b, "Vault: %s (%s)\n", m.Label, m.SanitizedName)
	fmt.Fprintf(&b, "Created: %s\n", m.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Files: %d (%s total)\n\n", m.FileCount, formatSize(m.TotalSize))

	fmt.Fprint(&b, "Registered recipients:\n")
	for _, r := range m.Recipients {
		switch r.Type {
		case vaultmodel.KeyTypeHardwareToken:
			fmt.Fprintf(&b, " - %s: hardware token, serial %s slot %s\n", r.Label, r.DeviceSerial, r.DeviceSlot)
		case vaultmodel.KeyTypePassphrase:
			fmt.Fprintf(&b, " - %s: passphrase, wrapped key file %s\n", r.Label, r.WrappedKeyFile)
		default:
			fmt.Fprintf(&b, " - %s: %s\n", r.Label, r.Type)
		}
	}

	fmt.Fprint(&b, "\nRecovery with a hardware token:\n")
	fmt.Fprint(&b, " 1. Insert the token whose serial/slot is listed above.\n")
	fmt.Fprint(&b, " 2. Run Barqly Vault's decrypt command against this bundle file.\n")
	fmt.Fprint(&b, " 3. Approve the touch or PIN prompt on the device; the private key never leaves it.\n")

	fmt.Fprint(&b, "\nRecovery with a passphrase:\n")
	fmt.Fprint(&b, " 1. Find the wrapped key file named above under this machine's keys/ directory.\n")
	fmt.Fprint(&b, "    If it's missing, restore it first from this bundle's _barqly_meta/keys/ copy.\n")
	fmt.Fprint(&b, " 2. Run Barqly Vault's decrypt command against this bundle file.\n")
	fmt.Fprint(&b, " 3. Enter the passphrase chosen when this key was registered.\n")

	fmt.Fprint(&b, "\nFile inventory:\n")
	for _, f := range m.Files {
		fmt.Fprintf(&b, " - %s (%s)\n", f.RelativePath, formatSize(f.Size))
	}

	fmt.Fprint(&b, "\n")
	fmt.Fprint(&b, recoveryFooter)
	return b.String()
}

// formatSize renders n as a human-scaled byte count (B/KiB/MiB/...), the
// way RECOVERY.txt's file inventory and summary line present sizes.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
