// Package atomicfile implements the write-temp-fsync-rename-fsync-parent
// primitive used for every manifest, registry, device-identity, and
// wrapped-key write, so a crash or power loss never leaves a half-written
// file in place of the original.
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/barqly/vault-core/internal/vaulterr"
)

// Write atomically replaces path with data. On any failure before the
// rename, the temp file is best-effort removed.
func Write(path string, data []byte, perm os.FileMode) error {
	return WriteStream(path, perm, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// WriteStream atomically replaces path with whatever write writes to the
// temp file it's given, for callers producing output too large (or too
// naturally streamed, e.g. an encrypted archive) to buffer in memory first.
// The same temp-fsync-rename-fsync-parent sequence as Write applies.
func WriteStream(path string, perm os.FileMode, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return vaulterr.Wrap(vaulterr.CodeIoError, "create parent directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".atomicfile-*.tmp")
	if err != nil {
		return vaulterr.Wrap(vaulterr.CodeIoError, "create temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return vaulterr.Wrap(vaulterr.CodeIoError, "chmod temp file", err)
	}
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return vaulterr.Wrap(vaulterr.CodeIoError, "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return vaulterr.Wrap(vaulterr.CodeIoError, "fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return vaulterr.Wrap(vaulterr.CodeIoError, "close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return vaulterr.Wrap(vaulterr.CodeAtomicRenameFailed, "rename into place", err)
	}
	if err := fsyncDir(dir); err != nil {
		return vaulterr.Wrap(vaulterr.CodeAtomicRenameFailed, "fsync parent directory", err)
	}
	return nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	// Directory fsync can fail with EINVAL on some platforms/filesystems
	// (notably some Windows volumes); best-effort only.
	_ = f.Sync()
	return nil
}
