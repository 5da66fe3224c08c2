package bundle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"

	"github.com/barqly/vault-core/internal/cryptostream"
	"github.com/barqly/vault-core/internal/vaultmodel"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestComposeDecomposeRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	stateDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "restored")

	a := writeTempFile(t, srcDir, "a.txt", "hello")
	b := writeTempFile(t, srcDir, "b.txt", "world")

	passphrase := "correct horse battery staple"
	recipient, err := cryptostream.PassphraseRecipient(passphrase, 15)
	if err != nil {
		t.Fatalf("PassphraseRecipient: %v", err)
	}

	in := ComposeInput{
		Vault: vaultmodel.VaultRecord{ID: "vault-1", Label: "Family Photos", SanitizedName: "family-photos"},
		Files: []SourceFile{
			{RelativePath: "a.txt", AbsolutePath: a},
			{RelativePath: "b.txt", AbsolutePath: b},
		},
		Recipients:         []vaultmodel.ManifestRecipient{{Type: vaultmodel.KeyTypePassphrase, Label: "laptop"}},
		AgeRecipients:      []age.Recipient{recipient},
		ManifestVersion:    1,
		LocalManifestPath:  filepath.Join(stateDir, "family-photos.manifest"),
		ManifestBackupsDir: filepath.Join(stateDir, "backups"),
		BundlePath:         filepath.Join(stateDir, "family-photos.age"),
	}

	var phases []Phase
	manifest, err := Compose(context.Background(), in, func(phase Phase, done, total int64) {
		phases = append(phases, phase)
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if manifest.FileCount != 2 {
		t.Fatalf("expected 2 files in manifest, got %d", manifest.FileCount)
	}
	if len(phases) == 0 {
		t.Fatal("expected progress callbacks")
	}

	identity, err := cryptostream.PassphraseIdentity(passphrase)
	if err != nil {
		t.Fatalf("PassphraseIdentity: %v", err)
	}
	result, err := Decompose(context.Background(), DecomposeInput{
		BundlePath:   in.BundlePath,
		Identities:   []age.Identity{identity},
		DestDir:      destDir,
		KeysDir:      filepath.Join(stateDir, "keys"),
		ManifestPath: in.LocalManifestPath,
		BackupsDir:   in.ManifestBackupsDir,
	}, nil)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(result.ExtractedFiles) != 2 {
		t.Fatalf("expected 2 extracted files, got %d", len(result.ExtractedFiles))
	}

	gotA, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	if err != nil {
		t.Fatalf("read extracted a.txt: %v", err)
	}
	if string(gotA) != "hello" {
		t.Fatalf("got %q want %q", gotA, "hello")
	}
	gotB, err := os.ReadFile(filepath.Join(destDir, "b.txt"))
	if err != nil {
		t.Fatalf("read extracted b.txt: %v", err)
	}
	if string(gotB) != "world" {
		t.Fatalf("got %q want %q", gotB, "world")
	}
}

func TestRecoveryTextContainsRecoveryRecipesAndInventory(t *testing.T) {
	m := vaultmodel.ManifestV1{
		Label:         "Family Photos",
		SanitizedName: "family-photos",
		CreatedAt:     time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC),
		FileCount:     2,
		TotalSize:     2048,
		Recipients: []vaultmodel.ManifestRecipient{
			{Type: vaultmodel.KeyTypePassphrase, Label: "laptop", WrappedKeyFile: "laptop.key.enc"},
			{Type: vaultmodel.KeyTypeHardwareToken, Label: "yubikey", DeviceSerial: "SN-1", DeviceSlot: "1"},
		},
		Files: []vaultmodel.ManifestFileEntry{
			{RelativePath: "a.txt", Size: 1024},
			{RelativePath: "b.txt", Size: 1024},
		},
	}

	got := recoveryText(m)

	for _, want := range []string{
		"family-photos",
		"2026-07-15",
		"laptop.key.enc",
		"SN-1",
		"Recovery with a hardware token:",
		"Recovery with a passphrase:",
		"a.txt",
		"b.txt",
		recoveryFooter,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected RECOVERY.txt to contain %q, got:\n%s", want, got)
		}
	}
}

func TestValidateSelectionRejectsEmpty(t *testing.T) {
	if err := ValidateSelection(nil); err == nil {
		t.Fatal("expected error for empty selection")
	}
}

func TestValidateSelectionRejectsDuplicatePaths(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.txt", "x")
	files := []SourceFile{
		{RelativePath: "a.txt", AbsolutePath: a},
		{RelativePath: "a.txt", AbsolutePath: a},
	}
	if err := ValidateSelection(files); err == nil {
		t.Fatal("expected error for duplicate relative paths")
	}
}
