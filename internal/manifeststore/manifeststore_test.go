package manifeststore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/barqly/vault-core/internal/vaultmodel"
)

func baseManifest(version int, when time.Time) vaultmodel.ManifestV1 {
	m := vaultmodel.ManifestV1{
		Schema:          vaultmodel.ManifestSchema,
		VaultID:         "vault-1",
		SanitizedName:   "family-photos",
		ManifestVersion: version,
		LastEncryptedAt: when,
		Files: []vaultmodel.ManifestFileEntry{
			{RelativePath: "a.txt", Size: 3, SHA256: "aaa"},
		},
	}
	Seal(&m)
	return m
}

func TestSealVerifyRoundTrip(t *testing.T) {
	m := baseManifest(1, time.Now().UTC())
	if !Verify(m) {
		t.Fatal("expected freshly sealed manifest to verify")
	}
	m.Files[0].SHA256 = "tampered"
	if Verify(m) {
		t.Fatal("expected tampered manifest to fail verification")
	}
}

func TestVerifyDetectsTamperedLabelNotCoveredByFilesHash(t *testing.T) {
	m := baseManifest(1, time.Now().UTC())
	m.Label = "Someone Else's Vault"
	if Verify(m) {
		t.Fatal("expected a tampered label (outside files_hash) to fail verification")
	}
}

func TestVerifyDetectsTamperedTotalSize(t *testing.T) {
	m := baseManifest(1, time.Now().UTC())
	m.TotalSize += 1024
	if Verify(m) {
		t.Fatal("expected a tampered total size to fail verification")
	}
}

func TestVerifyDetectsTamperedRecipientDeviceSerial(t *testing.T) {
	m := baseManifest(1, time.Now().UTC())
	m.Recipients = []vaultmodel.ManifestRecipient{
		{Type: vaultmodel.KeyTypeHardwareToken, Label: "yubikey", DeviceSerial: "ORIGINAL-SERIAL"},
	}
	Seal(&m)
	m.Recipients[0].DeviceSerial = "SWAPPED-SERIAL"
	if Verify(m) {
		t.Fatal("expected a tampered recipient device serial to fail verification")
	}
}

func TestReconcileAcceptsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "v.manifest")
	backups := filepath.Join(dir, "backups")

	bundled := baseManifest(1, time.Now().UTC())
	res, warn, err := Reconcile(local, backups, bundled)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res != ResolutionAccepted || warn != nil {
		t.Fatalf("expected accepted with no warning, got %s %v", res, warn)
	}
	if _, err := os.Stat(local); err != nil {
		t.Fatalf("expected local manifest written: %v", err)
	}
}

func TestReconcileReplacesWhenBundleNewer(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "v.manifest")
	backups := filepath.Join(dir, "backups")

	old := baseManifest(1, time.Now().UTC().Add(-time.Hour))
	if err := Save(local, old); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	newer := baseManifest(2, time.Now().UTC())
	res, warn, err := Reconcile(local, backups, newer)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res != ResolutionReplaced || warn != nil {
		t.Fatalf("expected replaced with no warning, got %s %v", res, warn)
	}
	entries, err := os.ReadDir(backups)
	if err != nil {
		t.Fatalf("read backups dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one backup, got %d", len(entries))
	}
}

func TestReconcileKeepsLocalWhenBundleOlder(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "v.manifest")
	backups := filepath.Join(dir, "backups")

	newer := baseManifest(5, time.Now().UTC())
	if err := Save(local, newer); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	older := baseManifest(1, time.Now().UTC().Add(-time.Hour))
	res, warn, err := Reconcile(local, backups, older)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res != ResolutionKeptLocal || warn == nil {
		t.Fatalf("expected kept_local with a warning, got %s %v", res, warn)
	}
}

func TestPruneBackupsKeepsMostRecentFive(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "v.manifest")
	backups := filepath.Join(dir, "backups")

	base := baseManifest(1, time.Now().UTC())
	if err := Save(local, base); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 2; i <= 8; i++ {
		next := baseManifest(i, time.Now().UTC())
		if _, _, err := Reconcile(local, backups, next); err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(backups)
	if err != nil {
		t.Fatalf("read backups: %v", err)
	}
	if len(entries) != maxBackups {
		t.Fatalf("expected %d backups retained, got %d", maxBackups, len(entries))
	}
}
