package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/barqly/vault-core/internal/manifeststore"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaultpaths"
)

func tempRoots(t *testing.T) vaultpaths.Roots {
	t.Helper()
	private := t.TempDir()
	userVisible := t.TempDir()
	return vaultpaths.Roots{PrivateRoot: private, UserVisibleRoot: userVisible}
}

func TestRunCreatesDeviceIdentityOnFirstRun(t *testing.T) {
	roots := tempRoots(t)
	_, report, err := Run(roots)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.DeviceCreated {
		t.Fatal("expected DeviceCreated on first run")
	}

	_, report2, err := Run(roots)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report2.DeviceCreated {
		t.Fatal("expected DeviceCreated false on second run")
	}
}

func TestRunDiscoversVaultFromManifest(t *testing.T) {
	roots := tempRoots(t)
	if err := os.MkdirAll(roots.VaultsDir(), 0o700); err != nil {
		t.Fatalf("mkdir vaults dir: %v", err)
	}

	m := vaultmodel.ManifestV1{
		Schema:          vaultmodel.ManifestSchema,
		VaultID:         "vault-xyz",
		Label:           "Family Photos",
		SanitizedName:   "family-photos",
		ManifestVersion: 1,
		LastEncryptedAt: time.Now().UTC(),
		Recipients: []vaultmodel.ManifestRecipient{
			{Type: vaultmodel.KeyTypePassphrase, Label: "laptop"},
		},
	}
	manifeststore.Seal(&m)
	if err := manifeststore.Save(roots.ManifestPath("family-photos"), m); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	store, report, err := Run(roots)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.VaultsDiscovered) != 1 || report.VaultsDiscovered[0] != "vault-xyz" {
		t.Fatalf("expected vault-xyz discovered, got %v", report.VaultsDiscovered)
	}
	if _, ok := store.Vault("vault-xyz"); !ok {
		t.Fatal("expected vault-xyz registered in store")
	}
	if len(report.ManifestsWithoutRegistryEntry) != 1 {
		t.Fatalf("expected 1 dangling recipient reference, got %v", report.ManifestsWithoutRegistryEntry)
	}
}

func TestRunSkipsAlreadyKnownVault(t *testing.T) {
	roots := tempRoots(t)
	if err := os.MkdirAll(roots.VaultsDir(), 0o700); err != nil {
		t.Fatalf("mkdir vaults dir: %v", err)
	}
	m := vaultmodel.ManifestV1{VaultID: "vault-1", SanitizedName: "docs", ManifestVersion: 1}
	manifeststore.Seal(&m)
	if err := manifeststore.Save(filepath.Join(roots.VaultsDir(), "docs.manifest"), m); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	_, first, err := Run(roots)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(first.VaultsDiscovered) != 1 {
		t.Fatalf("expected 1 vault discovered on first run, got %v", first.VaultsDiscovered)
	}

	_, second, err := Run(roots)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(second.VaultsDiscovered) != 0 {
		t.Fatalf("expected no rediscovery on second run, got %v", second.VaultsDiscovered)
	}
}
