// Package bootstrap runs the startup reconciliation: ensure a device
// identity exists, scan the manifests directory for vaults the registry
// doesn't yet know about, merge them in additively, and run the lifecycle
// sweep.
package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/barqly/vault-core/internal/deviceid"
	"github.com/barqly/vault-core/internal/lifecycle"
	"github.com/barqly/vault-core/internal/manifeststore"
	"github.com/barqly/vault-core/internal/registry"
	"github.com/barqly/vault-core/internal/vaultlog"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaultpaths"
	"github.com/barqly/vault-core/internal/vaulterr"
)

var log = vaultlog.For("bootstrap")

// Report summarizes one bootstrap run, and doubles as the "doctor"-style
// health report a caller can surface to the user without re-running the
// scan.
type Report struct {
	DeviceCreated     bool
	VaultsDiscovered  []string // vault ids merged into the registry this run
	KeysSweptDestroyed []string

	// OrphanedKeys are registry keys with no attachments whose state is
	// neither pre_activation, destroyed nor compromised — candidates for
	// cleanup.
	OrphanedKeys []string
	// ManifestsWithoutRegistryEntry lists "<vault id>:<recipient label>" for
	// each recipient of a vault discovered this run whose label matches no
	// key in the registry (the key record itself is missing, not merely
	// detached).
	ManifestsWithoutRegistryEntry []string
}

// Run performs the full startup sequence against the given roots, opening
// (and returning) the registry store for the caller to keep using.
func Run(roots vaultpaths.Roots) (*registry.Store, Report, error) {
	var report Report

	_, created, err := deviceid.EnsureLoaded(roots.DeviceIdentityPath())
	if err != nil {
		return nil, report, err
	}
	report.DeviceCreated = created

	store, err := registry.Open(roots.RegistryPath())
	if err != nil {
		return nil, report, err
	}

	manifests, err := scanManifests(roots.VaultsDir())
	if err != nil {
		return nil, report, err
	}

	for _, m := range manifests {
		if _, ok := store.Vault(m.VaultID); ok {
			continue
		}
		if err := store.UpsertVault(vaultmodel.VaultRecord{
			ID:            m.VaultID,
			Label:         m.Label,
			SanitizedName: m.SanitizedName,
			ModifiedAt:    m.LastEncryptedAt,
		}); err != nil {
			return nil, report, err
		}
		report.VaultsDiscovered = append(report.VaultsDiscovered, m.VaultID)
		log.WithVault(m.VaultID).Info("vault discovered from manifest during bootstrap")

		for _, r := range m.Recipients {
			if !keyExistsByLabel(store, r.Label) {
				report.ManifestsWithoutRegistryEntry = append(report.ManifestsWithoutRegistryEntry, m.VaultID+":"+r.Label)
			}
		}
	}

	destroyed, err := lifecycle.Sweep(store, time.Now().UTC())
	if err != nil {
		return nil, report, err
	}
	report.KeysSweptDestroyed = destroyed

	for _, k := range store.ListAll() {
		if k.State == vaultmodel.StateDestroyed || k.State == vaultmodel.StateCompromised {
			continue
		}
		if len(k.Attachments) == 0 && k.State != vaultmodel.StatePreActivation {
			report.OrphanedKeys = append(report.OrphanedKeys, k.ID)
		}
	}

	return store, report, nil
}

func keyExistsByLabel(store *registry.Store, label string) bool {
	for _, k := range store.ListAll() {
		if k.Label == label {
			return true
		}
	}
	return false
}

func scanManifests(vaultsDir string) ([]vaultmodel.ManifestV1, error) {
	entries, err := os.ReadDir(vaultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "scan vaults directory", err)
	}

	var manifests []vaultmodel.ManifestV1
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".manifest") {
			continue
		}
		m, err := manifeststore.Load(filepath.Join(vaultsDir, e.Name()))
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		manifests = append(manifests, *m)
	}
	return manifests, nil
}
