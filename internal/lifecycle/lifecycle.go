// Package lifecycle drives the key lifecycle state machine's destructive
// side effect: when internal/registry's sweep moves a deactivated key past
// its grace window into destroyed, something has to actually remove the
// wrapped-key bytes from disk. The state machine itself (transitions,
// invariants, history) lives in internal/registry; this package is the
// thin reconciling layer sitting above it.
package lifecycle

import (
	"os"
	"time"

	"github.com/barqly/vault-core/internal/registry"
	"github.com/barqly/vault-core/internal/vaultlog"
	"github.com/barqly/vault-core/internal/vaulterr"
)

var log = vaultlog.For("lifecycle")

// Sweep destroys every deactivated key past its grace window and removes
// its wrapped-key file. Passphrase keys without a WrappedKeyFile (never
// registered with one) and hardware-token keys (no local secret file)
// are skipped at the file-removal step.
func Sweep(store *registry.Store, now time.Time) ([]string, error) {
	destroyed := store.Sweep(now)
	for _, id := range destroyed {
		k, err := store.Get(id)
		if err != nil {
			return destroyed, err
		}
		log.WithKey(id).Info("key destroyed: grace window elapsed")
		if k.WrappedKeyFile == "" {
			continue
		}
		if err := os.Remove(k.WrappedKeyFile); err != nil && !os.IsNotExist(err) {
			return destroyed, vaulterr.Wrap(vaulterr.CodeIoError, "remove wrapped key file for "+id, err)
		}
	}
	return destroyed, nil
}

// Destroy destroys keyID directly (user-initiated, not grace-window-driven)
// and removes its wrapped-key file, mirroring what Sweep does for one key.
func Destroy(store *registry.Store, keyID, reason string) error {
	k, err := store.Get(keyID)
	if err != nil {
		return err
	}
	wrappedKeyFile := k.WrappedKeyFile
	if err := store.Destroy(keyID, reason); err != nil {
		return err
	}
	log.WithKey(keyID).Info("key destroyed: " + reason)
	if wrappedKeyFile == "" {
		return nil
	}
	if err := os.Remove(wrappedKeyFile); err != nil && !os.IsNotExist(err) {
		return vaulterr.Wrap(vaulterr.CodeIoError, "remove wrapped key file for "+keyID, err)
	}
	return nil
}
