// Package deviceid persists the per-machine identity, generated once on
// first run, following a load-or-generate-then-persist-if-new idiom.
package deviceid

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/barqly/vault-core/internal/atomicfile"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaulterr"
)

// AppVersion is the embedding application's version, set at build time via
// ldflags; "dev" is the default for unreleased builds.
var AppVersion = "dev"

// Load reads the device identity at path, or nil + nil if it doesn't exist yet.
func Load(path string) (*vaultmodel.DeviceIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "read device identity", err)
	}
	var id vaultmodel.DeviceIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeSerializationError, "parse device identity", err)
	}
	return &id, nil
}

// EnsureLoaded loads the device identity at path, generating and persisting
// one if absent.
func EnsureLoaded(path string) (*vaultmodel.DeviceIdentity, bool, error) {
	existing, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown-host"
	}
	id := &vaultmodel.DeviceIdentity{
		MachineID:    uuid.NewString(),
		MachineLabel: hostname,
		CreatedAt:    time.Now().UTC(),
		AppVersion:   AppVersion,
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return nil, false, vaulterr.Wrap(vaulterr.CodeSerializationError, "encode device identity", err)
	}
	if err := atomicfile.Write(path, data, 0o600); err != nil {
		return nil, false, err
	}
	return id, true, nil
}
