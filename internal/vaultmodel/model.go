// Package vaultmodel holds the entity types shared by the registry, manifest
// store, bundle composer, and lifecycle engine.
package vaultmodel

import "time"

// KeyType distinguishes passphrase-derived identities from hardware-token
// identities; both are interchangeable recipients of the same ciphertext.
type KeyType string

const (
	KeyTypePassphrase    KeyType = "passphrase"
	KeyTypeHardwareToken KeyType = "hardware_token"
)

// LifecycleState is the NIST-style key lifecycle state.
type LifecycleState string

const (
	StatePreActivation LifecycleState = "pre_activation"
	StateActive        LifecycleState = "active"
	StateSuspended      LifecycleState = "suspended"
	StateDeactivated    LifecycleState = "deactivated"
	StateDestroyed      LifecycleState = "destroyed"
	StateCompromised    LifecycleState = "compromised"
)

// DeactivationGrace is the window during which a deactivated key can be
// restored before the lifecycle sweep destroys it.
const DeactivationGrace = 30 * 24 * time.Hour

// MaxPassphraseRecipientsPerVault and MaxHardwareTokenRecipientsPerVault cap
// the registry's per-vault attachment set.
const (
	MaxPassphraseRecipientsPerVault    = 1
	MaxHardwareTokenRecipientsPerVault = 3
)

// HistoryEntry is one append-only lifecycle transition record.
type HistoryEntry struct {
	State     LifecycleState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
	Reason    string         `json:"reason,omitempty"`
	Actor     string         `json:"actor,omitempty"`
}

// KeyRecord is the global key entity.
type KeyRecord struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Type  KeyType `json:"type"`

	// Public material.
	Recipient string `json:"recipient"`

	// Hardware-token-only public material.
	IdentityTag    string `json:"identity_tag,omitempty"`
	DeviceSerial   string `json:"device_serial,omitempty"`
	DeviceSlot     string `json:"device_slot,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`

	// Passphrase-only private material reference (never the secret itself).
	WrappedKeyFile string `json:"wrapped_key_file,omitempty"`

	State LifecycleState `json:"state"`
	// PriorState is the state a deactivated key can be restored to
	// via restore.
	PriorState LifecycleState `json:"prior_state,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty"`

	// Attachments is the set of vault ids this key is attached to.
	Attachments map[string]struct{} `json:"-"`
	AttachmentList []string          `json:"attachments"`

	History []HistoryEntry `json:"history,omitempty"`
}

// ScheduledDeletion returns the time at which a deactivated key becomes
// eligible for destruction, or the zero Time if the key isn't deactivated.
func (k *KeyRecord) ScheduledDeletion() time.Time {
	if k.DeactivatedAt == nil {
		return time.Time{}
	}
	return k.DeactivatedAt.Add(DeactivationGrace)
}

// VaultRecord is the Vault entity.
type VaultRecord struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	SanitizedName string    `json:"sanitized_name"`
	AttachedKeys  []string  `json:"attached_keys"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
}

// DeviceIdentity is the per-machine identity persisted once.
type DeviceIdentity struct {
	MachineID    string    `json:"machine_id"`
	MachineLabel string    `json:"machine_label"`
	CreatedAt    time.Time `json:"created_at"`
	AppVersion   string    `json:"app_version"`
}

// SelectionType distinguishes an explicit file list from a folder selection.
type SelectionType string

const (
	SelectionFiles  SelectionType = "files"
	SelectionFolder SelectionType = "folder"
)

// ManifestRecipient is one recipient entry embedded in a manifest.
type ManifestRecipient struct {
	Type            KeyType `json:"type"`
	Label           string  `json:"label"`
	Recipient       string  `json:"recipient"`
	DeviceSerial    string  `json:"device_serial,omitempty"`
	DeviceSlot      string  `json:"device_slot,omitempty"`
	IdentityTag     string  `json:"identity_tag,omitempty"`
	FirmwareVersion string  `json:"firmware_version,omitempty"`
	WrappedKeyFile  string  `json:"wrapped_key_file,omitempty"`
}

// ManifestFileEntry describes one archived file.
type ManifestFileEntry struct {
	RelativePath string `json:"relative_path"`
	Size         int64  `json:"size"`
	SHA256       string `json:"sha256"`
}

// ManifestIntegrity holds the two hash-chain fields.
type ManifestIntegrity struct {
	FilesHash    string `json:"files_hash"`
	ManifestHash string `json:"manifest_hash"`
}

// EncryptedBy records which machine last produced an encryption of a vault.
type EncryptedBy struct {
	MachineID    string `json:"machine_id"`
	MachineLabel string `json:"machine_label"`
}

// ManifestSchema is the stable schema tag for the manifest document.
const ManifestSchema = "barqly.vault.manifest/1"

// ManifestV1 is the authoritative per-vault manifest.
type ManifestV1 struct {
	Schema         string        `json:"schema"`
	VaultID        string        `json:"vault_id"`
	Label          string        `json:"label"`
	SanitizedName  string        `json:"sanitized_name"`
	ManifestVersion int          `json:"manifest_version"`
	CreatedAt      time.Time     `json:"created_at"`
	LastEncryptedAt time.Time    `json:"last_encrypted_at"`
	LastEncryptedBy EncryptedBy  `json:"last_encrypted_by"`
	SelectionType  SelectionType `json:"selection_type"`
	BasePath       string        `json:"base_path,omitempty"`

	Recipients []ManifestRecipient `json:"recipients"`
	Files      []ManifestFileEntry `json:"files"`

	TotalSize int64 `json:"total_size"`
	FileCount int   `json:"file_count"`

	Integrity ManifestIntegrity `json:"integrity"`
}
