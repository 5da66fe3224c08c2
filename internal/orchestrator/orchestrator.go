// Package orchestrator coordinates the encrypt/decrypt caller-facing
// operations: resolving recipients/identities from key records, driving
// internal/bundle's composer/decomposer, and translating its phase
// callbacks into a per-operation event channel the caller owns, so
// progress from concurrent encrypt/decrypt calls never interleaves on a
// shared global.
package orchestrator

import (
	"context"
	"encoding/hex"
	"os"

	"filippo.io/age"

	"github.com/barqly/vault-core/internal/bundle"
	"github.com/barqly/vault-core/internal/cryptostream"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaulterr"
)

// Event is one progress notification, forwarded verbatim from bundle.Phase.
type Event struct {
	Phase      bundle.Phase
	BytesDone  int64
	TotalBytes int64
}

// RecipientSpec names one key to encrypt against, plus whatever secret
// material is needed right now to build its age.Recipient: a typed-in
// passphrase for passphrase keys, or a live device bridge for hardware
// tokens (the token's own private key never leaves the device).
type RecipientSpec struct {
	Key        vaultmodel.KeyRecord
	Passphrase string
	Bridge     cryptostream.DeviceECDH
}

// EncryptRequest is the input to one multi-recipient encrypt invocation.
type EncryptRequest struct {
	Vault           vaultmodel.VaultRecord
	Files           []bundle.SourceFile
	Recipients      []RecipientSpec
	ManifestVersion int
	EncryptedBy     vaultmodel.EncryptedBy
	ScryptWorkLog2  int

	LocalManifestPath  string
	ManifestBackupsDir string
	BundlePath         string
}

// Encrypt resolves req.Recipients into age recipients, pre-validates the
// selection with a bounded-concurrency readability/size pass, then hands
// off to bundle.Compose. events receives one notification per phase
// transition and per >=64KiB of archive progress; pass nil to ignore them.
func Encrypt(ctx context.Context, req EncryptRequest, events chan<- Event) (vaultmodel.ManifestV1, error) {
	forward := func(phase bundle.Phase, done, total int64) {
		if events == nil {
			return
		}
		select {
		case events <- Event{Phase: phase, BytesDone: done, TotalBytes: total}:
		case <-ctx.Done():
		}
	}

	forward(bundle.PhaseValidating, 0, 0)
	if err := bundle.ValidateSelection(req.Files); err != nil {
		return vaultmodel.ManifestV1{}, err
	}
	if err := ParallelEach(ctx, req.Files, 0, checkReadable); err != nil {
		return vaultmodel.ManifestV1{}, err
	}

	ageRecipients := make([]age.Recipient, 0, len(req.Recipients))
	manifestRecipients := make([]vaultmodel.ManifestRecipient, 0, len(req.Recipients))
	wrappedKeyFiles := make(map[string][]byte)
	for _, spec := range req.Recipients {
		built, err := buildAgeRecipient(spec, req.ScryptWorkLog2)
		if err != nil {
			return vaultmodel.ManifestV1{}, err
		}
		ageRecipients = append(ageRecipients, built.ageRecipient)
		manifestRecipients = append(manifestRecipients, built.manifestRecipient)
		if built.wrappedKeyBytes != nil {
			wrappedKeyFiles[spec.Key.Label] = built.wrappedKeyBytes
		}
	}

	in := bundle.ComposeInput{
		Vault:               req.Vault,
		Files:               req.Files,
		Recipients:          manifestRecipients,
		AgeRecipients:       ageRecipients,
		WrappedKeyFiles:     wrappedKeyFiles,
		ManifestVersion:     req.ManifestVersion,
		EncryptedBy:         req.EncryptedBy,
		LocalManifestPath:   req.LocalManifestPath,
		ManifestBackupsDir:  req.ManifestBackupsDir,
		BundlePath:          req.BundlePath,
	}
	return bundle.Compose(ctx, in, forward)
}

// IdentitySpec names one key available to decrypt with.
type IdentitySpec struct {
	Key        vaultmodel.KeyRecord
	Passphrase string
	Bridge     cryptostream.DeviceECDH
}

// DecryptRequest is the input to one decrypt invocation.
type DecryptRequest struct {
	BundlePath   string
	Identities   []IdentitySpec
	DestDir      string
	KeysDir      string
	ManifestPath string
	BackupsDir   string
}

// Decrypt resolves req.Identities into age identities and hands off to
// bundle.Decompose.
func Decrypt(ctx context.Context, req DecryptRequest, events chan<- Event) (bundle.DecomposeResult, error) {
	forward := func(phase bundle.Phase, done, total int64) {
		if events == nil {
			return
		}
		select {
		case events <- Event{Phase: phase, BytesDone: done, TotalBytes: total}:
		case <-ctx.Done():
		}
	}

	identities := make([]age.Identity, 0, len(req.Identities))
	for _, spec := range req.Identities {
		identity, err := buildAgeIdentity(ctx, spec)
		if err != nil {
			return bundle.DecomposeResult{}, err
		}
		identities = append(identities, identity)
	}

	in := bundle.DecomposeInput{
		BundlePath:   req.BundlePath,
		Identities:   identities,
		DestDir:      req.DestDir,
		KeysDir:      req.KeysDir,
		ManifestPath: req.ManifestPath,
		BackupsDir:   req.BackupsDir,
	}
	return bundle.Decompose(ctx, in, forward)
}

// recipientBuild is what buildAgeRecipient resolves a RecipientSpec into:
// the age-level recipient, the manifest entry describing it, and, for
// passphrase keys, the wrapped-key-file bytes to stage into the bundle.
type recipientBuild struct {
	ageRecipient      age.Recipient
	manifestRecipient vaultmodel.ManifestRecipient
	wrappedKeyBytes   []byte
}

func buildAgeRecipient(spec RecipientSpec, workLog2 int) (recipientBuild, error) {
	switch spec.Key.Type {
	case vaultmodel.KeyTypePassphrase:
		if workLog2 <= 0 {
			workLog2 = 20
		}
		if spec.Key.WrappedKeyFile == "" {
			return recipientBuild{}, vaulterr.New(vaulterr.CodeKeyNotFound, "passphrase key "+spec.Key.Label+" has no wrapped key file; it is destroyed or was never registered with one")
		}
		wrapped, err := os.ReadFile(spec.Key.WrappedKeyFile)
		if err != nil {
			if os.IsNotExist(err) {
				return recipientBuild{}, vaulterr.New(vaulterr.CodeKeyNotFound, "wrapped key file missing for "+spec.Key.Label+"; key is destroyed")
			}
			return recipientBuild{}, vaulterr.Wrap(vaulterr.CodeIoError, "read wrapped key file for "+spec.Key.Label, err)
		}
		pepper, err := cryptostream.UnwrapPepper(spec.Passphrase, wrapped)
		if err != nil {
			return recipientBuild{}, err
		}
		r, err := cryptostream.PassphraseRecipient(cryptostream.EffectiveSecret(spec.Passphrase, pepper), workLog2)
		if err != nil {
			return recipientBuild{}, err
		}
		return recipientBuild{
			ageRecipient: r,
			manifestRecipient: vaultmodel.ManifestRecipient{
				Type:           vaultmodel.KeyTypePassphrase,
				Label:          spec.Key.Label,
				WrappedKeyFile: spec.Key.Label + ".key.enc",
			},
			wrappedKeyBytes: wrapped,
		}, nil

	case vaultmodel.KeyTypeHardwareToken:
		pub, err := decodePublicKey(spec.Key.Recipient)
		if err != nil {
			return recipientBuild{}, err
		}
		r := &cryptostream.HardwareTokenRecipient{DeviceID: spec.Key.IdentityTag, PublicKey: pub}
		return recipientBuild{
			ageRecipient: r,
			manifestRecipient: vaultmodel.ManifestRecipient{
				Type:            vaultmodel.KeyTypeHardwareToken,
				Label:           spec.Key.Label,
				Recipient:       spec.Key.Recipient,
				DeviceSerial:    spec.Key.DeviceSerial,
				DeviceSlot:      spec.Key.DeviceSlot,
				IdentityTag:     spec.Key.IdentityTag,
				FirmwareVersion: spec.Key.FirmwareVersion,
			},
		}, nil

	default:
		return recipientBuild{}, vaulterr.New(vaulterr.CodeInvalidInput, "unknown key type: "+string(spec.Key.Type))
	}
}

func buildAgeIdentity(ctx context.Context, spec IdentitySpec) (age.Identity, error) {
	switch spec.Key.Type {
	case vaultmodel.KeyTypePassphrase:
		if spec.Key.WrappedKeyFile == "" {
			return nil, vaulterr.New(vaulterr.CodeKeyNotFound, "passphrase key "+spec.Key.Label+" has no wrapped key file; it is destroyed or was never registered with one")
		}
		wrapped, err := os.ReadFile(spec.Key.WrappedKeyFile)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, vaulterr.New(vaulterr.CodeKeyNotFound, "wrapped key file missing for "+spec.Key.Label+"; key is destroyed")
			}
			return nil, vaulterr.Wrap(vaulterr.CodeIoError, "read wrapped key file for "+spec.Key.Label, err)
		}
		pepper, err := cryptostream.UnwrapPepper(spec.Passphrase, wrapped)
		if err != nil {
			return nil, err
		}
		return cryptostream.PassphraseIdentity(cryptostream.EffectiveSecret(spec.Passphrase, pepper))
	case vaultmodel.KeyTypeHardwareToken:
		pub, err := decodePublicKey(spec.Key.Recipient)
		if err != nil {
			return nil, err
		}
		if spec.Bridge == nil {
			return nil, vaulterr.New(vaulterr.CodeDeviceMissing, "no bridge configured for hardware token "+spec.Key.Label)
		}
		return &cryptostream.HardwareTokenIdentity{
			DeviceID:  spec.Key.IdentityTag,
			PublicKey: pub,
			Bridge:    spec.Bridge,
			Ctx:       ctx,
		}, nil
	default:
		return nil, vaulterr.New(vaulterr.CodeInvalidInput, "unknown key type: "+string(spec.Key.Type))
	}
}

func decodePublicKey(hexEncoded string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(hexEncoded)
	if err != nil || len(raw) != 32 {
		return out, vaulterr.New(vaulterr.CodeInvalidInput, "malformed hardware token public key")
	}
	copy(out[:], raw)
	return out, nil
}

func checkReadable(f bundle.SourceFile) error {
	file, err := os.Open(f.AbsolutePath)
	if err != nil {
		return vaulterr.Wrap(vaulterr.CodeFileNotFound, "open "+f.RelativePath, err)
	}
	return file.Close()
}
