package cryptostream

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/barqly/vault-core/internal/vaulterr"
)

// stanzaType is the recipient-stanza label for hardware-token wrapped file
// keys, following age's "<scheme> <args...>" stanza convention (compare
// age's own "X25519 <ephemeral-pub>" stanza in crypto_age.go's
// ageStanzaX25519Prefix).
const stanzaType = "piv-x25519"

const hkdfInfo = "barqly-vault piv-x25519 v1"

// DeviceECDH performs an X25519 scalar multiplication using the hardware
// token's resident private key, without that private key ever leaving the
// device. internal/hwbridge implements this by round-tripping the
// ephemeral public key through the identity-plugin's PTY protocol.
type DeviceECDH interface {
	ECDH(ctx context.Context, ephemeralPublicKey []byte) (sharedSecret []byte, err error)
}

// HardwareTokenRecipient wraps a file key against a hardware token's
// public key using ephemeral-static X25519 ECDH + HKDF, the same
// ephemeral-key-in-stanza shape as age's native X25519 recipient but with
// the KEK derived with a barqly-specific HKDF info string (salted with the
// ephemeral and device public keys) instead of age's own construction, so
// a passphrase-only identity can never accidentally satisfy a
// hardware-token stanza.
type HardwareTokenRecipient struct {
	DeviceID  string
	PublicKey [32]byte
}

func (r *HardwareTokenRecipient) Wrap(fileKey []byte) ([]*age.Stanza, error) {
	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "generate ephemeral key", err)
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "derive ephemeral public key", err)
	}
	shared, err := curve25519.X25519(ephPriv[:], r.PublicKey[:])
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "compute shared secret", err)
	}

	wrappingKey, err := deriveKEK(shared, ephPub, r.PublicKey[:])
	if err != nil {
		return nil, err
	}
	body, err := aeadSeal(wrappingKey, fileKey)
	if err != nil {
		return nil, err
	}

	return []*age.Stanza{{
		Type: stanzaType,
		Args: []string{r.DeviceID, base64.RawStdEncoding.EncodeToString(ephPub)},
		Body: body,
	}}, nil
}

// HardwareTokenIdentity unwraps a piv-x25519 stanza addressed to DeviceID,
// deferring the actual scalar multiplication to Bridge so the device's
// private key never leaves the token.
type HardwareTokenIdentity struct {
	DeviceID  string
	PublicKey [32]byte
	Bridge    DeviceECDH
	Ctx       context.Context
}

func (id *HardwareTokenIdentity) Unwrap(stanzas []*age.Stanza) ([]byte, error) {
	for _, s := range stanzas {
		if s.Type != stanzaType || len(s.Args) != 2 || s.Args[0] != id.DeviceID {
			continue
		}
		ephPub, err := base64.RawStdEncoding.DecodeString(s.Args[1])
		if err != nil || len(ephPub) != 32 {
			continue
		}

		ctx := id.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		shared, err := id.Bridge.ECDH(ctx, ephPub)
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.CodeProtocolError, "hardware token ECDH failed", err)
		}

		wrappingKey, err := deriveKEK(shared, ephPub, id.PublicKey[:])
		if err != nil {
			return nil, err
		}
		fileKey, err := aeadOpen(wrappingKey, s.Body)
		if err != nil {
			continue // try the next stanza; a bad body here isn't fatal to other identities
		}
		return fileKey, nil
	}
	return nil, age.ErrIncorrectIdentity
}

func deriveKEK(shared, ephPub, staticPub []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephPub)+len(staticPub))
	salt = append(salt, ephPub...)
	salt = append(salt, staticPub...)
	h := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	kek := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, kek); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "derive wrapping key", err)
	}
	return kek, nil
}

// aeadSeal/aeadOpen use an all-zero nonce: the KEK is single-use (fresh
// per Wrap, bound to a fresh ephemeral key via HKDF), so nonce reuse across
// keys is not a concern the way it would be with a static key.
func aeadSeal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "init wrap cipher", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func aeadOpen(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "init unwrap cipher", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeAuthenticationFailed, "unwrap file key failed", err)
	}
	return pt, nil
}
