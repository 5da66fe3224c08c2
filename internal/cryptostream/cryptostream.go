// Package cryptostream wraps filippo.io/age for a multi-recipient
// streaming cipher: an io.Writer/io.Reader streaming interface over the
// archive format, with both passphrase (scrypt) and hardware-token
// recipients in a single header.
package cryptostream

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/barqly/vault-core/internal/vaulterr"
)

// PassphraseRecipient wraps age's scrypt recipient, fixing the work factor
// from vaultconfig rather than age's own interactive default.
func PassphraseRecipient(passphrase string, workFactorLog2 int) (age.Recipient, error) {
	r, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeInvalidInput, "build passphrase recipient", err)
	}
	r.SetWorkFactor(workFactorLog2)
	return r, nil
}

// PassphraseIdentity wraps age's scrypt identity for decrypt-side use. The
// work factor is read from the stanza itself, so none is passed here.
func PassphraseIdentity(passphrase string) (age.Identity, error) {
	id, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeInvalidInput, "build passphrase identity", err)
	}
	return id, nil
}

// pepperSize is the length of the random pepper generated for every
// passphrase key at registration time and mixed into the secret actually
// fed to the per-bundle scrypt recipient/identity. The pepper only exists
// wrapped under the passphrase on disk (the wrapped-key file); deleting
// that file makes the key unusable even to someone who still knows the
// passphrase, which is what lets destroy/sweep actually retire a key.
const pepperSize = 32

// GeneratePepper returns pepperSize fresh random bytes for a newly
// registered passphrase key.
func GeneratePepper() ([]byte, error) {
	pepper := make([]byte, pepperSize)
	if _, err := rand.Read(pepper); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "generate key pepper", err)
	}
	return pepper, nil
}

// WrapPepper encrypts pepper under a passphrase-derived scrypt recipient,
// producing the bytes persisted as a passphrase key's "<label>.key.enc"
// wrapped-key file (and embedded into every bundle that key recipients).
func WrapPepper(passphrase string, workFactorLog2 int, pepper []byte) ([]byte, error) {
	r, err := PassphraseRecipient(passphrase, workFactorLog2)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w, err := Encrypt(&buf, r)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(pepper); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "write wrapped key pepper", err)
	}
	if err := w.Close(); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "close wrapped key pepper", err)
	}
	return buf.Bytes(), nil
}

// UnwrapPepper reverses WrapPepper, recovering the pepper from a
// wrapped-key file's bytes given the same passphrase.
func UnwrapPepper(passphrase string, wrapped []byte) ([]byte, error) {
	id, err := PassphraseIdentity(passphrase)
	if err != nil {
		return nil, err
	}
	r, err := Decrypt(bytes.NewReader(wrapped), id)
	if err != nil {
		return nil, err
	}
	pepper, err := io.ReadAll(r)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "read wrapped key pepper", err)
	}
	return pepper, nil
}

// EffectiveSecret combines a typed passphrase with its unwrapped pepper
// into the string actually handed to PassphraseRecipient/PassphraseIdentity,
// so a passphrase alone - without the wrapped-key file - never reproduces
// the recipient a bundle was actually encrypted to.
func EffectiveSecret(passphrase string, pepper []byte) string {
	return passphrase + "." + base64.RawURLEncoding.EncodeToString(pepper)
}

// Encrypt opens a streaming age encryptor over w for the given recipients.
// Callers write the archive bytes to the returned writer and must Close it
// to flush the final AEAD chunk.
func Encrypt(w io.Writer, recipients ...age.Recipient) (io.WriteCloser, error) {
	if len(recipients) == 0 {
		return nil, vaulterr.New(vaulterr.CodeNoRecipients, "at least one recipient is required")
	}
	enc, err := age.Encrypt(w, recipients...)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "start age encryption", err)
	}
	return enc, nil
}

// Decrypt opens src against the first identity that matches any recipient
// stanza in the header, trying each identity in turn so the most
// informative error wins. age.Decrypt already does this internally
// for age.Identity implementations that return age.ErrIncorrectIdentity on
// mismatch; we only need to translate the aggregate failure.
func Decrypt(src io.Reader, identities ...age.Identity) (io.Reader, error) {
	if len(identities) == 0 {
		return nil, vaulterr.New(vaulterr.CodeNoRecipients, "at least one identity is required")
	}
	r, err := age.Decrypt(src, identities...)
	if err != nil {
		return nil, classifyDecryptError(err)
	}
	return r, nil
}

func classifyDecryptError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no identity matched"):
		return vaulterr.Wrap(vaulterr.CodeNoMatchingRecipient, "no key or passphrase authorized this bundle", err)
	case strings.Contains(msg, "malformed header"), strings.Contains(msg, "unexpected"):
		return vaulterr.Wrap(vaulterr.CodeHeaderMalformed, "bundle header is malformed", err)
	case strings.Contains(msg, "bad MAC"), strings.Contains(msg, "message authentication"):
		return vaulterr.Wrap(vaulterr.CodeAuthenticationFailed, "bundle failed authentication", err)
	case err == io.ErrUnexpectedEOF, strings.Contains(msg, "unexpected EOF"):
		return vaulterr.Wrap(vaulterr.CodeTruncated, "bundle is truncated", err)
	default:
		return vaulterr.Wrap(vaulterr.CodeAuthenticationFailed, "decryption failed", err)
	}
}
