package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaulterr"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestRegisterAttachDetachLifecycle(t *testing.T) {
	s := openTemp(t)

	rec, err := s.Register(vaultmodel.KeyRecord{Label: "laptop", Type: vaultmodel.KeyTypePassphrase, Recipient: "age1..."})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if rec.State != vaultmodel.StatePreActivation {
		t.Fatalf("expected pre_activation, got %s", rec.State)
	}

	if err := s.Attach(rec.ID, "vault-1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != vaultmodel.StateActive {
		t.Fatalf("expected active after attach, got %s", got.State)
	}

	if err := s.Detach(rec.ID, "vault-1"); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	got, _ = s.Get(rec.ID)
	if got.State != vaultmodel.StateSuspended {
		t.Fatalf("expected suspended after detaching last vault, got %s", got.State)
	}
}

func TestAttachEnforcesPassphraseLimit(t *testing.T) {
	s := openTemp(t)
	a, _ := s.Register(vaultmodel.KeyRecord{Label: "a", Type: vaultmodel.KeyTypePassphrase})
	b, _ := s.Register(vaultmodel.KeyRecord{Label: "b", Type: vaultmodel.KeyTypePassphrase})

	if err := s.Attach(a.ID, "vault-1"); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := s.Attach(b.ID, "vault-1"); err == nil {
		t.Fatal("expected attachment limit error for second passphrase key")
	}
}

func TestDeactivateRestoreRoundTrip(t *testing.T) {
	s := openTemp(t)
	rec, _ := s.Register(vaultmodel.KeyRecord{Label: "k", Type: vaultmodel.KeyTypePassphrase})
	if err := s.Attach(rec.ID, "vault-1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := s.Deactivate(rec.ID, "manual"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, _ := s.Get(rec.ID)
	if got.State != vaultmodel.StateDeactivated {
		t.Fatalf("expected deactivated, got %s", got.State)
	}

	if err := s.Restore(rec.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, _ = s.Get(rec.ID)
	if got.State != vaultmodel.StateActive {
		t.Fatalf("expected active after restore, got %s", got.State)
	}
}

func TestSweepDestroysPastGraceWindow(t *testing.T) {
	s := openTemp(t)
	rec, _ := s.Register(vaultmodel.KeyRecord{Label: "k", Type: vaultmodel.KeyTypePassphrase})
	if err := s.Attach(rec.ID, "vault-1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := s.Deactivate(rec.ID, "manual"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	future := time.Now().UTC().Add(vaultmodel.DeactivationGrace + time.Hour)
	destroyed := s.Sweep(future)
	if len(destroyed) != 1 || destroyed[0] != rec.ID {
		t.Fatalf("expected sweep to destroy %s, got %v", rec.ID, destroyed)
	}
	got, _ := s.Get(rec.ID)
	if got.State != vaultmodel.StateDestroyed {
		t.Fatalf("expected destroyed, got %s", got.State)
	}
}

func TestDestroyRejectsActiveKey(t *testing.T) {
	s := openTemp(t)
	rec, _ := s.Register(vaultmodel.KeyRecord{Label: "k", Type: vaultmodel.KeyTypePassphrase})
	if err := s.Attach(rec.ID, "vault-1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := s.Destroy(rec.ID, "test"); err == nil {
		t.Fatal("expected destroy to reject an active key")
	}
}

func TestRegisterRejectsDuplicateRecipient(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Register(vaultmodel.KeyRecord{Label: "yubikey-a", Type: vaultmodel.KeyTypeHardwareToken, Recipient: "age1abc..."}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := s.Register(vaultmodel.KeyRecord{Label: "yubikey-b", Type: vaultmodel.KeyTypeHardwareToken, Recipient: "age1abc..."})
	if err == nil {
		t.Fatal("expected an error registering a duplicate recipient")
	}
	if vaulterr.CodeOf(err) != vaulterr.CodeKeyAlreadyExists {
		t.Fatalf("expected CodeKeyAlreadyExists, got %v", vaulterr.CodeOf(err))
	}
}

func TestRegisterAllowsRecipientReuseAfterDestroy(t *testing.T) {
	s := openTemp(t)
	first, err := s.Register(vaultmodel.KeyRecord{Label: "yubikey-a", Type: vaultmodel.KeyTypeHardwareToken, Recipient: "age1abc..."})
	if err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := s.Destroy(first.ID, "retired"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := s.Register(vaultmodel.KeyRecord{Label: "yubikey-b", Type: vaultmodel.KeyTypeHardwareToken, Recipient: "age1abc..."}); err != nil {
		t.Fatalf("expected re-registration of a destroyed key's recipient to succeed, got %v", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec, _ := s.Register(vaultmodel.KeyRecord{Label: "k", Type: vaultmodel.KeyTypeHardwareToken})
	if err := s.Attach(rec.ID, "vault-1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	keys := reopened.ByVault("vault-1")
	if len(keys) != 1 || keys[0].ID != rec.ID {
		t.Fatalf("expected reloaded registry to retain attachment, got %+v", keys)
	}
}
