// Package registry persists the global key registry: one JSON document
// holding every Key entity plus the known Vault records, mutated through
// a small set of lifecycle-aware operations (load-or-default,
// upsert-by-key, atomic save), keyed by key id with an append-only
// per-key history.
package registry

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barqly/vault-core/internal/atomicfile"
	"github.com/barqly/vault-core/internal/vaultmodel"
	"github.com/barqly/vault-core/internal/vaulterr"
)

const schemaVersion = 1

type document struct {
	SchemaVersion int                               `json:"schema_version"`
	Keys          map[string]*vaultmodel.KeyRecord   `json:"keys"`
	Vaults        map[string]*vaultmodel.VaultRecord `json:"vaults"`
}

// Store is the in-memory registry bound to a persistence path. All
// mutating methods lock internally and leave the document saved on disk
// before returning.
type Store struct {
	path string
	mu   sync.Mutex
	doc  document
}

// Open loads the registry at path, or starts a fresh empty one if absent.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.doc = document{SchemaVersion: schemaVersion, Keys: map[string]*vaultmodel.KeyRecord{}, Vaults: map[string]*vaultmodel.VaultRecord{}}
			return s, nil
		}
		return nil, vaulterr.Wrap(vaulterr.CodeIoError, "read registry", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeSerializationError, "parse registry", err)
	}
	if doc.Keys == nil {
		doc.Keys = map[string]*vaultmodel.KeyRecord{}
	}
	if doc.Vaults == nil {
		doc.Vaults = map[string]*vaultmodel.VaultRecord{}
	}
	for _, k := range doc.Keys {
		k.Attachments = map[string]struct{}{}
		for _, v := range k.AttachmentList {
			k.Attachments[v] = struct{}{}
		}
	}
	s.doc = doc
	return s, nil
}

func (s *Store) saveLocked() error {
	for _, k := range s.doc.Keys {
		list := make([]string, 0, len(k.Attachments))
		for v := range k.Attachments {
			list = append(list, v)
		}
		sort.Strings(list)
		k.AttachmentList = list
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return vaulterr.Wrap(vaulterr.CodeSerializationError, "encode registry", err)
	}
	return atomicfile.Write(s.path, data, 0o600)
}

// Get returns a copy-by-reference to the key record, or CodeKeyNotFound.
func (s *Store) Get(keyID string) (*vaultmodel.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.doc.Keys[keyID]
	if !ok {
		return nil, vaulterr.New(vaulterr.CodeKeyNotFound, "key not found: "+keyID)
	}
	return k, nil
}

// ListAll returns every key record, sorted by key id.
func (s *Store) ListAll() []*vaultmodel.KeyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*vaultmodel.KeyRecord, 0, len(s.doc.Keys))
	for _, k := range s.doc.Keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByVault returns the keys currently attached to vaultID.
func (s *Store) ByVault(vaultID string) []*vaultmodel.KeyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*vaultmodel.KeyRecord
	for _, k := range s.doc.Keys {
		if _, ok := k.Attachments[vaultID]; ok {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Register creates a new key in pre_activation state and persists it.
// rec.ID is assigned here; any caller-supplied ID is ignored. Rejects a
// non-empty rec.Recipient that already belongs to another non-destroyed
// key, since two registry entries for the same public recipient could
// never be told apart at attach/encrypt time.
func (s *Store) Register(rec vaultmodel.KeyRecord) (*vaultmodel.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Recipient != "" {
		for _, other := range s.doc.Keys {
			if other.State == vaultmodel.StateDestroyed {
				continue
			}
			if other.Recipient == rec.Recipient {
				return nil, vaulterr.New(vaulterr.CodeKeyAlreadyExists, "recipient already registered under key "+other.Label)
			}
		}
	}

	rec.ID = uuid.NewString()
	rec.State = vaultmodel.StatePreActivation
	rec.Attachments = map[string]struct{}{}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.History = append(rec.History, vaultmodel.HistoryEntry{State: vaultmodel.StatePreActivation, Timestamp: now, Reason: "registered"})

	stored := rec
	s.doc.Keys[rec.ID] = &stored
	if err := s.saveLocked(); err != nil {
		delete(s.doc.Keys, rec.ID)
		return nil, err
	}
	return &stored, nil
}

// Attach attaches keyID to vaultID, enforcing the per-vault attachment
// caps and transitioning pre_activation/suspended -> active.
func (s *Store) Attach(keyID, vaultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.doc.Keys[keyID]
	if !ok {
		return vaulterr.New(vaulterr.CodeKeyNotFound, "key not found: "+keyID)
	}
	if k.State == vaultmodel.StateDestroyed || k.State == vaultmodel.StateCompromised {
		return vaulterr.New(vaulterr.CodeInvalidKeyState, "cannot attach a "+string(k.State)+" key")
	}
	if _, already := k.Attachments[vaultID]; already {
		return nil
	}

	limit := vaultmodel.MaxPassphraseRecipientsPerVault
	if k.Type == vaultmodel.KeyTypeHardwareToken {
		limit = vaultmodel.MaxHardwareTokenRecipientsPerVault
	}
	count := 0
	for _, other := range s.doc.Keys {
		if other.Type != k.Type {
			continue
		}
		if _, attached := other.Attachments[vaultID]; attached {
			count++
		}
	}
	if count >= limit {
		return vaulterr.New(vaulterr.CodeAttachmentLimitExceeded, "vault already has the maximum number of "+string(k.Type)+" keys attached")
	}

	k.Attachments[vaultID] = struct{}{}
	if k.State == vaultmodel.StatePreActivation || k.State == vaultmodel.StateSuspended {
		s.transitionLocked(k, vaultmodel.StateActive, "attached to vault "+vaultID)
	}
	return s.saveLocked()
}

// Detach removes keyID's attachment to vaultID. If that was the key's last
// attachment, it transitions active -> suspended.
func (s *Store) Detach(keyID, vaultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.doc.Keys[keyID]
	if !ok {
		return vaulterr.New(vaulterr.CodeKeyNotFound, "key not found: "+keyID)
	}
	delete(k.Attachments, vaultID)
	if len(k.Attachments) == 0 && k.State == vaultmodel.StateActive {
		s.transitionLocked(k, vaultmodel.StateSuspended, "detached from last vault "+vaultID)
	}
	return s.saveLocked()
}

// Deactivate moves an active or suspended key to deactivated, starting the
// restore grace window.
func (s *Store) Deactivate(keyID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.doc.Keys[keyID]
	if !ok {
		return vaulterr.New(vaulterr.CodeKeyNotFound, "key not found: "+keyID)
	}
	if k.State != vaultmodel.StateActive && k.State != vaultmodel.StateSuspended {
		return vaulterr.New(vaulterr.CodeInvalidKeyState, "only active or suspended keys can be deactivated")
	}
	k.PriorState = k.State
	now := time.Now().UTC()
	k.DeactivatedAt = &now
	s.transitionLocked(k, vaultmodel.StateDeactivated, reason)
	return s.saveLocked()
}

// Restore reverts a deactivated key to its prior state; it rejects the
// restore once the key's grace window (ScheduledDeletion) has elapsed.
func (s *Store) Restore(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.doc.Keys[keyID]
	if !ok {
		return vaulterr.New(vaulterr.CodeKeyNotFound, "key not found: "+keyID)
	}
	if k.State != vaultmodel.StateDeactivated {
		return vaulterr.New(vaulterr.CodeInvalidKeyState, "only deactivated keys can be restored")
	}
	if time.Now().UTC().After(k.ScheduledDeletion()) {
		return vaulterr.New(vaulterr.CodeInvalidKeyState, "restore window has elapsed")
	}
	prior := k.PriorState
	if prior == "" {
		prior = vaultmodel.StateSuspended
	}
	k.DeactivatedAt = nil
	k.PriorState = ""
	s.transitionLocked(k, prior, "restored")
	return s.saveLocked()
}

// Destroy moves a key to the terminal destroyed state from pre_activation,
// suspended or deactivated. Callers are responsible for removing the
// corresponding wrapped-key file.
func (s *Store) Destroy(keyID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.doc.Keys[keyID]
	if !ok {
		return vaulterr.New(vaulterr.CodeKeyNotFound, "key not found: "+keyID)
	}
	switch k.State {
	case vaultmodel.StatePreActivation, vaultmodel.StateSuspended, vaultmodel.StateDeactivated:
	default:
		return vaulterr.New(vaulterr.CodeInvalidKeyState, "cannot destroy a "+string(k.State)+" key directly")
	}
	s.transitionLocked(k, vaultmodel.StateDestroyed, reason)
	return s.saveLocked()
}

// MarkCompromised moves a key to the terminal compromised state from any
// state except destroyed.
func (s *Store) MarkCompromised(keyID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.doc.Keys[keyID]
	if !ok {
		return vaulterr.New(vaulterr.CodeKeyNotFound, "key not found: "+keyID)
	}
	if k.State == vaultmodel.StateDestroyed {
		return vaulterr.New(vaulterr.CodeInvalidKeyState, "cannot mark a destroyed key compromised")
	}
	s.transitionLocked(k, vaultmodel.StateCompromised, reason)
	return s.saveLocked()
}

// Sweep destroys every deactivated key past its grace window, returning
// the ids destroyed. Callers must separately remove wrapped-key files.
func (s *Store) Sweep(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var destroyed []string
	for _, k := range s.doc.Keys {
		if k.State != vaultmodel.StateDeactivated {
			continue
		}
		if now.After(k.ScheduledDeletion()) {
			s.transitionLocked(k, vaultmodel.StateDestroyed, "grace window elapsed")
			destroyed = append(destroyed, k.ID)
		}
	}
	if len(destroyed) > 0 {
		_ = s.saveLocked()
	}
	sort.Strings(destroyed)
	return destroyed
}

// UpsertVault registers or updates a vault record (used by bootstrap's
// manifest-driven reconciliation).
func (s *Store) UpsertVault(v vaultmodel.VaultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Vaults[v.ID] = &v
	return s.saveLocked()
}

// Vault returns the vault record for id, if any.
func (s *Store) Vault(id string) (*vaultmodel.VaultRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc.Vaults[id]
	return v, ok
}

func (s *Store) transitionLocked(k *vaultmodel.KeyRecord, next vaultmodel.LifecycleState, reason string) {
	k.State = next
	k.History = append(k.History, vaultmodel.HistoryEntry{
		State:     next,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	})
}
