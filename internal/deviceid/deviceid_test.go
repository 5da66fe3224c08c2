package deviceid

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsNilNil(t *testing.T) {
	id, err := Load(filepath.Join(t.TempDir(), "device.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id != nil {
		t.Fatalf("Load = %+v, want nil", id)
	}
}

func TestEnsureLoadedGeneratesOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	id, created, err := EnsureLoaded(path)
	if err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first run")
	}
	if id.MachineID == "" {
		t.Fatal("expected a generated MachineID")
	}
}

func TestEnsureLoadedIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	first, _, err := EnsureLoaded(path)
	if err != nil {
		t.Fatalf("first EnsureLoaded: %v", err)
	}

	second, created, err := EnsureLoaded(path)
	if err != nil {
		t.Fatalf("second EnsureLoaded: %v", err)
	}
	if created {
		t.Fatal("expected created=false on second run")
	}
	if second.MachineID != first.MachineID {
		t.Fatalf("MachineID changed across runs: %q != %q", second.MachineID, first.MachineID)
	}
}
