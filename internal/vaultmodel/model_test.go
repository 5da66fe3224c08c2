package vaultmodel

import (
	"testing"
	"time"
)

func TestScheduledDeletionZeroWhenNotDeactivated(t *testing.T) {
	k := &KeyRecord{State: StateActive}
	if got := k.ScheduledDeletion(); !got.IsZero() {
		t.Fatalf("ScheduledDeletion() = %v, want zero time", got)
	}
}

func TestScheduledDeletionAddsGraceWindow(t *testing.T) {
	deactivatedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k := &KeyRecord{State: StateDeactivated, DeactivatedAt: &deactivatedAt}

	want := deactivatedAt.Add(DeactivationGrace)
	if got := k.ScheduledDeletion(); !got.Equal(want) {
		t.Fatalf("ScheduledDeletion() = %v, want %v", got, want)
	}
}
