package vaultlog

import (
	"strings"
	"testing"
)

func TestRedactReplacesRegisteredSecret(t *testing.T) {
	RegisterSecret("correct horse battery staple")
	defer ForgetSecret("correct horse battery staple")

	got := Redact("decrypt failed for passphrase correct horse battery staple")
	if got == "decrypt failed for passphrase correct horse battery staple" {
		t.Fatal("expected the secret substring to be redacted")
	}
	if want := "[REDACTED]"; !strings.Contains(got, want) {
		t.Fatalf("Redact() = %q, want it to contain %q", got, want)
	}
}

func TestRedactLeavesNonSecretTextAlone(t *testing.T) {
	got := Redact("nothing sensitive here")
	if got != "nothing sensitive here" {
		t.Fatalf("Redact() = %q, want unchanged", got)
	}
}

func TestForgetSecretStopsRedaction(t *testing.T) {
	RegisterSecret("temp-secret-xyz")
	ForgetSecret("temp-secret-xyz")
	got := Redact("value is temp-secret-xyz")
	if got != "value is temp-secret-xyz" {
		t.Fatalf("Redact() = %q, want unchanged after ForgetSecret", got)
	}
}

func TestRegisterSecretIgnoresBlankValue(t *testing.T) {
	RegisterSecret("   ")
	got := Redact("some text with spaces   in it")
	if got != "some text with spaces   in it" {
		t.Fatalf("Redact() = %q, registering blank secret should not alter output", got)
	}
}

func TestForComponentScoping(t *testing.T) {
	l := For("registry")
	l.Info("hello")
}
