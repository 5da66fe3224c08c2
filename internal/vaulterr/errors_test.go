package vaulterr

import (
	"errors"
	"testing"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeIoError, "write registry", cause)
	if got, want := err.Error(), "write registry: disk full"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(CodeInvalidInput, "label too long")
	if got, want := err.Error(), "label too long"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeIoError, "x", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestIsMatchesOnCodeAlone(t *testing.T) {
	err := Wrap(CodeKeyNotFound, "key abc123 not found", errors.New("inner"))
	if !errors.Is(err, New(CodeKeyNotFound, "")) {
		t.Fatal("expected errors.Is to match same-code sentinel regardless of message")
	}
	if errors.Is(err, New(CodeFileNotFound, "")) {
		t.Fatal("expected errors.Is to reject a different code")
	}
}

func TestCodeOfReturnsEmptyForNonTypedError(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain error) = %q, want empty", got)
	}
}

func TestCodeOfReturnsCode(t *testing.T) {
	if got := CodeOf(New(CodeDeviceMissing, "")); got != CodeDeviceMissing {
		t.Fatalf("CodeOf = %q, want %q", got, CodeDeviceMissing)
	}
}

func TestToEnvelopeTypedError(t *testing.T) {
	err := Recoverable(CodeLockContention, "registry locked", nil)
	env := ToEnvelope(err)
	if env.Code != CodeLockContention {
		t.Fatalf("Code = %q, want %q", env.Code, CodeLockContention)
	}
	if !env.IsRecoverable {
		t.Fatal("expected IsRecoverable true")
	}
	if env.RecoveryGuidance == "" {
		t.Fatal("expected a recovery hint for LockContention")
	}
}

func TestToEnvelopeUntypedErrorFallsBackToIoError(t *testing.T) {
	env := ToEnvelope(errors.New("some unexpected failure"))
	if env.Code != CodeIoError {
		t.Fatalf("Code = %q, want %q", env.Code, CodeIoError)
	}
	if env.RecoveryGuidance != "" {
		t.Fatal("expected no recovery guidance for an untyped error")
	}
}

func TestToEnvelopeNilError(t *testing.T) {
	if env := ToEnvelope(nil); env != (Envelope{}) {
		t.Fatalf("ToEnvelope(nil) = %+v, want zero value", env)
	}
}

func TestRecoveryHintUnknownCodeIsEmpty(t *testing.T) {
	if got := RecoveryHint(Code("NotARealCode")); got != "" {
		t.Fatalf("RecoveryHint(unknown) = %q, want empty", got)
	}
}
