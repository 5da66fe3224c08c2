// Package vaulterr implements the stable error taxonomy callers convert into
// the external error envelope. Codes are a closed set; never invent new ones
// at a call site without adding them here first.
package vaulterr

import "errors"

// Code is a stable, user-surfaceable error identifier.
type Code string

const (
	// Input/validation
	CodeInvalidInput  Code = "InvalidInput"
	CodeFileNotFound  Code = "FileNotFound"
	CodePathTraversal Code = "PathTraversal"
	CodeSizeExceeded  Code = "SizeExceeded"
	CodeTooManyFiles  Code = "TooManyFiles"
	CodeReservedName  Code = "ReservedName"
	CodeNameTooLong   Code = "NameTooLong"

	// Crypto
	CodeNoRecipients        Code = "NoRecipients"
	CodeNoMatchingRecipient Code = "NoMatchingRecipient"
	CodeAuthenticationFailed Code = "AuthenticationFailed"
	CodeHeaderMalformed     Code = "HeaderMalformed"
	CodeTruncated           Code = "Truncated"
	CodeIntegrityMismatch   Code = "IntegrityMismatch"

	// Hardware/bridge
	CodeDeviceMissing Code = "DeviceMissing"
	CodePinRequired   Code = "PinRequired"
	CodePinRejected   Code = "PinRejected"
	CodeTouchTimeout  Code = "TouchTimeout"
	CodeProtocolError Code = "ProtocolError"
	CodeCancelled     Code = "Cancelled"

	// Lifecycle/registry
	CodeKeyNotFound            Code = "KeyNotFound"
	CodeKeyAlreadyExists        Code = "KeyAlreadyExists"
	CodeInvalidKeyState         Code = "InvalidKeyState"
	CodeAttachmentLimitExceeded Code = "AttachmentLimitExceeded"

	// Persistence
	CodeIoError           Code = "IoError"
	CodeSerializationError Code = "SerializationError"
	CodeAtomicRenameFailed Code = "AtomicRenameFailed"
	CodeLockContention     Code = "LockContention"

	// Conflict/version
	CodeManifestOlderKept           Code = "ManifestOlderKept"
	CodeManifestBackedUpAndReplaced Code = "ManifestBackedUpAndReplaced"
)

// Error is the single typed error used across every layer of the engine.
type Error struct {
	Code        Code
	Message     string
	Cause       error
	Recoverable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is(err, New(CodeX, "")) to match on code alone.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Code == e.Code
	}
	return false
}

// New builds a non-recoverable error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Recoverable marks an error as recoverable (e.g. LockContention retries).
func Recoverable(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Recoverable: true}
}

// CodeOf extracts the Code from err, or "" if err is not a *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// recoveryHints maps a code to caller-facing recovery guidance.
var recoveryHints = map[Code]string{
	CodePinRejected:         "Re-enter PIN; 3 attempts before lockout",
	CodeTouchTimeout:        "Touch the device within the timeout window and retry",
	CodeDeviceMissing:       "Insert the hardware token and retry",
	CodeNoMatchingRecipient: "Use a different key or passphrase authorized for this vault",
	CodeLockContention:      "Retry the operation; another process is using this resource",
	CodeManifestOlderKept:   "The bundle's manifest is older than the local copy; files were still extracted",
}

// RecoveryHint returns the recovery guidance for a code, or "" if none is defined.
func RecoveryHint(code Code) string {
	return recoveryHints[code]
}

// Envelope is the external error shape consumed by GUI/CLI collaborators.
type Envelope struct {
	Code             Code   `json:"code"`
	Message          string `json:"message"`
	RecoveryGuidance string `json:"recovery_guidance,omitempty"`
	IsRecoverable    bool   `json:"is_recoverable"`
}

// ToEnvelope converts any error into the external envelope. Non-*Error values
// are reported as IoError, since every internal layer is expected to return
// a typed *Error — an untyped error reaching this boundary is itself a bug,
// but we still must not panic on it.
func ToEnvelope(err error) Envelope {
	if err == nil {
		return Envelope{}
	}
	var e *Error
	if errors.As(err, &e) {
		return Envelope{
			Code:             e.Code,
			Message:          e.Error(),
			RecoveryGuidance: RecoveryHint(e.Code),
			IsRecoverable:    e.Recoverable,
		}
	}
	return Envelope{
		Code:    CodeIoError,
		Message: err.Error(),
	}
}
