package odal

import (
	"errors"
	"fmt"
)

// The six normalized failure kinds. Every error surfaced by a Store or a
// Backend matches exactly one of these under errors.Is; no backend-native
// error ever propagates past the adapter boundary.
var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrInvalidPath            = errors.New("invalid path")
	ErrCapabilityNotSupported = errors.New("capability not supported")
	ErrBackendUnavailable     = errors.New("backend unavailable")
)

// Error is the structured carrier behind every normalized failure. Kind is
// one of the package sentinels; Backend and Path identify where the failure
// happened, and Capability is set only for capability errors. Recover it
// with errors.As when the context matters; match the kind with errors.Is.
type Error struct {
	Kind       error
	Backend    string
	Path       string
	Capability Capability
	Message    string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" | path=%q", e.Path)
	}
	if e.Backend != "" {
		msg += fmt.Sprintf(" | backend=%q", e.Backend)
	}
	if e.Capability != "" {
		msg += fmt.Sprintf(" | capability=%q", e.Capability)
	}
	return msg
}

// Unwrap exposes only the normalized kind, never a native cause.
func (e *Error) Unwrap() error { return e.Kind }

// NewNotFound reports that a file or folder does not exist.
func NewNotFound(backend, path, msg string) *Error {
	return &Error{Kind: ErrNotFound, Backend: backend, Path: path, Message: msg}
}

// NewAlreadyExists reports that a write target exists and overwrite was not
// requested.
func NewAlreadyExists(backend, path string) *Error {
	return &Error{Kind: ErrAlreadyExists, Backend: backend, Path: path, Message: "already exists"}
}

// NewPermissionDenied reports an access failure at the storage system.
func NewPermissionDenied(backend, path string) *Error {
	return &Error{Kind: ErrPermissionDenied, Backend: backend, Path: path, Message: "permission denied"}
}

// NewInvalidPath reports a malformed, unsafe, or out-of-scope path.
func NewInvalidPath(path, msg string) *Error {
	return &Error{Kind: ErrInvalidPath, Path: path, Message: msg}
}

// NewCapabilityNotSupported reports a gated operation on a backend that does
// not declare the capability.
func NewCapabilityNotSupported(backend string, c Capability) *Error {
	return &Error{
		Kind:       ErrCapabilityNotSupported,
		Backend:    backend,
		Capability: c,
		Message:    fmt.Sprintf("capability %q is not supported", c),
	}
}

// NewUnavailable reports that the backend cannot be reached or initialized.
// The native cause is flattened into the message; it is not wrapped.
func NewUnavailable(backend string, cause error) *Error {
	msg := "backend unavailable"
	if cause != nil {
		msg = fmt.Sprintf("backend unavailable: %v", cause)
	}
	return &Error{Kind: ErrBackendUnavailable, Backend: backend, Message: msg}
}
