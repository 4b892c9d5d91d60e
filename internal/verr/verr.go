// Package verr holds the typed error taxonomy shared by the core packages,
// following the sentinel-error-plus-wrap style used throughout the project's
// config loader (ErrConfigNotFound, ErrConfigInvalidType, ErrConfigMissingKey).
package verr

import "errors"

// Configuration errors: fail fast, never auto-heal.
var (
	ErrConfigNotFound    = errors.New("config file not found")
	ErrConfigMissingKey  = errors.New("missing required config key")
	ErrConfigInvalidType = errors.New("invalid config value type")
)

// Validation errors: returned to the caller, never retried.
var (
	ErrBadTransition    = errors.New("phase transition not allowed")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMalformedEntry   = errors.New("malformed queue entry")
	ErrOperationExists  = errors.New("operation already exists")
)

// Resource errors: retried with back-off, or cleaned up and retried once.
var (
	ErrLockHeld  = errors.New("lock held by a live process")
	ErrLockTimed = errors.New("timed out acquiring lock")
)

// Merge-specific first-class states and terminal failure modes.
var (
	ErrVerificationFailed = errors.New("merge commit not found on target branch")
	ErrWorkspaceInvalid   = errors.New("workspace is not valid")
	ErrWorktreeInUse      = errors.New("target branch is checked out elsewhere")
)
