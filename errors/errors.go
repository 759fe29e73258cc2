// Package errors provides error handling for hammer.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Details and hints attached to errors for the final report
//
// On top of that it defines the failure taxonomy of a fuzzing run. Every
// kind is fatal: a run either produces a fully trustworthy tile database
// or fails before writing one.
//
// Usage:
//
//	// Report ambiguous evidence
//	return errors.NewDiffConflict("enum %s: labels %s and %s alias", key, a, b)
//
//	// Attach diagnostic context
//	return errors.WithDetailf(err, "bits: %v", bits)
//
//	// Check the kind
//	if errors.IsDupFactorMismatch(err) {
//	    // rerun with a different seed, fix mutexes, ...
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
	Mark           = crdb.Mark
)

// Assertions
var (
	AssertionFailedf     = crdb.AssertionFailedf
	WithAssertionFailure = crdb.WithAssertionFailure
	HasAssertionFailure  = crdb.HasAssertionFailure
)

// Failure kinds of a fuzzing run.
// Use these with errors.Is() or the IsX helpers below.
var (
	// ErrToolchainFailure indicates the external build process exited non-zero
	ErrToolchainFailure = New("toolchain failure")

	// ErrDiffConflict indicates non-disjoint or ambiguous evidence
	ErrDiffConflict = New("diff conflict")

	// ErrUnexplainedBits indicates flipped bits left over after classification
	ErrUnexplainedBits = New("unexplained bits")

	// ErrDuplicateKeyMismatch indicates a tile database key re-inserted with a different value
	ErrDuplicateKeyMismatch = New("duplicate key mismatch")

	// ErrDupFactorMismatch indicates independent trials of one feature disagree
	ErrDupFactorMismatch = New("dup factor mismatch")

	// ErrNotFound indicates the requested feature, item or file does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input (plan, recipe, config)
	ErrInvalidRequest = New("invalid request")
)

// NewToolchainFailure creates a toolchain failure with a formatted message
func NewToolchainFailure(format string, args ...interface{}) error {
	return Wrapf(ErrToolchainFailure, format, args...)
}

// NewDiffConflict creates a diff conflict with a formatted message
func NewDiffConflict(format string, args ...interface{}) error {
	return Wrapf(ErrDiffConflict, format, args...)
}

// NewUnexplainedBits creates an unexplained-bits error with a formatted message
func NewUnexplainedBits(format string, args ...interface{}) error {
	return Wrapf(ErrUnexplainedBits, format, args...)
}

// NewDuplicateKeyMismatch creates a duplicate-key mismatch with a formatted message
func NewDuplicateKeyMismatch(format string, args ...interface{}) error {
	return Wrapf(ErrDuplicateKeyMismatch, format, args...)
}

// NewDupFactorMismatch creates a dup-factor mismatch with a formatted message
func NewDupFactorMismatch(format string, args ...interface{}) error {
	return Wrapf(ErrDupFactorMismatch, format, args...)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// IsToolchainFailure checks if an error is or wraps ErrToolchainFailure
func IsToolchainFailure(err error) bool {
	return err != nil && Is(err, ErrToolchainFailure)
}

// IsDiffConflict checks if an error is or wraps ErrDiffConflict
func IsDiffConflict(err error) bool {
	return err != nil && Is(err, ErrDiffConflict)
}

// IsUnexplainedBits checks if an error is or wraps ErrUnexplainedBits
func IsUnexplainedBits(err error) bool {
	return err != nil && Is(err, ErrUnexplainedBits)
}

// IsDuplicateKeyMismatch checks if an error is or wraps ErrDuplicateKeyMismatch
func IsDuplicateKeyMismatch(err error) bool {
	return err != nil && Is(err, ErrDuplicateKeyMismatch)
}

// IsDupFactorMismatch checks if an error is or wraps ErrDupFactorMismatch
func IsDupFactorMismatch(err error) bool {
	return err != nil && Is(err, ErrDupFactorMismatch)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// Kind names the failure kind of err for reports and exit summaries.
// Errors outside the taxonomy report "internal" (assertion failures) or "error".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsToolchainFailure(err):
		return "ToolchainFailure"
	case IsDiffConflict(err):
		return "DiffConflict"
	case IsUnexplainedBits(err):
		return "UnexplainedBits"
	case IsDuplicateKeyMismatch(err):
		return "DuplicateKeyMismatch"
	case IsDupFactorMismatch(err):
		return "DupFactorMismatch"
	case HasAssertionFailure(err):
		return "internal"
	default:
		return "error"
	}
}
