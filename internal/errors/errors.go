// Package errors consolidates error definitions for pyrometer.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Mapping from errors to stable statistics kinds
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound       = errors.New("not found")
	ErrWindowNotFound = errors.New("window file not found")
	ErrTableNotFound  = errors.New("metric table not found")
	ErrNodeNotFound   = errors.New("node not found")

	// Storage access errors
	ErrAccess       = errors.New("storage access error")
	ErrCommitFailed = errors.New("commit failed")
	ErrWindowClosed = errors.New("window is closed")

	// Validation errors
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidName      = errors.New("invalid identifier")
	ErrInvalidLimit     = errors.New("limit must be non-negative")
	ErrInvalidDimension = errors.New("dimension count must be positive")
	ErrInvalidInterval  = errors.New("invalid interval")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Query errors
	ErrUnsupportedAggregation = errors.New("unsupported aggregation")

	// Graph errors
	ErrCycle             = errors.New("dependency cycle")
	ErrDuplicateNode     = errors.New("duplicate node")
	ErrAlreadyEvaluating = errors.New("node is already evaluating")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWindowNotFound) ||
		errors.Is(err, ErrTableNotFound) ||
		errors.Is(err, ErrNodeNotFound)
}

// IsAccess returns true if err is a storage access error.
func IsAccess(err error) bool {
	return errors.Is(err, ErrAccess) ||
		errors.Is(err, ErrCommitFailed) ||
		errors.Is(err, ErrWindowClosed)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrInvalidDimension) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsGraph returns true if err is a graph topology or evaluation error.
func IsGraph(err error) bool {
	return errors.Is(err, ErrCycle) ||
		errors.Is(err, ErrDuplicateNode) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrAlreadyEvaluating)
}

// ============================================================================
// Error to statistics kind mapping
// ============================================================================

// Stable kind strings reported to the statistics sink. These are part of the
// external monitoring contract and must not change between releases.
const (
	KindMetricsDBAccess = "metricsdb_access_error"
	KindMetricsDBCommit = "metricsdb_commit_error"
	KindQueryError      = "metricsdb_query_error"
	KindPruneError      = "metricsdb_prune_error"
	KindArchiveError    = "metricsdb_archive_error"
	KindGraphEvalError  = "graph_eval_error"
	KindInvalidInput    = "invalid_input_error"
	KindOther           = "other_error"
)

// StatKind maps an error to its stable statistics kind.
func StatKind(err error) string {
	switch {
	case err == nil:
		return KindOther
	case Is(err, ErrCommitFailed):
		return KindMetricsDBCommit
	case Is(err, ErrUnsupportedAggregation):
		return KindQueryError
	case IsNotFound(err), IsAccess(err):
		return KindMetricsDBAccess
	case IsValidation(err):
		return KindInvalidInput
	case IsGraph(err):
		return KindGraphEvalError
	default:
		return KindOther
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidArgument)
}
