package domain

import (
	"errors"
)

const (
	CompileStatusPending   = "PENDING"
	CompileStatusRunning   = "RUNNING"
	CompileStatusCompleted = "COMPLETED"
	CompileStatusFailed    = "FAILED"
	CompileStatusCanceled  = "CANCELED"
)

// DefaultMaxRetries is stored on new compilations and read by the worker.
const DefaultMaxRetries = 3

var (
	ErrPlateNotFound       = errors.New("plate not found")
	ErrCompilationNotFound = errors.New("compilation not found")
	ErrArtifactNotReady    = errors.New("compilation artifact not ready")
	ErrNotCancelable       = errors.New("compilation is not pending")
	ErrPlateInUse          = errors.New("plate is referenced by an unfinished compilation")
)

// IsTerminal reports whether a compilation status is final.
func IsTerminal(status string) bool {
	switch status {
	case CompileStatusCompleted, CompileStatusFailed, CompileStatusCanceled:
		return true
	}
	return false
}
