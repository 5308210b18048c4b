// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"fmt"
	"strings"
)

type (
	// DependencyError reports hard dependencies that no approved package
	// provides. It blocks approval of GAME releases outright; for other
	// kinds the dependency may still be published later.
	DependencyError struct {
		Names []string
	}

	// NetworkError marks a transient fetch failure. The release is left
	// claimable so the scheduling layer can retry with backoff; it is not
	// a content defect.
	NetworkError struct {
		Err error
	}

	// InternalError wraps an unexpected failure. Any partial database
	// work has been rolled back before it is reported.
	InternalError struct {
		Err error
	}

	// ErrAlreadyClaimed indicates the release is being processed by a
	// live run and this run must not proceed.
	ErrAlreadyClaimed struct {
		ReleaseID uint
	}
)

func (e *DependencyError) Error() string {
	return fmt.Sprintf("unresolved hard dependencies: %s (each must be published first)",
		strings.Join(e.Names, ", "))
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure while fetching source: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *ErrAlreadyClaimed) Error() string {
	return fmt.Sprintf("release %d is already being processed", e.ReleaseID)
}
