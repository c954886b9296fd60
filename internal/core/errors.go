package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshotUnavailable means the enumeration call failed. Fatal to a run.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
	// ErrEmptyGroup is returned when a selection policy is given a group with no members.
	ErrEmptyGroup = errors.New("empty group")
	// ErrInvariant reports an internal consistency breach, e.g. a survivor outside its group.
	ErrInvariant = errors.New("internal invariant violated")
	// ErrNotFound is returned by a Remover when the resource is already gone.
	ErrNotFound = errors.New("resource not found")
	// ErrPermissionDenied is returned by adapters when an operation is refused.
	ErrPermissionDenied = errors.New("permission denied")
)

// Phase names the stage of a run in which a per-item error occurred.
type Phase string

const (
	PhaseKeyExtraction Phase = "key_extraction"
	PhasePredicate     Phase = "predicate"
	PhaseRemoval       Phase = "removal"
)

// ItemError records a per-resource failure that was isolated from the rest of the batch.
type ItemError struct {
	ID     string `json:"id" yaml:"id"`
	Phase  Phase  `json:"phase" yaml:"phase"`
	Reason string `json:"reason" yaml:"reason"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Phase, e.ID, e.Reason)
}
