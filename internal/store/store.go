// Package store owns the durable schema and every operation that reads or
// writes it: remember, recall, relate, correct, invalidate, entity search
// and merge, graph traversal, audit/provenance, and the consolidation jobs.
package store

import "errors"

var (
	// ErrValidation marks bad input rejected before any write.
	ErrValidation = errors.New("validation")

	// ErrNotFound marks a lookup that matched no live record.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity marks a corrupt store or a migration that cannot apply
	// cleanly. Fatal at startup: the store refuses to serve.
	ErrIntegrity = errors.New("integrity")
)
