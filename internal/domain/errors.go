package domain

import "errors"

var (
	// ErrValidation marks bad input shape or range. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown query id with no fallback data.
	ErrNotFound = errors.New("not found")
	// ErrCollaborator marks an unavailable or slow embedding/generation model.
	ErrCollaborator = errors.New("collaborator unavailable")
	// ErrTraining marks a failed adaptor training run.
	ErrTraining = errors.New("training failed")
	// ErrIndexUnavailable marks a vector index that cannot be queried.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)
