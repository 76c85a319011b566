package queue

import "errors"

var (
	// ErrInvalidSpec rejects malformed input before any state is created.
	ErrInvalidSpec = errors.New("invalid spec")

	// ErrInvalidTransition rejects a status change the state machine does not
	// permit; queue state is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrArtifactMissing is returned when validation is requested for an item
	// with no deposited artifact.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrArtifactSealed rejects depositing over an artifact whose item already
	// reached a terminal status.
	ErrArtifactSealed = errors.New("artifact sealed by terminal status")
)
