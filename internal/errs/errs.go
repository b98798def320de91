// Package errs formalizes the error taxonomy used across the core: a small
// set of sentinel errors by kind, not by implementation, so callers can
// branch with errors.Is instead of parsing messages.
package errs

import "errors"

var (
	// NotFound: sensor or attribute does not exist. Read paths return an
	// empty result instead of this error; it is exposed for callers that
	// need to distinguish "empty" from "absent".
	ErrNotFound = errors.New("sensocto: not found")

	// Unavailable: the target worker is absent or did not respond within
	// the caller's timeout. Fan-out callers substitute a placeholder and
	// never propagate this past the supervisor boundary.
	ErrUnavailable = errors.New("sensocto: unavailable")

	// Rejected: the requested state transition violates an invariant.
	// Surfaced to direct callers of add_/remove_ style operations only.
	ErrRejected = errors.New("sensocto: rejected")

	// Transient: a downstream collaborator (biomimetic factor provider,
	// replicator sink) failed. Absorbed internally; callers never see it.
	ErrTransient = errors.New("sensocto: transient")
)
