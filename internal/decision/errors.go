package decision

import "errors"

var (
	// ErrPreconditionViolation is returned for malformed snapshots or
	// settings. No decision is produced alongside it.
	ErrPreconditionViolation = errors.New("precondition violation")
)
