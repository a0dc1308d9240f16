package session

import "errors"

// Domain error kinds. Storage and not-found errors are surfaced to the
// caller; collaborator errors are absorbed by the resolution pipeline and
// only degrade the result.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStorage         = errors.New("storage error")
	ErrCollaborator    = errors.New("collaborator error")
)

// IsNotFound reports whether err is an unknown-session error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsStorage reports whether err is a durable-backend failure.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsCollaborator reports whether err came from the language model call.
func IsCollaborator(err error) bool {
	return errors.Is(err, ErrCollaborator)
}
