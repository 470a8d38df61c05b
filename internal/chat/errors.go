package chat

import "errors"

// Coordinator error taxonomy. Callers match with errors.Is; the HTTP layer
// maps each kind to a status code and the gateway to a system:error event.
var (
	// ErrNotFound means the conversation id is unknown.
	ErrNotFound = errors.New("conversation not found")
	// ErrAlreadyClosed means a mutation was attempted on a CLOSED conversation.
	ErrAlreadyClosed = errors.New("conversation already closed")
	// ErrConflictOwner means another agent holds the assignment.
	ErrConflictOwner = errors.New("conversation already assigned to another agent")
	// ErrNoLongerAvailable means the queue entry vanished under the claimant.
	ErrNoLongerAvailable = errors.New("conversation no longer available to accept")
	// ErrAgentCapacity means the per-agent concurrency bound is exhausted.
	ErrAgentCapacity = errors.New("agent reached maximum concurrent conversations")
	// ErrInvalidArgument covers empty or oversized content, unknown enum
	// values, and missing identity.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrContention means the conversation lock could not be acquired in time.
	ErrContention = errors.New("conversation lock contention")
	// ErrBackendUnavailable wraps ephemeral-store, audit-store, or bus failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrUnauthorized means identity resolution refused the caller.
	ErrUnauthorized = errors.New("unauthorized")
)
