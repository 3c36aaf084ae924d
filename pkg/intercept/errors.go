package intercept

import "fmt"

// DeniedError is raised to the caller when policy denies a tool call.
// The request id lets an operator pull full context via /status/{id}.
type DeniedError struct {
	RequestID string
	Server    string
	Tool      string
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("tool call denied: %s.%s — %s (request %s)", e.Server, e.Tool, e.Reason, e.RequestID)
}

// PendingError is raised to the caller when a tool call is parked for
// human approval. The call has not run; it may later be approved and
// executed out of band.
type PendingError struct {
	RequestID string
	Server    string
	Tool      string
	Reason    string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("tool call requires approval: %s.%s — %s (request %s)", e.Server, e.Tool, e.Reason, e.RequestID)
}
