package audit

import "context"

// Store is the persistence interface shared by the interceptor pipeline
// and the approvals surface. Two backends exist: SQLite for deployments
// and an in-memory implementation for tests.
type Store interface {
	// CreateRequest inserts a new request row.
	CreateRequest(ctx context.Context, req *Request) error

	// GetRequest returns a request by id, or ErrNotFound.
	GetRequest(ctx context.Context, id string) (*Request, error)

	// ListRequests returns requests newest first, optionally filtered by
	// status.
	ListRequests(ctx context.Context, q ListQuery) ([]*Request, error)

	// UpdateRequestStatus moves a request along the lifecycle graph.
	// Illegal transitions, including any transition out of a terminal
	// status, return ErrInvalidState.
	UpdateRequestStatus(ctx context.Context, id, status string) error

	// Approve transitions a pending request to approved, stamping
	// approved_at/approved_by and journaling approval.granted, all in one
	// transaction. Returns the request as persisted so the caller can
	// execute it. Not-pending requests return ErrInvalidState.
	Approve(ctx context.Context, id, by string) (*Request, error)

	// DenyPending transitions a pending request to denied and journals
	// approval.denied in one transaction.
	DenyPending(ctx context.Context, id, by string) error

	// InsertDecision appends a decision row.
	InsertDecision(ctx context.Context, d *Decision) error

	// LatestDecision returns the most recent decision for a request, or
	// nil when none exists.
	LatestDecision(ctx context.Context, requestID string) (*Decision, error)

	// InsertEvent appends a journal entry.
	InsertEvent(ctx context.Context, e *Event) error

	// ListEvents returns a request's journal in emission order.
	ListEvents(ctx context.Context, requestID string) ([]*Event, error)

	// LatestEventOfType returns the most recent event of the given type
	// for a request, or nil when none exists.
	LatestEventOfType(ctx context.Context, requestID, eventType string) (*Event, error)

	// PruneEvents deletes events older than the cutoff whose requests are
	// in a terminal status. Returns the number of rows deleted.
	PruneEvents(ctx context.Context, cutoff string) (int64, error)

	// Close releases backend resources.
	Close() error
}
