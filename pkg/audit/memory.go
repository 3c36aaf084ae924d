package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-process maps. It exists for
// tests and for running the pipeline without a database file; it honors
// the same lifecycle guarantees as the SQLite backend.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]*Request
	order     []string // request ids in insertion order
	decisions []*Decision
	events    []*Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

// CreateRequest inserts a new request row.
func (s *MemoryStore) CreateRequest(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return NewStorageError("memory", "create_request", fmt.Errorf("duplicate id %s", req.ID))
	}
	cp := *req
	s.requests[req.ID] = &cp
	s.order = append(s.order, req.ID)
	return nil
}

// GetRequest returns a request by id.
func (s *MemoryStore) GetRequest(_ context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// ListRequests returns requests newest first.
func (s *MemoryStore) ListRequests(_ context.Context, q ListQuery) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk newest-inserted first so equal second-resolution timestamps
	// keep the same newest-first order the SQLite backend produces.
	out := []*Request{}
	for i := len(s.order) - 1; i >= 0; i-- {
		req := s.requests[s.order[i]]
		if q.Status != "" && req.Status != q.Status {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })

	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateRequestStatus moves a request along the lifecycle graph.
func (s *MemoryStore) UpdateRequestStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if !legalTransition(req.Status, status) {
		return fmt.Errorf("%w: cannot move %s from %q to %q", ErrInvalidState, id, req.Status, status)
	}
	req.Status = status
	return nil
}

// Approve transitions pending → approved, stamps the approval fields,
// and journals approval.granted atomically under the store lock.
func (s *MemoryStore) Approve(_ context.Context, id, by string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("%w: request %s has status %q, want pending", ErrInvalidState, id, req.Status)
	}

	req.Status = StatusApproved
	req.ApprovedAt = NowISO()
	req.ApprovedBy = by
	s.events = append(s.events, NewEvent(id, EventApprovalGranted, map[string]any{"by": by}))

	cp := *req
	return &cp, nil
}

// DenyPending transitions pending → denied and journals approval.denied.
func (s *MemoryStore) DenyPending(_ context.Context, id, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: request %s has status %q, want pending", ErrInvalidState, id, req.Status)
	}
	req.Status = StatusDenied
	s.events = append(s.events, NewEvent(id, EventApprovalDenied, map[string]any{"by": by}))
	return nil
}

// InsertDecision appends a decision row.
func (s *MemoryStore) InsertDecision(_ context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[d.RequestID]; !ok {
		return NewStorageError("memory", "insert_decision", fmt.Errorf("no request %s", d.RequestID))
	}
	cp := *d
	s.decisions = append(s.decisions, &cp)
	return nil
}

// LatestDecision returns the most recent decision for a request.
func (s *MemoryStore) LatestDecision(_ context.Context, requestID string) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.decisions) - 1; i >= 0; i-- {
		if s.decisions[i].RequestID == requestID {
			cp := *s.decisions[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// InsertEvent appends a journal entry.
func (s *MemoryStore) InsertEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

// ListEvents returns a request's journal in emission order.
func (s *MemoryStore) ListEvents(_ context.Context, requestID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Event{}
	for _, e := range s.events {
		if e.RequestID == requestID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// LatestEventOfType returns the most recent matching event.
func (s *MemoryStore) LatestEventOfType(_ context.Context, requestID, eventType string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].RequestID == requestID && s.events[i].Type == eventType {
			cp := *s.events[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// PruneEvents deletes journal entries older than the cutoff for
// requests in a terminal status.
func (s *MemoryStore) PruneEvents(_ context.Context, cutoff string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var pruned int64
	for _, e := range s.events {
		req := s.requests[e.RequestID]
		if e.CreatedAt < cutoff && req != nil && terminal(req.Status) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return pruned, nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }
