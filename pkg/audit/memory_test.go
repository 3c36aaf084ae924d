package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func newRequest(status string) *Request {
	return &Request{
		ID:            uuid.NewString(),
		CreatedAt:     NowISO(),
		Server:        "coingecko",
		Tool:          "get_markets",
		ArgumentsJSON: "{}",
		ArgumentsHash: HashString("{}"),
		Env:           "dev",
		Status:        status,
		RiskMode:      "safe",
	}
}

// TestMemoryStore_RequestLifecycle tests the status machine guards.
func TestMemoryStore_RequestLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	req := newRequest(StatusProposed)
	if err := store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}

	steps := []string{StatusAllowed, StatusExecuted}
	for _, status := range steps {
		if err := store.UpdateRequestStatus(ctx, req.ID, status); err != nil {
			t.Fatalf("UpdateRequestStatus(%s) returned error: %v", status, err)
		}
	}

	// Terminal: no further transitions.
	err := store.UpdateRequestStatus(ctx, req.ID, StatusFailed)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("transition out of executed: err = %v, want ErrInvalidState", err)
	}

	got, err := store.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequest returned error: %v", err)
	}
	if got.Status != StatusExecuted {
		t.Errorf("status = %q, want executed", got.Status)
	}
}

// TestMemoryStore_IllegalTransitions tests the full transition table.
func TestMemoryStore_IllegalTransitions(t *testing.T) {
	tests := []struct {
		from string
		to   string
		ok   bool
	}{
		{StatusProposed, StatusAllowed, true},
		{StatusProposed, StatusDenied, true},
		{StatusProposed, StatusPending, true},
		{StatusProposed, StatusExecuted, false},
		{StatusAllowed, StatusExecuted, true},
		{StatusAllowed, StatusFailed, true},
		{StatusAllowed, StatusPending, false},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusDenied, true},
		{StatusPending, StatusExecuted, false},
		{StatusApproved, StatusExecuted, true},
		{StatusApproved, StatusFailed, true},
		{StatusDenied, StatusAllowed, false},
		{StatusExecuted, StatusFailed, false},
		{StatusFailed, StatusExecuted, false},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.from+"_to_"+tt.to, func(t *testing.T) {
			store := NewMemoryStore()
			req := newRequest(tt.from)
			if err := store.CreateRequest(ctx, req); err != nil {
				t.Fatalf("CreateRequest returned error: %v", err)
			}
			err := store.UpdateRequestStatus(ctx, req.ID, tt.to)
			if tt.ok && err != nil {
				t.Errorf("transition %s → %s: unexpected error %v", tt.from, tt.to, err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidState) {
				t.Errorf("transition %s → %s: err = %v, want ErrInvalidState", tt.from, tt.to, err)
			}
		})
	}
}

// TestMemoryStore_ApproveDeny tests the transactional approve/deny
// operations, including idempotence failures.
func TestMemoryStore_ApproveDeny(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	req := newRequest(StatusPending)
	if err := store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}

	approved, err := store.Approve(ctx, req.ID, "alice")
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if approved.Status != StatusApproved || approved.ApprovedBy != "alice" || approved.ApprovedAt == "" {
		t.Errorf("approved request = %+v", approved)
	}

	// The approval event was journaled in the same operation.
	e, err := store.LatestEventOfType(ctx, req.ID, EventApprovalGranted)
	if err != nil || e == nil {
		t.Fatalf("LatestEventOfType = %v, %v; want approval.granted", e, err)
	}

	// Re-approving an approved request fails and does not mutate state.
	if _, err := store.Approve(ctx, req.ID, "bob"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Approve err = %v, want ErrInvalidState", err)
	}
	got, _ := store.GetRequest(ctx, req.ID)
	if got.ApprovedBy != "alice" {
		t.Errorf("approved_by = %q, want alice after failed re-approve", got.ApprovedBy)
	}

	// Deny only works from pending.
	if err := store.DenyPending(ctx, req.ID, "carol"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("DenyPending on approved: err = %v, want ErrInvalidState", err)
	}

	denyReq := newRequest(StatusPending)
	if err := store.CreateRequest(ctx, denyReq); err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}
	if err := store.DenyPending(ctx, denyReq.ID, "carol"); err != nil {
		t.Fatalf("DenyPending returned error: %v", err)
	}
	e, _ = store.LatestEventOfType(ctx, denyReq.ID, EventApprovalDenied)
	if e == nil {
		t.Error("expected approval.denied event")
	}

	// Unknown ids surface ErrNotFound.
	if _, err := store.Approve(ctx, "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve(unknown) err = %v, want ErrNotFound", err)
	}
}

// TestMemoryStore_DecisionsAndEvents tests append-only journaling.
func TestMemoryStore_DecisionsAndEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	req := newRequest(StatusProposed)
	if err := store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}

	// Decisions require an existing request.
	err := store.InsertDecision(ctx, &Decision{ID: uuid.NewString(), RequestID: "missing", DecidedAt: NowISO()})
	if err == nil {
		t.Error("InsertDecision with unknown request succeeded, want error")
	}

	first := &Decision{ID: uuid.NewString(), RequestID: req.ID, DecidedAt: NowISO(), Decision: "allow", MatchedCondition: "server=* tool=* env=*"}
	second := &Decision{ID: uuid.NewString(), RequestID: req.ID, DecidedAt: NowISO(), Decision: "pending", MatchedCondition: "server=* tool=* env=*"}
	for _, d := range []*Decision{first, second} {
		if err := store.InsertDecision(ctx, d); err != nil {
			t.Fatalf("InsertDecision returned error: %v", err)
		}
	}
	latest, err := store.LatestDecision(ctx, req.ID)
	if err != nil {
		t.Fatalf("LatestDecision returned error: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest decision = %s, want the second insert", latest.ID)
	}

	// Events come back in emission order.
	for _, typ := range []string{EventRequestCreated, EventRiskScored, EventDecisionMade} {
		if err := store.InsertEvent(ctx, NewEvent(req.ID, typ, map[string]any{"k": "v"})); err != nil {
			t.Fatalf("InsertEvent returned error: %v", err)
		}
	}
	events, err := store.ListEvents(ctx, req.ID)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	want := []string{EventRequestCreated, EventRiskScored, EventDecisionMade}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.Type != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, e.Type, want[i])
		}
	}
}

// TestMemoryStore_ListRequests tests filtering and limits.
func TestMemoryStore_ListRequests(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		status := StatusPending
		if i%2 == 0 {
			status = StatusProposed
		}
		if err := store.CreateRequest(ctx, newRequest(status)); err != nil {
			t.Fatalf("CreateRequest returned error: %v", err)
		}
	}

	pending, err := store.ListRequests(ctx, ListQuery{Status: StatusPending})
	if err != nil {
		t.Fatalf("ListRequests returned error: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}

	limited, err := store.ListRequests(ctx, ListQuery{Limit: 3})
	if err != nil {
		t.Fatalf("ListRequests returned error: %v", err)
	}
	if len(limited) != 3 {
		t.Errorf("limited = %d, want 3", len(limited))
	}
}

// TestMemoryStore_PruneEvents tests retention semantics: only old
// events of terminal requests are deleted.
func TestMemoryStore_PruneEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	done := newRequest(StatusExecuted)
	live := newRequest(StatusPending)
	for _, r := range []*Request{done, live} {
		if err := store.CreateRequest(ctx, r); err != nil {
			t.Fatalf("CreateRequest returned error: %v", err)
		}
	}

	old := NewEvent(done.ID, EventProxyExecuted, nil)
	old.CreatedAt = "2000-01-01T00:00:00Z"
	oldLive := NewEvent(live.ID, EventRequestPending, nil)
	oldLive.CreatedAt = "2000-01-01T00:00:00Z"
	recent := NewEvent(done.ID, EventToolResult, nil)
	for _, e := range []*Event{old, oldLive, recent} {
		if err := store.InsertEvent(ctx, e); err != nil {
			t.Fatalf("InsertEvent returned error: %v", err)
		}
	}

	pruned, err := store.PruneEvents(ctx, "2020-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("PruneEvents returned error: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1 (only the old terminal-request event)", pruned)
	}
	if e, _ := store.LatestEventOfType(ctx, live.ID, EventRequestPending); e == nil {
		t.Error("event of non-terminal request was pruned")
	}
	if e, _ := store.LatestEventOfType(ctx, done.ID, EventToolResult); e == nil {
		t.Error("recent event was pruned")
	}
}
