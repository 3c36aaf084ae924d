package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func testSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "ctrl.db")
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestSQLiteStore_RoundTrip tests request persistence through the real
// backend: create, read back, transition, and nullable columns.
func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := testSQLiteStore(t)

	req := newRequest(StatusProposed)
	req.Actor = "agent-7"
	if err := store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}

	got, err := store.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequest returned error: %v", err)
	}
	if got.Server != req.Server || got.Actor != "agent-7" || got.ApprovedAt != "" {
		t.Errorf("round-trip = %+v", got)
	}

	if err := store.UpdateRequestStatus(ctx, req.ID, StatusPending); err != nil {
		t.Fatalf("UpdateRequestStatus returned error: %v", err)
	}

	approved, err := store.Approve(ctx, req.ID, "alice")
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if approved.Status != StatusApproved || approved.ApprovedBy != "alice" {
		t.Errorf("approved = %+v", approved)
	}

	// approval.granted landed in the same transaction.
	e, err := store.LatestEventOfType(ctx, req.ID, EventApprovalGranted)
	if err != nil || e == nil {
		t.Fatalf("LatestEventOfType = %v, %v", e, err)
	}

	if _, err := store.Approve(ctx, req.ID, "bob"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("re-approve err = %v, want ErrInvalidState", err)
	}
	if _, err := store.GetRequest(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRequest(unknown) err = %v, want ErrNotFound", err)
	}
}

// TestSQLiteStore_TerminalGuard tests that terminal states never move.
func TestSQLiteStore_TerminalGuard(t *testing.T) {
	ctx := context.Background()
	store := testSQLiteStore(t)

	req := newRequest(StatusProposed)
	if err := store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}
	if err := store.UpdateRequestStatus(ctx, req.ID, StatusDenied); err != nil {
		t.Fatalf("UpdateRequestStatus returned error: %v", err)
	}
	if err := store.UpdateRequestStatus(ctx, req.ID, StatusAllowed); !errors.Is(err, ErrInvalidState) {
		t.Errorf("transition out of denied: err = %v, want ErrInvalidState", err)
	}
}

// TestSQLiteStore_EventsAndDecisions tests journaling order and the
// latest-decision projection.
func TestSQLiteStore_EventsAndDecisions(t *testing.T) {
	ctx := context.Background()
	store := testSQLiteStore(t)

	req := newRequest(StatusProposed)
	if err := store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}

	types := []string{EventRequestCreated, EventRiskScored, EventDecisionMade, EventProxyForwarding}
	for _, typ := range types {
		if err := store.InsertEvent(ctx, NewEvent(req.ID, typ, map[string]any{"seq": typ})); err != nil {
			t.Fatalf("InsertEvent returned error: %v", err)
		}
	}
	events, err := store.ListEvents(ctx, req.ID)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != len(types) {
		t.Fatalf("events = %d, want %d", len(events), len(types))
	}
	for i, e := range events {
		if e.Type != types[i] {
			t.Errorf("events[%d] = %s, want %s", i, e.Type, types[i])
		}
	}

	d := &Decision{
		ID: "d1", RequestID: req.ID, DecidedAt: NowISO(),
		Decision: "allow", MatchedCondition: "server=* tool=* env=*", Reason: "",
	}
	if err := store.InsertDecision(ctx, d); err != nil {
		t.Fatalf("InsertDecision returned error: %v", err)
	}
	latest, err := store.LatestDecision(ctx, req.ID)
	if err != nil || latest == nil {
		t.Fatalf("LatestDecision = %v, %v", latest, err)
	}
	if latest.MatchedPolicyID != "" {
		t.Errorf("matched_policy_id = %q, want empty for NULL", latest.MatchedPolicyID)
	}

	if none, err := store.LatestDecision(ctx, "other"); err != nil || none != nil {
		t.Errorf("LatestDecision(other) = %v, %v; want nil, nil", none, err)
	}
}

// TestSQLiteStore_ListAndPrune tests listing filters and retention.
func TestSQLiteStore_ListAndPrune(t *testing.T) {
	ctx := context.Background()
	store := testSQLiteStore(t)

	executed := newRequest(StatusExecuted)
	pending := newRequest(StatusPending)
	for _, r := range []*Request{executed, pending} {
		if err := store.CreateRequest(ctx, r); err != nil {
			t.Fatalf("CreateRequest returned error: %v", err)
		}
	}

	rows, err := store.ListRequests(ctx, ListQuery{Status: StatusPending})
	if err != nil {
		t.Fatalf("ListRequests returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != pending.ID {
		t.Errorf("pending listing = %+v", rows)
	}

	old := NewEvent(executed.ID, EventProxyExecuted, nil)
	old.CreatedAt = "2000-01-01T00:00:00Z"
	oldPending := NewEvent(pending.ID, EventRequestPending, nil)
	oldPending.CreatedAt = "2000-01-01T00:00:00Z"
	for _, e := range []*Event{old, oldPending} {
		if err := store.InsertEvent(ctx, e); err != nil {
			t.Fatalf("InsertEvent returned error: %v", err)
		}
	}

	pruned, err := store.PruneEvents(ctx, "2020-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("PruneEvents returned error: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if e, _ := store.LatestEventOfType(ctx, pending.ID, EventRequestPending); e == nil {
		t.Error("non-terminal request's event was pruned")
	}
}
