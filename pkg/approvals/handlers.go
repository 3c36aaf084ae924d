// Package approvals is the operator-facing HTTP surface: list pending
// requests, inspect a request, and approve or deny. Approval commits
// the state change and the audit row first, then executes the tool
// outside the transaction, so the journal stays authoritative even if
// the execution crashes mid-flight.
package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MehulG/agent-ctrl/pkg/audit"
	"github.com/MehulG/agent-ctrl/pkg/telemetry/metrics"
	"github.com/MehulG/agent-ctrl/pkg/tools"
)

// Listing bounds for /pending and /requests.
const (
	defaultListLimit = 200
	maxListLimit     = 500
)

// Handlers serves the approval endpoints.
type Handlers struct {
	store   audit.Store
	invoker tools.Invoker
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewHandlers creates the endpoint set.
func NewHandlers(store audit.Store, invoker tools.Invoker, logger *slog.Logger, collector *metrics.Collector) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:   store,
		invoker: invoker,
		logger:  logger.With("component", "approvals"),
		metrics: collector,
	}
}

// Register mounts the endpoints on the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /pending", h.handlePending)
	mux.HandleFunc("GET /requests", h.handleRequests)
	mux.HandleFunc("GET /status/{id}", h.handleStatus)
	mux.HandleFunc("POST /approve/{id}", h.handleApprove)
	mux.HandleFunc("POST /deny/{id}", h.handleDeny)
}

// requestSummary is the listing projection of a request row.
type requestSummary struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Server    string `json:"server"`
	Tool      string `json:"tool"`
	Env       string `json:"env"`
	Status    string `json:"status"`
	RiskScore int    `json:"risk_score"`
	RiskMode  string `json:"risk_mode"`
}

func summarize(req *audit.Request) requestSummary {
	return requestSummary{
		ID:        req.ID,
		CreatedAt: req.CreatedAt,
		Server:    req.Server,
		Tool:      req.Tool,
		Env:       req.Env,
		Status:    req.Status,
		RiskScore: req.RiskScore,
		RiskMode:  req.RiskMode,
	}
}

// approveBody is the optional JSON body of approve/deny.
type approveBody struct {
	ApprovedBy string `json:"approved_by"`
}

func decodeApprover(r *http.Request) string {
	var body approveBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.ApprovedBy == "" {
		return "human"
	}
	return body.ApprovedBy
}

// handlePending lists pending requests, newest first.
func (h *Handlers) handlePending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.store.ListRequests(r.Context(), audit.ListQuery{
		Status: audit.StatusPending,
		Limit:  defaultListLimit,
	})
	if err != nil {
		h.serverError(w, r, "list pending", err)
		return
	}
	h.writeSummaries(w, reqs)
}

// handleRequests lists requests with an optional status filter and a
// limit clamped to [1, 500].
func (h *Handlers) handleRequests(w http.ResponseWriter, r *http.Request) {
	q := audit.ListQuery{
		Status: r.URL.Query().Get("status"),
		Limit:  defaultListLimit,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = clampLimit(limit)
	}

	reqs, err := h.store.ListRequests(r.Context(), q)
	if err != nil {
		h.serverError(w, r, "list requests", err)
		return
	}
	h.writeSummaries(w, reqs)
}

// handleStatus returns the full request row, its latest decision, and a
// result preview when one has been journaled. The row, the decision and
// the preview come from separate store reads, not one transaction, so a
// request that changes state between the reads is returned mid-change.
func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	req, err := h.store.GetRequest(r.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		h.serverError(w, r, "get request", err)
		return
	}

	decision, err := h.store.LatestDecision(r.Context(), id)
	if err != nil {
		h.serverError(w, r, "latest decision", err)
		return
	}

	var arguments any = map[string]any{}
	if req.ArgumentsJSON != "" {
		if err := json.Unmarshal([]byte(req.ArgumentsJSON), &arguments); err != nil {
			arguments = map[string]any{}
		}
	}

	request := map[string]any{
		"id":             req.ID,
		"created_at":     req.CreatedAt,
		"server":         req.Server,
		"tool":           req.Tool,
		"env":            req.Env,
		"status":         req.Status,
		"risk_score":     req.RiskScore,
		"risk_mode":      req.RiskMode,
		"arguments":      arguments,
		"arguments_hash": req.ArgumentsHash,
	}
	if req.Actor != "" {
		request["actor"] = req.Actor
	}
	if req.ApprovedAt != "" {
		request["approved_at"] = req.ApprovedAt
		request["approved_by"] = req.ApprovedBy
	}

	if event, err := h.store.LatestEventOfType(r.Context(), id, audit.EventToolResult); err == nil && event != nil {
		var data map[string]any
		if json.Unmarshal([]byte(event.DataJSON), &data) == nil {
			if preview, ok := data["result_preview"]; ok {
				request["result_preview"] = preview
			}
		}
	}

	response := map[string]any{"request": request, "decision": nil}
	if decision != nil {
		d := map[string]any{
			"decided_at": decision.DecidedAt,
			"decision":   decision.Decision,
			"reason":     decision.Reason,
			"matched":    decision.MatchedCondition,
		}
		if decision.MatchedPolicyID != "" {
			d["policy_id"] = decision.MatchedPolicyID
		} else {
			d["policy_id"] = nil
		}
		response["decision"] = d
	}
	writeJSON(w, http.StatusOK, response)
}

// handleDeny transitions a pending request to denied. The remote tool
// is never touched.
func (h *Handlers) handleDeny(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	by := decodeApprover(r)

	err := h.store.DenyPending(r.Context(), id, by)
	if errors.Is(err, audit.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if errors.Is(err, audit.ErrInvalidState) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.serverError(w, r, "deny", err)
		return
	}

	h.metrics.RecordApproval("denied")
	h.logger.Info("request denied by operator", "request_id", id, "by", by)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": audit.StatusDenied})
}

// handleApprove transitions a pending request to approved in one
// transaction, then executes the tool outside it. Execution failures
// leave the request failed and return a 500.
func (h *Handlers) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	by := decodeApprover(r)

	req, err := h.store.Approve(r.Context(), id, by)
	if errors.Is(err, audit.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if errors.Is(err, audit.ErrInvalidState) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.serverError(w, r, "approve", err)
		return
	}

	h.metrics.RecordApproval("approved")
	h.logger.Info("request approved", "request_id", id, "by", by)

	var args map[string]any
	if req.ArgumentsJSON != "" {
		if err := json.Unmarshal([]byte(req.ArgumentsJSON), &args); err != nil {
			args = map[string]any{}
		}
	}

	// The approval is durable; the execution happens outside any store
	// transaction. Use the request context so an operator disconnect can
	// still cancel a hung tool.
	result, execErr := h.invoker.Invoke(r.Context(), req.Server, req.Tool, args)
	if execErr != nil {
		h.metrics.RecordExecution("failed")
		h.recordOutcome(r.Context(), id, audit.StatusFailed)
		h.emit(r.Context(), id, audit.EventProxyFailed, map[string]any{"error": execErr.Error()})
		h.logger.Warn("post-approval execution failed", "request_id", id, "error", execErr)
		writeError(w, http.StatusInternalServerError, "execution failed: "+execErr.Error())
		return
	}

	h.metrics.RecordExecution("executed")
	h.recordOutcome(r.Context(), id, audit.StatusExecuted)
	h.emit(r.Context(), id, audit.EventProxyExecuted, map[string]any{"ok": true})
	h.emit(r.Context(), id, audit.EventToolResult, map[string]any{"result_preview": resultPreview(result)})

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": audit.StatusExecuted})
}

// recordOutcome updates the post-execution status with a background
// fallback: even if the operator's request context is gone, the outcome
// must land in the store.
func (h *Handlers) recordOutcome(ctx context.Context, id, status string) {
	if err := h.store.UpdateRequestStatus(ctx, id, status); err != nil {
		if ctx.Err() == nil {
			h.logger.Error("failed to record outcome", "request_id", id, "status", status, "error", err)
			return
		}
		if err := h.store.UpdateRequestStatus(context.Background(), id, status); err != nil {
			h.logger.Error("failed to record outcome", "request_id", id, "status", status, "error", err)
		}
	}
}

func (h *Handlers) emit(ctx context.Context, requestID, eventType string, data map[string]any) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := h.store.InsertEvent(ctx, audit.NewEvent(requestID, eventType, data)); err != nil {
		h.logger.Error("failed to journal event", "type", eventType, "request_id", requestID, "error", err)
	}
}

func (h *Handlers) writeSummaries(w http.ResponseWriter, reqs []*audit.Request) {
	out := make([]requestSummary, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, summarize(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("handler failed", "op", op, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
