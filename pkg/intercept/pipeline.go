// Package intercept runs the control plane's synchronous pipeline:
// score the intent, persist it, decide policy, apply approval and deny
// gates, then enforce — deny, park as pending, or forward to the remote
// tool. Every step is journaled before the pipeline moves on, so a
// cancelled or crashed call never leaves a request in an unrecorded
// state.
package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MehulG/agent-ctrl/pkg/audit"
	"github.com/MehulG/agent-ctrl/pkg/policy"
	"github.com/MehulG/agent-ctrl/pkg/risk"
	"github.com/MehulG/agent-ctrl/pkg/telemetry/metrics"
	"github.com/MehulG/agent-ctrl/pkg/tools"
)

// EnvHeader carries the environment on intercepted calls.
const EnvHeader = "x-ctrl-env"

// Interceptor mediates every tool invocation. Policy and risk snapshots
// are swapped atomically on reload; each request loads the risk engine
// and the policy set once and uses them for the rest of its run.
type Interceptor struct {
	store    audit.Store
	invoker  tools.Invoker
	policies atomic.Pointer[policy.Config]
	riskEng  atomic.Pointer[risk.Engine]

	defaultEnv string
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// Options configures a new Interceptor.
type Options struct {
	Store      audit.Store
	Invoker    tools.Invoker
	Policies   *policy.Config
	RiskEngine *risk.Engine

	// DefaultEnv is used when an intent carries no environment.
	// Default: "dev".
	DefaultEnv string

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// New creates an Interceptor.
func New(opts Options) (*Interceptor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if opts.Policies == nil {
		return nil, fmt.Errorf("policy config is required")
	}
	if opts.RiskEngine == nil {
		return nil, fmt.Errorf("risk engine is required")
	}
	if opts.DefaultEnv == "" {
		opts.DefaultEnv = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ic := &Interceptor{
		store:      opts.Store,
		invoker:    opts.Invoker,
		defaultEnv: opts.DefaultEnv,
		logger:     opts.Logger.With("component", "intercept"),
		metrics:    opts.Metrics,
	}
	ic.policies.Store(opts.Policies)
	ic.riskEng.Store(opts.RiskEngine)
	return ic, nil
}

// SetPolicies atomically replaces the policy snapshot.
func (ic *Interceptor) SetPolicies(cfg *policy.Config) {
	ic.policies.Store(cfg)
	ic.logger.Info("policy config reloaded", "policies", len(cfg.Policies))
}

// SetRiskEngine atomically replaces the risk engine.
func (ic *Interceptor) SetRiskEngine(engine *risk.Engine) {
	ic.riskEng.Store(engine)
	ic.logger.Info("risk config reloaded")
}

// NormalizeIntent fills defaults the way the runtime adapter does:
// unknown server/tool placeholders, env from the x-ctrl-env header or
// the configured default. The actor is kept as given; headers are not
// consulted for it.
func (ic *Interceptor) NormalizeIntent(intent risk.Intent, headers map[string]string) risk.Intent {
	if intent.Server == "" {
		intent.Server = "unknown"
	}
	if intent.Tool == "" {
		intent.Tool = "unknown"
	}
	if intent.Args == nil {
		intent.Args = map[string]any{}
	}
	if env := headers[EnvHeader]; env != "" {
		intent.Env = env
	}
	if intent.Env == "" {
		intent.Env = ic.defaultEnv
	}
	return intent
}

// Intercept runs the full pipeline for one intent and, when allowed,
// forwards the call to the remote tool and returns its result. The
// returned error is *DeniedError, *PendingError, a tool execution
// error, or a storage failure.
func (ic *Interceptor) Intercept(ctx context.Context, intent risk.Intent) (any, error) {
	if intent.Args == nil {
		intent.Args = map[string]any{}
	}
	if intent.Env == "" {
		intent.Env = ic.defaultEnv
	}

	requestID := uuid.NewString()
	logger := ic.logger.With("request_id", requestID, "server", intent.Server, "tool", intent.Tool, "env", intent.Env)

	argsJSON, err := audit.CanonicalJSON(intent.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize arguments: %w", err)
	}

	// Risk first so the request row carries its score from the start.
	riskResult := ic.riskEng.Load().Score(intent)
	ic.metrics.RecordRisk(riskResult.Mode, riskResult.Score)

	req := &audit.Request{
		ID:            requestID,
		CreatedAt:     audit.NowISO(),
		Server:        intent.Server,
		Tool:          intent.Tool,
		ArgumentsJSON: argsJSON,
		ArgumentsHash: audit.HashString(argsJSON),
		Actor:         intent.Actor,
		Env:           intent.Env,
		Status:        audit.StatusProposed,
		RiskScore:     riskResult.Score,
		RiskMode:      riskResult.Mode,
	}
	if err := ic.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	riskData := map[string]any{
		"mode":    riskResult.Mode,
		"score":   riskResult.Score,
		"reasons": riskResult.Reasons,
		"rules":   riskResult.MatchedRules,
	}
	ic.emit(ctx, requestID, audit.EventRequestCreated, map[string]any{
		"server": intent.Server, "tool": intent.Tool, "env": intent.Env, "actor": intent.Actor,
	})
	ic.emit(ctx, requestID, audit.EventRiskScored, riskData)

	// Policy decision.
	cfg := ic.policies.Load()
	decision := cfg.Decide(intent.Server, intent.Tool, intent.Env)
	if err := ic.store.InsertDecision(ctx, &audit.Decision{
		ID:               uuid.NewString(),
		RequestID:        requestID,
		DecidedAt:        audit.NowISO(),
		Decision:         decision.Decision,
		MatchedPolicyID:  decision.PolicyID,
		MatchedCondition: decision.Matched,
		Reason:           decision.Reason,
	}); err != nil {
		return nil, err
	}
	ic.emit(ctx, requestID, audit.EventDecisionMade, map[string]any{
		"decision": decision.Decision,
		"policy_id": decision.PolicyID,
		"reason":    decision.Reason,
		"matched":   decision.Matched,
	})

	// Approval and deny gates on the matched policy.
	if matched := cfg.ByID(decision.PolicyID); matched != nil {
		if decision.Decision != policy.EffectPending && policy.RequiresApproval(matched.RequireApprovalIf, riskResult) {
			decision.Decision = policy.EffectPending
			decision.Reason = fmt.Sprintf("Approval required (%s)", matched.RequireApprovalIf)
			ic.emit(ctx, requestID, audit.EventDecisionOverride, map[string]any{
				"to": policy.EffectPending, "because": "require_approval_if", "risk": riskData,
			})
		}
		if decision.Decision != policy.EffectDeny && matched.Deny != "" && policy.DeniedByExpr(matched.Deny, riskResult) {
			decision.Decision = policy.EffectDeny
			decision.Reason = fmt.Sprintf("Denied by policy expression (%s)", matched.Deny)
			ic.emit(ctx, requestID, audit.EventDecisionOverride, map[string]any{
				"to": policy.EffectDeny, "because": "deny_expr", "risk": riskData,
			})
		}
	}

	ic.metrics.RecordDecision(decision.Decision)

	// Enforce.
	switch decision.Decision {
	case policy.EffectDeny:
		if err := ic.store.UpdateRequestStatus(ctx, requestID, audit.StatusDenied); err != nil {
			return nil, err
		}
		ic.emit(ctx, requestID, audit.EventRequestDenied, map[string]any{"reason": decision.Reason, "risk": riskData})
		logger.Info("tool call denied", "reason", decision.Reason)
		return nil, &DeniedError{RequestID: requestID, Server: intent.Server, Tool: intent.Tool, Reason: decision.Reason}

	case policy.EffectPending:
		if err := ic.store.UpdateRequestStatus(ctx, requestID, audit.StatusPending); err != nil {
			return nil, err
		}
		ic.emit(ctx, requestID, audit.EventRequestPending, map[string]any{"reason": decision.Reason, "risk": riskData})
		logger.Info("tool call pending approval", "reason", decision.Reason)
		return nil, &PendingError{RequestID: requestID, Server: intent.Server, Tool: intent.Tool, Reason: decision.Reason}
	}

	// Allow: the status write commits before the remote call, so a
	// cancelled call still leaves a consistent row behind.
	if err := ic.store.UpdateRequestStatus(ctx, requestID, audit.StatusAllowed); err != nil {
		return nil, err
	}
	ic.emit(ctx, requestID, audit.EventProxyForwarding, map[string]any{
		"server": intent.Server, "tool": intent.Tool, "risk": riskData,
	})

	result, err := ic.invoker.Invoke(ctx, intent.Server, intent.Tool, intent.Args)
	if err != nil {
		ic.metrics.RecordExecution("failed")
		if serr := ic.store.UpdateRequestStatus(ctx, requestID, audit.StatusFailed); serr != nil {
			logger.Error("failed to record failed status", "error", serr)
		}
		ic.emit(ctx, requestID, audit.EventProxyFailed, map[string]any{"error": err.Error()})
		logger.Warn("tool execution failed", "error", err)
		return nil, err
	}

	ic.metrics.RecordExecution("executed")
	if err := ic.store.UpdateRequestStatus(ctx, requestID, audit.StatusExecuted); err != nil {
		return nil, err
	}
	ic.emit(ctx, requestID, audit.EventProxyExecuted, map[string]any{"ok": true})
	logger.Debug("tool call executed")
	return result, nil
}

// emit journals one event. Journal failures are logged, not raised: the
// enforcement outcome has already been decided and must stand.
func (ic *Interceptor) emit(ctx context.Context, requestID, eventType string, data map[string]any) {
	if err := ic.store.InsertEvent(ctx, audit.NewEvent(requestID, eventType, data)); err != nil {
		ic.logger.Error("failed to journal event", "type", eventType, "request_id", requestID, "error", err)
	}
}
