// Package ctrl is the embedding entry point for agent runtimes: it
// wires config, the audit store, the risk engine, the policy engine,
// and the remote tool adapter into one Client whose Intercept method
// runs the full control-plane pipeline for a proposed tool call.
package ctrl

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/MehulG/agent-ctrl/pkg/audit"
	"github.com/MehulG/agent-ctrl/pkg/config"
	"github.com/MehulG/agent-ctrl/pkg/intercept"
	"github.com/MehulG/agent-ctrl/pkg/risk"
	"github.com/MehulG/agent-ctrl/pkg/telemetry/metrics"
	"github.com/MehulG/agent-ctrl/pkg/tools"
)

// Client is a fully wired interception pipeline. Build one per process;
// it is safe for concurrent use.
type Client struct {
	settings    config.Settings
	store       audit.Store
	interceptor *intercept.Interceptor
	logger      *slog.Logger

	cancelWatch context.CancelFunc
}

// Options overrides pieces of the default wiring. Zero values fall back
// to the environment-driven defaults.
type Options struct {
	// Settings overrides config.SettingsFromEnv.
	Settings *config.Settings

	// Store overrides the SQLite store (tests pass a memory store).
	Store audit.Store

	// Invoker overrides the HTTP tool adapter.
	Invoker tools.Invoker

	// Metrics receives pipeline counters when non-nil.
	Metrics *metrics.Collector

	// Watch enables hot reload of policy.yaml and risk.yaml.
	Watch bool

	Logger *slog.Logger
}

// New loads configuration, opens the store, and builds the pipeline.
func New(opts Options) (*Client, error) {
	settings := config.SettingsFromEnv()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policyCfg, err := config.LoadPolicy(settings.PolicyPath)
	if err != nil {
		return nil, err
	}
	riskCfg, err := config.LoadRisk(settings.RiskPath)
	if err != nil {
		return nil, err
	}
	riskEngine, err := risk.NewEngine(*riskCfg, logger)
	if err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		sqliteCfg := audit.DefaultSQLiteConfig()
		sqliteCfg.Path = settings.DBPath
		store, err = audit.NewSQLiteStore(sqliteCfg)
		if err != nil {
			return nil, err
		}
	}

	invoker := opts.Invoker
	if invoker == nil {
		serversCfg, err := config.LoadServers(settings.ServersPath)
		if err != nil {
			return nil, err
		}
		invoker = tools.NewHTTPInvoker(serversCfg.Endpoints(), settings.ToolTimeout, logger)
	}

	interceptor, err := intercept.New(intercept.Options{
		Store:      store,
		Invoker:    invoker,
		Policies:   policyCfg,
		RiskEngine: riskEngine,
		DefaultEnv: settings.DefaultEnv,
		Logger:     logger,
		Metrics:    opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		settings:    settings,
		store:       store,
		interceptor: interceptor,
		logger:      logger,
	}

	if opts.Watch {
		watchCtx, cancel := context.WithCancel(context.Background())
		c.cancelWatch = cancel
		watcher := config.NewWatcher(
			[]string{settings.PolicyPath, settings.RiskPath},
			c.reload,
			logger,
		)
		if err := watcher.Start(watchCtx); err != nil {
			cancel()
			store.Close()
			return nil, fmt.Errorf("failed to start config watcher: %w", err)
		}
	}

	return c, nil
}

// reload swaps the affected snapshot. A config that fails to load or
// validate is rejected and the previous snapshot stays active.
func (c *Client) reload(path string) {
	// The watcher reports cleaned paths.
	switch path {
	case filepath.Clean(c.settings.PolicyPath):
		cfg, err := config.LoadPolicy(path)
		if err != nil {
			c.logger.Error("policy reload rejected", "path", path, "error", err)
			return
		}
		c.interceptor.SetPolicies(cfg)
	case filepath.Clean(c.settings.RiskPath):
		cfg, err := config.LoadRisk(path)
		if err != nil {
			c.logger.Error("risk reload rejected", "path", path, "error", err)
			return
		}
		engine, err := risk.NewEngine(*cfg, c.logger)
		if err != nil {
			c.logger.Error("risk reload rejected", "path", path, "error", err)
			return
		}
		c.interceptor.SetRiskEngine(engine)
	}
}

// Intercept runs the pipeline for one intent. See intercept.Interceptor.
func (c *Client) Intercept(ctx context.Context, intent risk.Intent) (any, error) {
	return c.interceptor.Intercept(ctx, intent)
}

// NormalizeIntent applies the runtime adapter defaults (env header,
// default env, placeholder names).
func (c *Client) NormalizeIntent(intent risk.Intent, headers map[string]string) risk.Intent {
	return c.interceptor.NormalizeIntent(intent, headers)
}

// Store exposes the audit store for inspection tooling.
func (c *Client) Store() audit.Store { return c.store }

// Close stops watching and closes the store.
func (c *Client) Close() error {
	if c.cancelWatch != nil {
		c.cancelWatch()
	}
	return c.store.Close()
}
