// Package config loads and validates the control plane's YAML files
// (servers, policy, risk) and resolves the runtime settings from the
// environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/MehulG/agent-ctrl/pkg/tools"
)

// Environment variables consumed at startup.
const (
	EnvDBPath      = "CTRL_DB_PATH"
	EnvServersPath = "CTRL_SERVERS_PATH"
	EnvPolicyPath  = "CTRL_POLICY_PATH"
	EnvRiskPath    = "CTRL_RISK_PATH"

	EnvListenAddress = "CTRL_LISTEN_ADDRESS"
	EnvDefaultEnv    = "CTRL_DEFAULT_ENV"
	EnvLogLevel      = "CTRL_LOG_LEVEL"
	EnvLogFormat     = "CTRL_LOG_FORMAT"
	EnvToolTimeout   = "CTRL_TOOL_TIMEOUT"
)

// Settings are the runtime knobs resolved from the environment, with
// defaults suitable for local development.
type Settings struct {
	DBPath      string
	ServersPath string
	PolicyPath  string
	RiskPath    string

	ListenAddress string
	DefaultEnv    string
	LogLevel      string
	LogFormat     string
	ToolTimeout   time.Duration
}

// SettingsFromEnv resolves settings, environment over defaults.
func SettingsFromEnv() Settings {
	s := Settings{
		DBPath:        "ctrl.db",
		ServersPath:   "configs/servers.yaml",
		PolicyPath:    "configs/policy.yaml",
		RiskPath:      "configs/risk.yaml",
		ListenAddress: ":8788",
		DefaultEnv:    "dev",
		LogLevel:      "info",
		LogFormat:     "text",
		ToolTimeout:   tools.DefaultTimeout,
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		s.DBPath = v
	}
	if v := os.Getenv(EnvServersPath); v != "" {
		s.ServersPath = v
	}
	if v := os.Getenv(EnvPolicyPath); v != "" {
		s.PolicyPath = v
	}
	if v := os.Getenv(EnvRiskPath); v != "" {
		s.RiskPath = v
	}
	if v := os.Getenv(EnvListenAddress); v != "" {
		s.ListenAddress = v
	}
	if v := os.Getenv(EnvDefaultEnv); v != "" {
		s.DefaultEnv = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		s.LogFormat = v
	}
	if v := os.Getenv(EnvToolTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.ToolTimeout = d
		}
	}
	return s
}

// Server is one remote tool endpoint in servers.yaml.
type Server struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"`
	BaseURL   string `yaml:"base_url"`
}

// ServersConfig is the top-level document of servers.yaml.
type ServersConfig struct {
	Servers  []Server          `yaml:"servers"`
	Defaults map[string]string `yaml:"defaults"`
}

// Validate checks server entries: unique names, supported transports.
func (c *ServersConfig) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i, srv := range c.Servers {
		if srv.Name == "" {
			return fmt.Errorf("server at index %d has no name", i)
		}
		if seen[srv.Name] {
			return fmt.Errorf("duplicate server name %q", srv.Name)
		}
		seen[srv.Name] = true
		if srv.Transport != "http" {
			return fmt.Errorf("server %q: unsupported transport %q", srv.Name, srv.Transport)
		}
		if srv.BaseURL == "" {
			return fmt.Errorf("server %q: base_url is required", srv.Name)
		}
	}
	return nil
}

// Endpoints converts the server list to invoker endpoints.
func (c *ServersConfig) Endpoints() []tools.Endpoint {
	out := make([]tools.Endpoint, 0, len(c.Servers))
	for _, srv := range c.Servers {
		out = append(out, tools.Endpoint{Name: srv.Name, Transport: srv.Transport, BaseURL: srv.BaseURL})
	}
	return out
}
