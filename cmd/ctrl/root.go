package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MehulG/agent-ctrl/pkg/config"
)

var rootFlags struct {
	dbPath      string
	serversPath string
	policyPath  string
	riskPath    string
	verbose     bool
}

var rootCmd = &cobra.Command{
	Use:   "ctrl",
	Short: "agent-ctrl - control plane for agent tool invocations",
	Long: `agent-ctrl mediates between an autonomous agent and its remote tools:
every intended tool call is intercepted, scored for risk, evaluated
against a declarative policy, and either forwarded, denied, or parked
for human approval. Every step is journaled to the audit store.

Paths default to the CTRL_* environment variables (CTRL_DB_PATH,
CTRL_SERVERS_PATH, CTRL_POLICY_PATH, CTRL_RISK_PATH); flags override.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.dbPath, "db", "", "audit database path")
	rootCmd.PersistentFlags().StringVar(&rootFlags.serversPath, "servers", "", "servers.yaml path")
	rootCmd.PersistentFlags().StringVar(&rootFlags.policyPath, "policy", "", "policy.yaml path")
	rootCmd.PersistentFlags().StringVar(&rootFlags.riskPath, "risk", "", "risk.yaml path")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "verbose output")
}

// resolveSettings layers flag overrides on top of the environment.
func resolveSettings() config.Settings {
	s := config.SettingsFromEnv()
	if rootFlags.dbPath != "" {
		s.DBPath = rootFlags.dbPath
	}
	if rootFlags.serversPath != "" {
		s.ServersPath = rootFlags.serversPath
	}
	if rootFlags.policyPath != "" {
		s.PolicyPath = rootFlags.policyPath
	}
	if rootFlags.riskPath != "" {
		s.RiskPath = rootFlags.riskPath
	}
	if rootFlags.verbose {
		s.LogLevel = "debug"
	}
	return s
}
