package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MehulG/agent-ctrl/pkg/config"
	"github.com/MehulG/agent-ctrl/pkg/policy"
)

var testFlags struct {
	file string
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run a policy test suite",
	Long: `Run a YAML test suite against the configured policy file. Each test
feeds a (server, tool, env) triple through the policy decision and
checks the expected effect.

Example suite:

  tests:
    - name: coingecko reads allowed
      input: {server: coingecko, tool: get_markets, env: dev}
      expect: allow
    - name: unknown tools denied
      input: {server: x, tool: y, env: dev}
      expect: deny`,
	RunE: runPolicyTests,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().StringVarP(&testFlags.file, "file", "f", "configs/policy_tests.yaml", "test suite path")
}

func runPolicyTests(cmd *cobra.Command, args []string) error {
	settings := resolveSettings()

	cfg, err := config.LoadPolicy(settings.PolicyPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(testFlags.file)
	if err != nil {
		return fmt.Errorf("failed to read test suite %q: %w", testFlags.file, err)
	}
	suite, err := policy.ParseTestSuite(data)
	if err != nil {
		return err
	}

	fails, lines := policy.RunTests(cfg, suite)
	for _, line := range lines {
		fmt.Println(line)
	}
	fmt.Printf("\n%d tests, %d failed\n", len(suite.Tests), fails)

	if fails > 0 {
		return fmt.Errorf("%d policy tests failed", fails)
	}
	return nil
}
