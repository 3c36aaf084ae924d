package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MehulG/agent-ctrl/pkg/config"
	"github.com/MehulG/agent-ctrl/pkg/policy"
)

var lintFlags struct {
	strict      bool
	format      string
	noApprovals bool
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate the policy file",
	Long: `Validate policy.yaml for structural errors and the mistakes that bite
in production: no catch-all policy, earlier policies shadowing later
ones, and pending effects in a deployment without approvals.

Examples:
  # Lint the configured policy file
  ctrl lint

  # Strict mode (warnings as errors), JSON output for CI
  ctrl lint --strict --format json`,
	RunE: lintPolicy,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().BoolVar(&lintFlags.strict, "strict", false, "treat warnings as errors")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json")
	lintCmd.Flags().BoolVar(&lintFlags.noApprovals, "no-approvals", false, "warn on effect=pending (deployment without approvals)")
}

func lintPolicy(cmd *cobra.Command, args []string) error {
	settings := resolveSettings()

	cfg, err := config.LoadPolicy(settings.PolicyPath)
	if err != nil {
		return err
	}

	result := policy.Lint(cfg, policy.LintOptions{ApprovalsEnabled: !lintFlags.noApprovals})

	if lintFlags.format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		for _, e := range result.Errors {
			fmt.Printf("error: %s\n", e)
		}
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if len(result.Errors) == 0 && len(result.Warnings) == 0 {
			fmt.Println("ok: no findings")
		}
	}

	if len(result.Errors) > 0 || (lintFlags.strict && len(result.Warnings) > 0) {
		return fmt.Errorf("lint failed: %d errors, %d warnings", len(result.Errors), len(result.Warnings))
	}
	return nil
}
