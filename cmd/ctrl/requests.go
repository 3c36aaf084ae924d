package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MehulG/agent-ctrl/pkg/audit"
)

var requestsFlags struct {
	status string
	limit  int
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List recent requests from the audit store",
	RunE:  listRequests,
}

func init() {
	rootCmd.AddCommand(requestsCmd)

	requestsCmd.Flags().StringVar(&requestsFlags.status, "status", "", "filter by status (proposed, allowed, denied, pending, approved, executed, failed)")
	requestsCmd.Flags().IntVar(&requestsFlags.limit, "limit", 50, "maximum rows")
}

func listRequests(cmd *cobra.Command, args []string) error {
	settings := resolveSettings()

	sqliteCfg := audit.DefaultSQLiteConfig()
	sqliteCfg.Path = settings.DBPath
	store, err := audit.NewSQLiteStore(sqliteCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reqs, err := store.ListRequests(context.Background(), audit.ListQuery{
		Status: requestsFlags.status,
		Limit:  requestsFlags.limit,
	})
	if err != nil {
		return err
	}

	if len(reqs) == 0 {
		fmt.Println("no requests")
		return nil
	}
	for _, r := range reqs {
		fmt.Printf("%s  %s  %-9s  %s.%s  env=%s  risk=%d/%s\n",
			r.ID, r.CreatedAt, r.Status, r.Server, r.Tool, r.Env, r.RiskScore, r.RiskMode)
	}
	return nil
}
