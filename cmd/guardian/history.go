package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/UIDickinson/llm-identity/pkg/history"
	"github.com/UIDickinson/llm-identity/pkg/models"
	"github.com/UIDickinson/llm-identity/pkg/server"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query and manage the audit history",
	}

	cmd.AddCommand(
		newHistorySearchCmd(),
		newHistoryShowCmd(),
		newHistoryStatsCmd(),
		newHistoryCleanupCmd(),
	)
	return cmd
}

func newHistorySearchCmd() *cobra.Command {
	var (
		configPath string
		model      string
		verdict    string
		since      string
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search past audits, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, cleanup, err := openHistoryStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				Model:   model,
				Verdict: models.Verdict(verdict),
				Limit:   limit,
			}
			if since != "" {
				t, err := server.ParseSince(since, time.Now())
				if err != nil {
					return err
				}
				opts.Since = t
			}

			audits, err := h.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(audits)
			}
			printAudits(os.Stdout, audits)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	cmd.Flags().StringVar(&model, "model", "", "filter by audited model")
	cmd.Flags().StringVar(&verdict, "verdict", "", "filter by verdict (MATCH, SUSPICIOUS, NO_MATCH, ERROR)")
	cmd.Flags().StringVar(&since, "since", "", "start time: RFC 3339, YYYY-MM-DD or a duration like 72h")
	cmd.Flags().IntVar(&limit, "limit", 50, "max audits to return")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print audits as JSON")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show AUDIT_ID",
		Short: "Show one audit and its per-challenge probes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, cleanup, err := openHistoryStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			audits, err := h.Query(ctx, models.AuditQueryOpts{ID: args[0], Limit: 1})
			if err != nil {
				return err
			}
			if len(audits) == 0 {
				fmt.Println("No audit found with that ID.")
				return nil
			}
			printResult(os.Stdout, audits[0])

			probes, err := h.Probes(ctx, args[0])
			if err != nil {
				return err
			}
			printProbes(os.Stdout, probes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	return cmd
}

func newHistoryStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show verdict counts by model and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, cleanup, err := openHistoryStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := h.Stats(context.Background())
			if err != nil {
				return err
			}
			printStats(os.Stdout, stats)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	return cmd
}

func newHistoryCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audits older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, cleanup, err := openHistoryStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := h.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audits.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	return cmd
}

func openHistoryStore(configPath string) (*history.Store, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	h, err := openHistory(cfg)
	if err != nil {
		return nil, nil, err
	}
	if h == nil {
		return nil, nil, errors.New("audit history is disabled (history.enabled: false)")
	}
	return h, func() { _ = h.Close() }, nil
}
