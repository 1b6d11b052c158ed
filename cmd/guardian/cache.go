package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	cachepkg "github.com/UIDickinson/llm-identity/pkg/cache/sqlite"
	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/modelcache"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the model cache and manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the last model cache snapshot and response cache counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			stats, err := modelcache.ReadMetadata(metadataPath(cfg))
			switch {
			case errors.Is(err, fs.ErrNotExist):
				fmt.Println("No model cache snapshot yet.")
			case err != nil:
				return err
			default:
				printCacheStats(os.Stdout, stats)
			}

			if !cfg.Inference.ResponseCache.Enabled {
				return nil
			}
			c, err := openResponses(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			rs, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("\nResponse cache\nEntries: %d\nHits:    %d\nMisses:  %d\n", rs.Entries, rs.Hits, rs.Misses)
			return nil
		},
	}

	var (
		expiredOnly bool
		model       string
	)
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached inference responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			c, err := openResponses(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			switch {
			case model != "":
				n, err := c.Forget(model)
				if err != nil {
					return err
				}
				fmt.Printf("Forgot %d cached responses for %s.\n", n, model)
			case expiredOnly:
				if err := c.Clear(true); err != nil {
					return err
				}
				fmt.Println("Expired responses cleared.")
			default:
				if err := c.Clear(false); err != nil {
					return err
				}
				fmt.Println("All cached responses cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")
	clearCmd.Flags().StringVar(&model, "model", "", "only forget responses from this model")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func openResponses(cfg *config.Config) (*cachepkg.Cache, error) {
	rc := cfg.Inference.ResponseCache
	c, err := cachepkg.New(rc.DBPath, rc.TTL)
	if err != nil {
		return nil, fmt.Errorf("open response cache: %w", err)
	}
	return c, nil
}
