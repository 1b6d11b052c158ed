package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/UIDickinson/llm-identity/pkg/server"
)

func newProbeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "probe CHALLENGE...",
		Short: "Send one challenge to the reference model and print its answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			challenge := server.Sanitize(strings.Join(args, " "))
			if challenge == "" {
				return fmt.Errorf("challenge is empty")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Println(a.engine.QueryReferenceModel(context.Background(), challenge))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	return cmd
}
