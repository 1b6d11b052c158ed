package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jfrog/jfrog-client-go/utils/log"
	"github.com/spf13/cobra"

	"github.com/UIDickinson/llm-identity/pkg/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Guardian HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(cfg, server.Deps{
				Engine:       a.engine,
				Fingerprints: a.fingerprints,
				Cache:        a.cache,
				History:      a.history,
				Limiter:      a.limiter,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info(fmt.Sprintf("Starting guardian %s on %s", version, cfg.Server.Listen))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen")
	return cmd
}
