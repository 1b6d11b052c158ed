package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jfrog/jfrog-client-go/utils/log"
	"github.com/spf13/cobra"

	"github.com/UIDickinson/llm-identity/pkg/models"
	"github.com/UIDickinson/llm-identity/pkg/server"
)

// consoleNotifier prints audit progress to stderr.
type consoleNotifier struct{}

func (consoleNotifier) Progress(message string) {
	fmt.Fprintln(os.Stderr, text.FgHiBlue.Sprint("› ")+message)
}

func (consoleNotifier) Result(_ models.AuditResult) {}

func (consoleNotifier) Error(err error) {
	fmt.Fprintln(os.Stderr, text.FgHiRed.Sprint("✗ ")+err.Error())
}

func newAuditCmd() *cobra.Command {
	var (
		configPath string
		mode       string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "audit MODEL",
		Short: "Audit a model for your embedded fingerprints",
		Long: "Audit a model for your embedded fingerprints.\n\n" +
			"MODEL is a hub identifier such as org/name or a local model directory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := server.Sanitize(args[0])
			if !server.ValidModelPath(model) {
				return fmt.Errorf("invalid model %q: use org/name or an existing path", args[0])
			}
			m, ok := server.ParseMode(mode)
			if !ok {
				return fmt.Errorf("invalid --mode %q: use quick, standard or deep", mode)
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

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res := a.engine.Run(ctx, model, m, consoleNotifier{})
			if err := a.history.Record(context.Background(), res); err != nil {
				log.Warn(fmt.Sprintf("Record audit history: %v", err))
			}

			if asJSON {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				printResult(os.Stdout, res)
			}
			if res.Verdict == models.VerdictError {
				return fmt.Errorf("audit failed: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	cmd.Flags().StringVarP(&mode, "mode", "m", "standard", "audit depth: quick, standard or deep")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
