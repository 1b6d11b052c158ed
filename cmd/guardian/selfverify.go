package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

func newSelfVerifyCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "self-verify",
		Short: "Check that your reference model still answers its fingerprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			v := a.engine.SelfVerify(context.Background())
			if asJSON {
				if err := printJSON(v); err != nil {
					return err
				}
			} else {
				printSelfVerification(os.Stdout, v)
			}
			if !v.Verified {
				return errors.New("self-verification failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verification as JSON")
	return cmd
}
