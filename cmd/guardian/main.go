package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "guardian",
		Short:         "Guardian: audit language models for embedded ownership fingerprints",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newAuditCmd(),
		newSelfVerifyCmd(),
		newProbeCmd(),
		newFingerprintsCmd(),
		newHistoryCmd(),
		newCacheCmd(),
		newToolkitCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
