package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/UIDickinson/llm-identity/pkg/toolkit"
)

func newToolkitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "toolkit",
		Short: "Run the external fingerprinting toolkit",
	}

	var (
		count          int
		keyLength      int
		responseLength int
		randomWords    bool
		output         string
		install        bool
	)
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate fingerprints with the toolkit generator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			set, err := toolkit.New(cfg.Toolkit).Generate(ctx, toolkit.GenerateJob{
				Count:          count,
				KeyLength:      keyLength,
				ResponseLength: responseLength,
				RandomWords:    randomWords,
				Output:         output,
			})
			if err != nil {
				return err
			}
			if install {
				return installMaster(cfg, set)
			}
			fmt.Printf("Wrote %d fingerprints to %s\n", set.Len(), output)
			return nil
		},
	}
	generateCmd.Flags().IntVarP(&count, "count", "n", 4096, "number of fingerprints")
	generateCmd.Flags().IntVar(&keyLength, "key-length", 32, "words per query")
	generateCmd.Flags().IntVar(&responseLength, "response-length", 32, "words per response")
	generateCmd.Flags().BoolVar(&randomWords, "random-words", false, "use random word generation instead of a language model")
	generateCmd.Flags().StringVarP(&output, "output", "o", "generated_data/fingerprints.json", "plaintext output file")
	generateCmd.Flags().BoolVar(&install, "install", false, "also encrypt the result into the configured master file")

	var (
		model       string
		fingerprint string
		maxFP       int
		outputDir   string
	)
	embedCmd := &cobra.Command{
		Use:   "embed",
		Short: "Fine-tune a model so it answers your fingerprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dir, err := toolkit.New(cfg.Toolkit).Embed(ctx, toolkit.EmbedJob{
				ModelPath:        model,
				FingerprintsFile: fingerprint,
				MaxFingerprints:  maxFP,
				OutputDir:        outputDir,
			})
			if err != nil {
				return err
			}
			fmt.Println(dir)
			return nil
		},
	}
	embedCmd.Flags().StringVar(&model, "model", "", "base model to fingerprint")
	embedCmd.Flags().StringVar(&fingerprint, "fingerprints", "generated_data/fingerprints.json", "plaintext fingerprint file")
	embedCmd.Flags().IntVar(&maxFP, "max", 1024, "maximum fingerprints to embed")
	embedCmd.Flags().StringVar(&outputDir, "output-dir", "", "copy the fingerprinted model here")
	_ = embedCmd.MarkFlagRequired("model")

	var (
		checkModel string
		checkFP    string
		checkCount int
		verbose    bool
	)
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Measure how many fingerprints a model answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := toolkit.New(cfg.Toolkit).Check(ctx, toolkit.CheckJob{
				ModelPath:        checkModel,
				FingerprintsFile: checkFP,
				Count:            checkCount,
			})
			if err != nil {
				return err
			}
			if verbose {
				fmt.Fprint(os.Stderr, res.Output)
			}
			if !res.Passed {
				fmt.Println(text.FgHiRed.Sprintf("Success rate %.1f%% is below %.0f%%: embedding did not take", res.SuccessRate, toolkit.PassThreshold))
				return fmt.Errorf("fingerprint check failed")
			}
			fmt.Println(text.FgHiGreen.Sprintf("Success rate %.1f%%: fingerprints embedded", res.SuccessRate))
			return nil
		},
	}
	checkCmd.Flags().StringVar(&checkModel, "model", "", "fingerprinted model directory")
	checkCmd.Flags().StringVar(&checkFP, "fingerprints", "generated_data/fingerprints.json", "plaintext fingerprint file")
	checkCmd.Flags().IntVar(&checkCount, "count", 1024, "fingerprints to check")
	checkCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the checker output")
	_ = checkCmd.MarkFlagRequired("model")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	cmd.AddCommand(generateCmd, embedCmd, checkCmd)
	return cmd
}
