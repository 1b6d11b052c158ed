package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/fingerprint"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

func newFingerprintsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fingerprints",
		Aliases: []string{"fp"},
		Short:   "Generate, encrypt and inspect master fingerprint sets",
	}

	cmd.AddCommand(
		newFingerprintsGenerateCmd(),
		newFingerprintsEncryptCmd(),
		newFingerprintsInspectCmd(),
		newFingerprintsKeygenCmd(),
		newFingerprintsGuideCmd(),
	)
	return cmd
}

func newFingerprintsGenerateCmd() *cobra.Command {
	var (
		configPath     string
		count          int
		keyLength      int
		responseLength int
		output         string
		install        bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random-phrase fingerprint set",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 10 || count > 10000 {
				return fmt.Errorf("--count must be between 10 and 10000")
			}
			if keyLength < 8 || keyLength > 100 || responseLength < 8 || responseLength > 100 {
				return fmt.Errorf("--key-length and --response-length must be between 8 and 100")
			}

			set, err := fingerprint.Generate(fingerprint.GenerateOptions{
				Count:          count,
				KeyLength:      keyLength,
				ResponseLength: responseLength,
			})
			if err != nil {
				return err
			}

			if install {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				return installMaster(cfg, set)
			}
			return writePlain(set, output)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	cmd.Flags().IntVarP(&count, "count", "n", 100, "number of fingerprints (10-10000)")
	cmd.Flags().IntVar(&keyLength, "key-length", 32, "words per query (8-100)")
	cmd.Flags().IntVar(&responseLength, "response-length", 32, "words per response (8-100)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write plaintext JSON here instead of stdout")
	cmd.Flags().BoolVar(&install, "install", false, "encrypt straight into the configured master file")
	return cmd
}

func newFingerprintsEncryptCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "encrypt FILE",
		Short: "Import a plaintext fingerprint file as the encrypted master set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			set, err := fingerprint.ImportPlain(args[0])
			if err != nil {
				return err
			}
			if err := installMaster(cfg, set); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Remove or secure the plaintext copy at %s.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	return cmd
}

func newFingerprintsInspectCmd() *cobra.Command {
	var (
		configPath string
		file       string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decrypt the master set and show a summary without revealing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			path := file
			if path == "" {
				path = cfg.Fingerprints.MasterPath()
			}
			set, err := store.LoadEncrypted(path)
			if err != nil {
				return err
			}
			id, err := fingerprint.Digest(set)
			if err != nil {
				return err
			}

			t := newTable(os.Stdout, table.Row{"Field", "Value"})
			t.AppendRows([]table.Row{
				{"File", path},
				{"Version", set.Version},
				{"Fingerprints", set.Len()},
				{"Content ID", id},
			})
			keys := make([]string, 0, len(set.Metadata))
			for k := range set.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				t.AppendRow(table.Row{"metadata." + k, fmt.Sprint(set.Metadata[k])})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to guardian config file")
	cmd.Flags().StringVar(&file, "file", "", "encrypted file to inspect (default: configured master file)")
	return cmd
}

func newFingerprintsKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random encryption key for fingerprints.encryption_key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := fingerprint.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}

func newFingerprintsGuideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guide",
		Short: "Show how to embed fingerprints into your model",
		RunE: func(cmd *cobra.Command, args []string) error {
			printGuide(os.Stdout, fingerprint.Guide())
			return nil
		},
	}
}

// installMaster encrypts set into the configured master file.
func installMaster(cfg *config.Config, set *models.FingerprintSet) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	path := cfg.Fingerprints.MasterPath()
	if err := store.SaveEncrypted(set, path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Encrypted %d fingerprints to %s\n", set.Len(), path)
	return nil
}

func writePlain(set *models.FingerprintSet, output string) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fingerprints: %w", err)
	}
	if output == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o700); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(output, data, 0o600); err != nil {
		return fmt.Errorf("write fingerprints: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d fingerprints to %s. Keep this file secret.\n", set.Len(), output)
	return nil
}
