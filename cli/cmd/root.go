package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegis-telemetry/aegis/cli/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis telemetry CLI",
	Long: `aegis is the command-line interface for the Aegis telemetry pipeline.

Send individual events, seed realistic event traffic against the ingest
API, and check service health from your terminal.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.aegis/config.yaml)")
	rootCmd.PersistentFlags().String("url", "", "ingest service URL (overrides profile)")
	rootCmd.PersistentFlags().String("api-key", "", "project API key (overrides profile)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// ingestURL resolves the ingest base URL from flag or profile.
func ingestURL(cmd *cobra.Command) string {
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		return url
	}
	if p := cfg.Profile(); p != nil && p.IngestURL != "" {
		return p.IngestURL
	}
	return "http://localhost:8080"
}

// apiKey resolves the API key from flag or profile.
func apiKey(cmd *cobra.Command) (string, error) {
	if key, _ := cmd.Flags().GetString("api-key"); key != "" {
		return key, nil
	}
	if p := cfg.Profile(); p != nil && p.APIKey != "" {
		return p.APIKey, nil
	}
	return "", fmt.Errorf("no API key: pass --api-key or set one in the config profile")
}
