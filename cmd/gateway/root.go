package main

import (
	"errors"
	"io/fs"

	"inspection-gateway/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Inspecting reverse proxy in front of a single HTTP backend",
	Long: `gateway sits in front of one backend and checks every request before
forwarding it:

  - body size limit (413)
  - per-client sliding window rate limit (429)
  - JSON schema validation on configured routes (422/400)
  - keyword/size anomaly score against a block threshold (403)

Every decision is written to the audit sinks. Running without a
subcommand is the same as "gateway serve".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(cmd)
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadEnvFile loads the dotenv file. A missing default .env is fine; a
// missing file the operator asked for is not.
func loadEnvFile(cmd *cobra.Command) error {
	if envFile == "" {
		return nil
	}
	err := godotenv.Load(envFile)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	return err
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
