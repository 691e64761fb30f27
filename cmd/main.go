package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tokenbridge/bridge-relayer/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bridge-relayer",
		Short: "Relays token deposits between two EVM chains",
	}
	rootCmd.PersistentFlags().String("config", "./config.yml", "config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "env file loaded before the config, ignored when missing")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(StartCmd(), MigrateCmd(), CursorCmd())
	return rootCmd
}

// loadConfig loads the env file, the config file and builds the logger. Any failure exits with 1.
func loadConfig(c *cobra.Command) (config.Config, *zap.Logger) {
	envFile, err := c.Flags().GetString("env-file")
	if err != nil {
		panic(err)
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			fatalf("failed to load env file %s: %v", envFile, err)
		}
	}

	configFile, err := c.Flags().GetString("config")
	if err != nil {
		panic(err)
	}
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fatalf("invalid config: %v", err)
	}

	enableDebug, err := c.Flags().GetBool("debug")
	if err != nil {
		panic(err)
	}
	logger, err := cfg.CreateLogger(enableDebug)
	if err != nil {
		fatalf("failed to create logger: %v", err)
	}

	return cfg, logger
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
