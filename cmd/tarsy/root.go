// Command tarsy runs the alert-triage orchestrator: an HTTP/WebSocket
// server that accepts alerts, runs them through a configured chain of
// LLM-driven agents, and persists/broadcasts their progress.
//
// Grounded on the teacher's cmd/tarsy/main.go (flag/env-driven bootstrap,
// godotenv, gin.SetMode) restructured around spf13/cobra subcommands
// (serve / migrate / orphan-sweep), the way the goclaw example's cmd/
// package splits one binary into cobra subcommands instead of main's
// single code path.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "tarsy",
	Short: "Tarsy alert-triage orchestrator",
	// PersistentPreRunE runs after flag parsing, so configDir already
	// reflects --config-dir/$CONFIG_DIR by the time .env loads.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(configDir + "/.env")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir,
		"config-dir", getEnv("CONFIG_DIR", "./deploy/config"),
		"path to configuration directory (tarsy.yaml, llm-providers.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(orphanSweepCmd())
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
