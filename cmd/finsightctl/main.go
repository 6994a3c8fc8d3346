// Command finsightctl drives the API and the local sandbox from a terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiURL  string
	token   string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "finsightctl",
	Short:         "Operate the finsight prompt pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("FINSIGHT_API", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("FINSIGHT_TOKEN"), "Bearer token (or set FINSIGHT_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(sandboxCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
