package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "archivecrawl",
	Short: "A resumable crawler for municipal building-archive documents",
	Long: `archivecrawl walks a building archive parcel by parcel, downloads every
case document it finds and keeps a durable per-group ledger of progress.

Features:
  - Concurrent crawling with a configurable worker pool
  - Durable status ledger: interrupted runs resume where they stopped
  - Per-case document record tables merged into a group table
  - Reconciliation of recorded documents against files on disk
  - Per-group and master crawl reports`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./archivecrawl.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`archivecrawl {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + "/" + runtime.GOARCH + `
`)
}
