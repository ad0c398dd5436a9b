// Package main is the entry point for the trackpoll CLI.
//
// trackpoll can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	trackpoll serve -c config.yaml    # Start polling and the session API
//	trackpoll validate -c config.yaml # Validate configuration
//	trackpoll sessions -c config.yaml # List persisted sessions
//	trackpoll version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "trackpoll",
	Short: "Adaptive poller for mail-open tracking",
	Long: `trackpoll polls a mail-tracking API until each registered message
is opened, backing off the longer nothing happens.

Sessions are registered over HTTP, persisted so they survive restarts, and
announced on a Server-Sent Events stream (and optionally NATS) when the
recipient opens the message.

Quick start:
  1. Create a config file (trackpoll.yaml)
  2. Run: trackpoll serve -c trackpoll.yaml
  3. Register: curl -d '{"id":"msg-42"}' http://localhost:8080/api/sessions

Example config:
  port: 8080
  probe:
    base_url: https://tracker.example.com
  store:
    type: file
    path: ./sessions.json`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this trackpoll binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trackpoll %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
