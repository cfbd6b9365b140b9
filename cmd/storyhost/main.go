// Package main provides the storyhost binary. `storyhost serve` runs the
// story-video hosting server; `storyhost admin ...` drives the administrative
// channel of a running server.
//
// The serve flow:
//  1. Load defaults, the optional YAML file, environment variables and flags.
//  2. Validate configuration and install the structured logger.
//  3. Create the storage directories and count the stored stories.
//  4. Open the metrics database and start the janitor and metrics flusher.
//  5. Serve HTTP until SIGINT/SIGTERM, then shut everything down in order.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}
