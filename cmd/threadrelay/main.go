// ThreadRelay - chat-to-agent bridge
//
// Relays team-chat thread messages to a coding-agent backend and streams
// progress back as live-edited status messages.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "threadrelay",
	Short: "ThreadRelay - chat-to-agent bridge",
	Long: `ThreadRelay bridges team-chat threads to a coding-agent backend.
Mention the bot in a thread, watch the live status message, get the answer.

  threadrelay serve               Start the bridge
  threadrelay status              List recent turns
  threadrelay status <turn-id>    Inspect one turn and its events
  threadrelay sessions            List stored conversation sessions
  threadrelay sessions clear      Remove all stored sessions`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", envOr("THREADRELAY_DATA_DIR", defaultDataDir()), "Data directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".threadrelay"
	}
	return filepath.Join(home, ".threadrelay")
}
