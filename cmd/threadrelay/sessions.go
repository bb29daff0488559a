package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	fileStore "github.com/threadrelay/threadrelay/store/file"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored conversation sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all stored conversation sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsClear,
}

func init() {
	sessionsCmd.AddCommand(sessionsClearCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openSessionStore() (*fileStore.SessionStore, error) {
	return fileStore.NewSessionStore(filepath.Join(dataDir, "sessions"))
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	sessions, err := store.All()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions stored.")
		return nil
	}

	fmt.Printf("%-24s %-30s %-10s\n", "CONVERSATION", "BACKEND SESSION", "STATE")
	for _, s := range sessions {
		state := "idle"
		if s.ActiveRequest != nil {
			state = string(s.ActiveRequest.State)
		}
		fmt.Printf("%-24s %-30s %-10s\n", s.Key(), s.SessionID, state)
	}
	return nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	fmt.Println("Sessions cleared.")
	return nil
}
