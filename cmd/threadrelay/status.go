package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/threadrelay/threadrelay/model"
	sqliteStore "github.com/threadrelay/threadrelay/store/sqlite"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [turn-id]",
	Short: "List recent turns or inspect one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "Number of turns to list")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	archive, err := sqliteStore.New(filepath.Join(dataDir, "threadrelay.db"))
	if err != nil {
		return fmt.Errorf("opening turn archive: %w", err)
	}
	defer archive.Close()

	if len(args) == 0 {
		turns, err := archive.ListTurns(statusLimit)
		if err != nil {
			return fmt.Errorf("listing turns: %w", err)
		}
		if len(turns) == 0 {
			fmt.Println("No turns recorded.")
			return nil
		}
		fmt.Printf("%-10s %-10s %-12s %-10s %-20s %s\n", "ID", "STATE", "CHANNEL", "THREAD", "STARTED", "PROMPT")
		for _, t := range turns {
			fmt.Printf("%-10s %-10s %-12s %-10s %-20s %s\n",
				t.ID, t.State, t.ChannelID, t.ThreadID,
				t.StartedAt.Format("2006-01-02 15:04:05"), model.Truncate(t.Prompt, 60))
		}
		return nil
	}

	id := args[0]
	turn, err := archive.GetTurn(id)
	if err != nil {
		return fmt.Errorf("loading turn %s: %w", id, err)
	}

	fmt.Printf("Turn:     %s\n", turn.ID)
	fmt.Printf("Channel:  %s\n", turn.ChannelID)
	fmt.Printf("Thread:   %s\n", turn.ThreadID)
	fmt.Printf("User:     %s\n", turn.UserID)
	fmt.Printf("State:    %s\n", turn.State)
	fmt.Printf("Started:  %s\n", turn.StartedAt.Format("2006-01-02 15:04:05"))
	if !turn.CompletedAt.IsZero() {
		fmt.Printf("Finished: %s\n", turn.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Prompt:   %s\n", model.Truncate(turn.Prompt, 500))
	if turn.Response != "" {
		fmt.Printf("Response: %s\n", model.Truncate(turn.Response, 500))
	}
	if turn.Error != "" {
		fmt.Printf("Error:    %s\n", turn.Error)
	}

	events, err := archive.GetEvents(id, 0)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}
	if len(events) > 0 {
		fmt.Println("\nEvents:")
		for _, ev := range events {
			fmt.Printf("  %s  %-16s %s\n",
				ev.CreatedAt.Format("15:04:05"), ev.Type, model.Truncate(ev.Data, 80))
		}
	}

	return nil
}
