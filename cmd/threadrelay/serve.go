package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	threadrelay "github.com/threadrelay/threadrelay"
	"github.com/threadrelay/threadrelay/gateway"
	slackGateway "github.com/threadrelay/threadrelay/gateway/slack"
	telegramGateway "github.com/threadrelay/threadrelay/gateway/telegram"
	"github.com/threadrelay/threadrelay/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ThreadRelay bridge",
	Long:  "Start the bridge that relays chat-thread messages to the agent backend and serves the local action API.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// The flag wins over the environment; Load derives all paths from it.
	if dataDir != "" {
		os.Setenv("THREADRELAY_DATA_DIR", dataDir)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// One transport is the outbound surface. Slack wins when both are
	// configured; Telegram message ids would not resolve through Slack.
	var (
		gw        gateway.Gateway
		transport gateway.Transport
	)
	switch {
	case cfg.SlackEnabled():
		bot, err := slackGateway.NewBot(cfg.SlackBotToken, cfg.SlackAppToken)
		if err != nil {
			return fmt.Errorf("initializing Slack bot: %w", err)
		}
		gw, transport = bot, bot
		fmt.Println("Slack transport enabled (Socket Mode)")
		if cfg.TelegramEnabled() {
			fmt.Println("Warning: TELEGRAM_BOT_TOKEN ignored, Slack takes precedence")
		}
	case cfg.TelegramEnabled():
		bot, err := telegramGateway.NewBot(cfg.TelegramBotToken)
		if err != nil {
			return fmt.Errorf("initializing Telegram bot: %w", err)
		}
		gw, transport = bot, bot
		fmt.Println("Telegram transport enabled (long polling)")
	}

	app, err := threadrelay.NewBuilder().
		WithConfig(threadrelay.Config{
			ServerAddr:         cfg.ServerAddr,
			DataDir:            cfg.DataDir,
			SessionsDir:        cfg.SessionsDir,
			SettingsPath:       cfg.SettingsPath,
			ArchivePath:        cfg.ArchivePath,
			BackendURL:         cfg.BackendURL,
			ActionToken:        cfg.ActionToken,
			DefaultWorkingDir:  cfg.DefaultWorkingDir,
			ActiveThreadWindow: cfg.ActiveThreadWindow,
		}).
		WithGateway(gw).
		WithTransport(transport).
		Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}
