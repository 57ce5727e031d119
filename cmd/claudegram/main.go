// Command claudegram runs a Telegram bot that bridges chat messages to
// the claude CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/claudegram/claudegram/claude"
	"github.com/claudegram/claudegram/config"
	"github.com/claudegram/claudegram/convlog"
	"github.com/claudegram/claudegram/exec"
	"github.com/claudegram/claudegram/logger"
	"github.com/claudegram/claudegram/paths"
	"github.com/claudegram/claudegram/store"
	"github.com/claudegram/claudegram/telegram"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:           "claudegram",
		Short:         "Telegram bridge to the claude CLI",
		Long:          "claudegram forwards Telegram messages to the claude CLI,\nkeeping one persistent conversation per authorized user.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(debug)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func run(debug bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.SetDebug(debug)
	defer logger.Close()
	log := logger.WithComponent("main")

	sessionsPath, err := paths.SessionsFilePath()
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}
	st, err := store.New(sessionsPath)
	if err != nil {
		return err
	}

	convDir, err := paths.ConversationsDir()
	if err != nil {
		return fmt.Errorf("failed to resolve state directory: %w", err)
	}
	conv := convlog.New(convDir)

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	log.Info("authorized on Telegram", "username", api.Self.UserName)

	runner := claude.NewRunner(exec.NewRealExecutor(), claude.Options{
		WorkingDir:   cfg.WorkingDir,
		DefaultModel: cfg.Model,
		AllowedTools: cfg.AllowedTools,
		Timeout:      cfg.Timeout(),
	})

	bot := telegram.New(api, cfg, st, runner, conv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting", "allowedUsers", len(cfg.AllowedUserIDs), "sessions", st.Count())
	bot.Start(ctx)

	log.Info("shut down cleanly")
	return nil
}
