// Package telegram bridges Telegram chat messages to the claude CLI.
//
// The dispatcher authorizes every sender against a static allow-list,
// maps commands to session operations, and forwards plain messages to the
// runner, chunking replies to Telegram's message size limit.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/claudegram/claudegram/claude"
	"github.com/claudegram/claudegram/config"
	"github.com/claudegram/claudegram/convlog"
	"github.com/claudegram/claudegram/logger"
	"github.com/claudegram/claudegram/store"
)

const unauthorizedReply = "Sorry, you are not authorized to use this bot."

const helpText = "Hello! I'm a bridge to Claude Code.\n\n" +
	"Send me any message and I'll forward it to Claude.\n\n" +
	"Commands:\n" +
	"/reset - Start a new conversation\n" +
	"/model <name> - Switch model (sonnet/opus/haiku)\n" +
	"/status - Show session info\n" +
	"/logs [n] - Show last n conversations (default 5)\n" +
	"/help - Show this message"

// Runner executes one prompt against the claude CLI.
type Runner interface {
	Run(ctx context.Context, prompt string, sess *store.Session) *claude.Response
}

// apiClient is the slice of tgbotapi.BotAPI the bot uses, extracted so
// tests can substitute a recorder.
type apiClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

// Bot wires the Telegram API to the session store, runner, and
// conversation log.
type Bot struct {
	api    apiClient
	cfg    *config.Config
	store  *store.Store
	runner Runner
	conv   *convlog.Log
	log    *slog.Logger

	// userLocks serializes exchanges per user so two messages from the
	// same person can't interleave session updates. Different users run
	// concurrently.
	userLocks sync.Map // int64 -> *sync.Mutex
}

// New creates a Bot.
func New(api apiClient, cfg *config.Config, st *store.Store, runner Runner, conv *convlog.Log) *Bot {
	return &Bot{
		api:    api,
		cfg:    cfg,
		store:  st,
		runner: runner,
		conv:   conv,
		log:    logger.WithComponent("bot"),
	}
}

// Start long-polls for updates until ctx is cancelled. Each message is
// handled in its own goroutine.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("bot started", "allowedUsers", len(b.cfg.AllowedUserIDs))

	for {
		select {
		case <-ctx.Done():
			b.log.Info("bot stopping")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			go b.handleUpdate(ctx, update.Message)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	if !b.cfg.IsAllowed(userID) {
		b.log.Warn("unauthorized access", "userID", userID, "username", msg.From.UserName)
		b.reply(msg.Chat.ID, unauthorizedReply)
		return
	}

	switch msg.Command() {
	case "start", "help":
		b.handleStart(userID, msg.Chat.ID)
	case "reset":
		b.handleReset(userID, msg.Chat.ID)
	case "model":
		b.handleModel(userID, msg.Chat.ID, msg.CommandArguments())
	case "status":
		b.handleStatus(userID, msg.Chat.ID)
	case "logs":
		b.handleLogs(userID, msg.Chat.ID, msg.CommandArguments())
	case "":
		b.handleMessage(ctx, msg)
	default:
		b.reply(msg.Chat.ID, "Unknown command. Send /help for usage.")
	}
}

func (b *Bot) handleStart(userID, chatID int64) {
	if _, err := b.store.Ensure(userID); err != nil {
		b.log.Error("failed to ensure session", "userID", userID, "error", err)
	}
	b.reply(chatID, helpText)
}

func (b *Bot) handleReset(userID, chatID int64) {
	sess, err := b.store.Reset(userID)
	if err != nil {
		b.log.Error("failed to reset session", "userID", userID, "error", err)
		b.reply(chatID, "Failed to reset session.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Session reset. New session ID: %s...", shortID(sess.SessionID)))
}

func (b *Bot) handleModel(userID, chatID int64, args string) {
	model := strings.TrimSpace(args)
	if model == "" {
		sess, err := b.store.Ensure(userID)
		if err != nil {
			b.log.Error("failed to ensure session", "userID", userID, "error", err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Current model: %s\nUsage: /model <name>", b.modelName(sess)))
		return
	}

	if i := strings.IndexByte(model, ' '); i != -1 {
		model = model[:i]
	}
	if err := b.store.SetModel(userID, model); err != nil {
		b.log.Error("failed to set model", "userID", userID, "error", err)
		b.reply(chatID, "Failed to save model choice.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Model set to: %s", model))
}

func (b *Bot) handleStatus(userID, chatID int64) {
	sess, err := b.store.Ensure(userID)
	if err != nil {
		b.log.Error("failed to ensure session", "userID", userID, "error", err)
		return
	}

	lines := []string{
		fmt.Sprintf("Session ID: %s...", shortID(sess.SessionID)),
		fmt.Sprintf("Model: %s", b.modelName(sess)),
		fmt.Sprintf("Messages: %d", sess.MessageCount),
	}
	if b.cfg.WorkingDir != "" {
		lines = append(lines, fmt.Sprintf("Working dir: %s", b.cfg.WorkingDir))
	}
	if len(b.cfg.AllowedTools) > 0 {
		lines = append(lines, fmt.Sprintf("Allowed tools: %s", strings.Join(b.cfg.AllowedTools, ",")))
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) handleLogs(userID, chatID int64, args string) {
	count := 5
	if args = strings.TrimSpace(args); args != "" {
		if n, err := strconv.Atoi(strings.Fields(args)[0]); err == nil {
			count = n
			if count > 20 {
				count = 20
			}
		}
	}

	entries, err := b.conv.Recent(userID, count)
	if err != nil {
		b.log.Error("failed to read conversation logs", "userID", userID, "error", err)
		b.reply(chatID, "Failed to read conversation logs.")
		return
	}
	if len(entries) == 0 {
		b.reply(chatID, "No conversation logs found.")
		return
	}

	var lines []string
	for _, e := range entries {
		cost := ""
		if e.CostUSD != nil && *e.CostUSD != 0 {
			cost = fmt.Sprintf(" [$%.4f]", *e.CostUSD)
		}
		lines = append(lines, fmt.Sprintf("%s | %s...\n> %s\n%s%s\n",
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			shortID(e.SessionID),
			truncate(e.Prompt, 80),
			truncate(e.ResponsePreview, 80),
			cost))
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

// handleMessage forwards a plain text message to claude and sends back
// the reply.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	text := msg.Text
	if text == "" {
		return
	}

	lock := b.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := b.store.Ensure(userID)
	if err != nil {
		b.log.Error("failed to ensure session", "userID", userID, "error", err)
		b.reply(msg.Chat.ID, "Error: failed to load session state.")
		return
	}

	typingCtx, stopTyping := context.WithCancel(ctx)
	go keepTyping(typingCtx, typingInterval, func() {
		b.sendTyping(msg.Chat.ID)
	})

	resp := b.runner.Run(ctx, text, sess)
	stopTyping()

	// The counter advances even on failure; /status counts attempts.
	if err := b.store.Increment(userID); err != nil {
		b.log.Error("failed to increment session", "userID", userID, "error", err)
	}

	reply := claude.ExtractText(resp)
	costInfo := claude.FormatCost(resp)
	if reply == "" {
		reply = "(empty response from Claude)"
	}

	b.logConversation(msg, sess, text, resp, reply)

	fullReply := reply + costInfo
	if warn := b.budgetWarning(resp); warn != "" {
		fullReply += warn
	}

	b.reply(msg.Chat.ID, fullReply)
}

// budgetWarning returns a trailing warning line when an exchange cost
// more than the configured budget. The budget is advisory; nothing is
// blocked.
func (b *Bot) budgetWarning(resp *claude.Response) string {
	if resp.CostUSD == nil || b.cfg.MaxBudgetUSD <= 0 {
		return ""
	}
	if *resp.CostUSD <= b.cfg.MaxBudgetUSD {
		return ""
	}
	b.log.Warn("exchange exceeded budget",
		"cost", *resp.CostUSD, "budget", b.cfg.MaxBudgetUSD)
	return fmt.Sprintf("\n[warning: cost exceeded budget of $%.2f]", b.cfg.MaxBudgetUSD)
}

func (b *Bot) logConversation(msg *tgbotapi.Message, sess *store.Session, prompt string, resp *claude.Response, reply string) {
	entry := convlog.Entry{
		Timestamp:       time.Now().UTC(),
		UserID:          msg.From.ID,
		Username:        msg.From.UserName,
		SessionID:       sess.SessionID,
		Model:           b.modelName(sess),
		Prompt:          prompt,
		ResponsePreview: reply,
		CostUSD:         resp.CostUSD,
		Error:           resp.Err,
	}
	if err := b.conv.Append(entry); err != nil {
		b.log.Error("failed to log conversation", "error", err)
	}
}

// reply sends text to a chat, split into Telegram-sized chunks.
func (b *Bot) reply(chatID int64, text string) {
	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		m := tgbotapi.NewMessage(chatID, chunk)
		if _, err := b.api.Send(m); err != nil {
			b.log.Error("failed to send message", "chatID", chatID, "error", err)
		}
	}
}

func (b *Bot) sendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := b.api.Request(action); err != nil {
		b.log.Debug("failed to send typing action", "chatID", chatID, "error", err)
	}
}

func (b *Bot) userLock(userID int64) *sync.Mutex {
	v, _ := b.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// modelName resolves the display name: session override, then configured
// default, then "default".
func (b *Bot) modelName(sess *store.Session) string {
	if sess.Model != "" {
		return sess.Model
	}
	if b.cfg.Model != "" {
		return b.cfg.Model
	}
	return "default"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
