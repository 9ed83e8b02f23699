package bot

// Package bot answers Telegram commands about the reward engine in the
// notification chat: /status, /ledger, /last, /report and /helps.

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"nuke-rewards/internal/features/rewards"
	log "nuke-rewards/internal/infra/log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	ledgerTopN     = 10
	commandTimeout = 2 * time.Minute
)

// BotAPI is the part of *tgbotapi.BotAPI the handler uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// StateSource is satisfied by *rewards.Scheduler.
type StateSource interface {
	State() (rewards.SchedulerState, error)
	Running() bool
}

// ReportSender is satisfied by *report.Reporter.
type ReportSender interface {
	Send(ctx context.Context) error
}

type Deps struct {
	State       StateSource
	Ledger      *rewards.Ledger
	History     rewards.HistoryStore
	Reporter    ReportSender // optional, /report is disabled without it
	Clock       clockwork.Clock
	MinInterval time.Duration
}

type CommandHandler struct {
	bot    BotAPI
	chatID int64
	deps   Deps
}

func NewCommandHandler(bot BotAPI, chatID string, deps Deps) (*CommandHandler, error) {
	if bot == nil {
		return nil, fmt.Errorf("bot is nil")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	if deps.State == nil || deps.Ledger == nil || deps.History == nil {
		return nil, fmt.Errorf("state, ledger and history are required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &CommandHandler{bot: bot, chatID: id, deps: deps}, nil
}

// Run long-polls updates until ctx is done. Messages from other chats are ignored.
func (h *CommandHandler) Run(ctx context.Context) {
	log.LogInfo("Starting command handler", zap.Int64("chatID", h.chatID))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := h.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			log.LogInfo("Command handler stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, update)
		}
	}
}

func (h *CommandHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.Chat == nil || !message.IsCommand() {
		return
	}
	if message.Chat.ID != h.chatID {
		return
	}

	command := message.Command()
	username := ""
	if message.From != nil {
		username = message.From.UserName
	}
	log.LogDebug("Received command",
		zap.String("command", command),
		zap.String("args", message.CommandArguments()),
		zap.String("username", username))

	var text string
	switch command {
	case "status":
		text = h.statusText()
	case "ledger":
		text = h.ledgerText()
	case "last":
		text = h.lastCycleText()
	case "report":
		text = h.sendReport(ctx)
	case "helps", "help":
		text = helpText
	default:
		return
	}
	if text == "" {
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = message.MessageID
	msg.DisableWebPagePreview = true
	if _, err := h.bot.Send(msg); err != nil {
		log.LogError("Failed to send command reply", zap.String("command", command), zap.Error(err))
	}
}

const helpText = "" +
	"Commands:\n" +
	"• <code>/status</code> - last cycle, next cycle and reward pool\n" +
	"• <code>/ledger</code> - largest unpaid rewards and flagged wallets\n" +
	"• <code>/last</code> - summary of the last cycle\n" +
	"• <code>/report</code> - post the daily report now\n"

const errorText = "An error occurred, please try again later"

func (h *CommandHandler) statusText() string {
	st, err := h.deps.State.State()
	if err != nil {
		log.LogError("Failed to load scheduler state", zap.Error(err))
		return errorText
	}
	owed, err := h.deps.Ledger.Total()
	if err != nil {
		log.LogError("Failed to read ledger total", zap.Error(err))
		return errorText
	}

	var message strings.Builder
	message.WriteString("⚙️ <b>Reward engine</b>\n<blockquote>")
	if h.deps.State.Running() {
		message.WriteString("State: running\n")
	} else {
		message.WriteString("State: idle\n")
	}
	if st.LastRunAt.IsZero() {
		message.WriteString("Last cycle: never\n")
	} else {
		message.WriteString(fmt.Sprintf("Last cycle: %s\n", st.LastRunAt.UTC().Format("02 Jan 15:04 MST")))
		next := st.LastRunAt.Add(h.deps.MinInterval)
		if now := h.deps.Clock.Now(); next.After(now) {
			message.WriteString(fmt.Sprintf("Next cycle in: %s\n", next.Sub(now).Round(time.Minute)))
		}
	}
	message.WriteString(fmt.Sprintf("Reward pool: %s\n", rewards.FormatSOL(st.RewardPool)))
	message.WriteString(fmt.Sprintf("Owed to holders: %s SOL", owed.String()))
	message.WriteString("</blockquote>")
	return message.String()
}

func (h *CommandHandler) ledgerText() string {
	entries, err := h.deps.Ledger.Entries()
	if err != nil {
		log.LogError("Failed to read ledger", zap.Error(err))
		return errorText
	}
	if len(entries) == 0 {
		return "✅ Nothing owed, every holder is paid up"
	}

	wallets := make([]string, 0, len(entries))
	flagged := 0
	for w, e := range entries {
		wallets = append(wallets, w)
		if e.Flagged {
			flagged++
		}
	}
	sort.Slice(wallets, func(i, j int) bool {
		a, b := entries[wallets[i]].Amount, entries[wallets[j]].Amount
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return wallets[i] < wallets[j]
	})

	var message strings.Builder
	message.WriteString(fmt.Sprintf("📒 <b>Unpaid rewards</b>: %d wallet(s), %d flagged\n<blockquote>", len(entries), flagged))
	for i, w := range wallets {
		if i == ledgerTopN {
			message.WriteString(fmt.Sprintf("... and %d more\n", len(wallets)-ledgerTopN))
			break
		}
		e := entries[w]
		mark := ""
		if e.Flagged {
			mark = " 🚩"
		}
		message.WriteString(fmt.Sprintf("<code>%s</code> %s SOL (retries %d)%s\n", rewards.FormatWallet(w), e.Amount.String(), e.RetryCount, mark))
	}
	message.WriteString("</blockquote>")
	return message.String()
}

func (h *CommandHandler) lastCycleText() string {
	records, err := h.deps.History.List(1)
	if err != nil {
		log.LogError("Failed to read history", zap.Error(err))
		return errorText
	}
	if len(records) == 0 {
		return "No cycles recorded yet"
	}
	return rewards.FormatCycleSummary(&records[0])
}

// sendReport posts the report itself, so the reply is empty on success.
func (h *CommandHandler) sendReport(ctx context.Context) string {
	if h.deps.Reporter == nil {
		return "Daily report is not enabled"
	}
	rctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := h.deps.Reporter.Send(rctx); err != nil {
		log.LogError("Failed to send report on command", zap.Error(err))
		return errorText
	}
	return ""
}
