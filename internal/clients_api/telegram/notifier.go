package telegram

import (
	"context"
	"fmt"
	"os"

	logging "nuke-rewards/internal/infra/log"

	"github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Telegram caps photo captions at 1024 characters.
const maxCaptionLength = 1024

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts HTML messages to one chat.
type Notifier struct {
	bot    Sender
	chatID int64
}

// NewBot authorizes a bot token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize telegram bot")
	}
	logging.LogSuccess("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return bot, nil
}

func NewNotifier(bot Sender, chatID string) (*Notifier, error) {
	if bot == nil {
		return nil, errors.New("telegram bot is required")
	}
	id := parseChatIDBig(chatID)
	if id == 0 {
		return nil, errors.Newf("invalid telegram chat id %q", chatID)
	}
	return &Notifier{bot: bot, chatID: id}, nil
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return errors.Wrap(err, "failed to send telegram message")
	}
	return nil
}

// SendChart posts the chart at path with caption, falling back to a plain
// message when the chart is missing or the upload fails.
func (n *Notifier) SendChart(ctx context.Context, path, caption string) error {
	if path != "" && len(caption) <= maxCaptionLength {
		if _, err := os.Stat(path); err != nil {
			logging.LogError("Chart file does not exist", zap.String("chartPath", path), zap.Error(err))
		} else {
			photo := tgbotapi.NewPhoto(n.chatID, tgbotapi.FilePath(path))
			photo.Caption = caption
			photo.ParseMode = tgbotapi.ModeHTML
			_, err := n.bot.Send(photo)
			if err == nil {
				return nil
			}
			logging.LogError("Failed to send chart", zap.Error(err))
		}
	}
	return n.Notify(ctx, caption)
}

func parseChatIDBig(chatIDStr string) int64 {
	var chatID int64
	fmt.Sscanf(chatIDStr, "%d", &chatID)
	return chatID
}
