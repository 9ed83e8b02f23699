package telegram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	sent      []tgbotapi.Chattable
	failPhoto bool
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if _, ok := c.(tgbotapi.PhotoConfig); ok && b.failPhoto {
		return tgbotapi.Message{}, errors.New("upload failed")
	}
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func TestNewNotifier_RejectsBadChatID(t *testing.T) {
	_, err := NewNotifier(&fakeBot{}, "not-a-number")
	assert.Error(t, err)
}

func TestNotify_SendsHTML(t *testing.T) {
	bot := &fakeBot{}
	n, err := NewNotifier(bot, "-100123")
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), "<b>hi</b>"))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Equal(t, "<b>hi</b>", msg.Text)
}

func TestSendChart_FallsBackToText(t *testing.T) {
	chart := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, os.WriteFile(chart, []byte("png"), 0644))

	t.Run("photo", func(t *testing.T) {
		bot := &fakeBot{}
		n, err := NewNotifier(bot, "1")
		require.NoError(t, err)
		require.NoError(t, n.SendChart(context.Background(), chart, "caption"))
		require.Len(t, bot.sent, 1)
		_, ok := bot.sent[0].(tgbotapi.PhotoConfig)
		assert.True(t, ok)
	})

	t.Run("upload fails", func(t *testing.T) {
		bot := &fakeBot{failPhoto: true}
		n, err := NewNotifier(bot, "1")
		require.NoError(t, err)
		require.NoError(t, n.SendChart(context.Background(), chart, "caption"))
		require.Len(t, bot.sent, 1)
		_, ok := bot.sent[0].(tgbotapi.MessageConfig)
		assert.True(t, ok)
	})

	t.Run("missing file", func(t *testing.T) {
		bot := &fakeBot{}
		n, err := NewNotifier(bot, "1")
		require.NoError(t, err)
		require.NoError(t, n.SendChart(context.Background(), filepath.Join(t.TempDir(), "nope.png"), "caption"))
		require.Len(t, bot.sent, 1)
		_, ok := bot.sent[0].(tgbotapi.MessageConfig)
		assert.True(t, ok)
	})
}
