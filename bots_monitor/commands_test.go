package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"nuke-rewards/internal/features/rewards"
	"nuke-rewards/internal/infra/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChatID int64 = -100500

type fakeBot struct {
	sent    []tgbotapi.MessageConfig
	updates chan tgbotapi.Update
	stopped bool
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() { b.stopped = true }

type fakeState struct {
	st      rewards.SchedulerState
	running bool
}

func (f fakeState) State() (rewards.SchedulerState, error) { return f.st, nil }
func (f fakeState) Running() bool                          { return f.running }

type fakeReporter struct{ calls int }

func (f *fakeReporter) Send(context.Context) error {
	f.calls++
	return nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func command(chatID int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func newHandler(t *testing.T, reporter ReportSender) (*CommandHandler, *fakeBot, *rewards.Ledger, *rewards.KVHistory) {
	t.Helper()
	kv, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(now)
	ledger, err := rewards.NewLedger(kv, clock, 2)
	require.NoError(t, err)
	history := rewards.NewKVHistory(kv, 0)

	bot := &fakeBot{updates: make(chan tgbotapi.Update)}
	h, err := NewCommandHandler(bot, "-100500", Deps{
		State: fakeState{st: rewards.SchedulerState{
			LastRunAt:  now.Add(-2 * time.Hour),
			RewardPool: 1_500_000_000,
		}},
		Ledger:      ledger,
		History:     history,
		Reporter:    reporter,
		Clock:       clock,
		MinInterval: 6 * time.Hour,
	})
	require.NoError(t, err)
	return h, bot, ledger, history
}

func TestNewCommandHandler_RejectsBadChatID(t *testing.T) {
	_, err := NewCommandHandler(&fakeBot{}, "chat", Deps{})
	assert.Error(t, err)
}

func TestHandleUpdate_IgnoresOtherChats(t *testing.T) {
	h, bot, _, _ := newHandler(t, nil)

	h.HandleUpdate(context.Background(), command(42, "/status"))
	h.HandleUpdate(context.Background(), tgbotapi.Update{})

	assert.Empty(t, bot.sent)
}

func TestHandleUpdate_Status(t *testing.T) {
	h, bot, ledger, _ := newHandler(t, nil)
	require.NoError(t, ledger.Add("wallet1", decimal.RequireFromString("0.25")))

	h.HandleUpdate(context.Background(), command(testChatID, "/status"))

	require.Len(t, bot.sent, 1)
	reply := bot.sent[0]
	assert.Equal(t, tgbotapi.ModeHTML, reply.ParseMode)
	assert.Equal(t, 7, reply.ReplyToMessageID)
	assert.Contains(t, reply.Text, "State: idle")
	assert.Contains(t, reply.Text, "Next cycle in: 4h0m0s")
	assert.Contains(t, reply.Text, "Reward pool: 1.5 SOL")
	assert.Contains(t, reply.Text, "Owed to holders: 0.25 SOL")
}

func TestHandleUpdate_Ledger(t *testing.T) {
	h, bot, ledger, _ := newHandler(t, nil)

	h.HandleUpdate(context.Background(), command(testChatID, "/ledger"))
	require.Len(t, bot.sent, 1)
	assert.Contains(t, bot.sent[0].Text, "Nothing owed")

	require.NoError(t, ledger.Add("SmallWallet1111111111111111111111", decimal.RequireFromString("0.1")))
	require.NoError(t, ledger.Add("BigWallet22222222222222222222222", decimal.RequireFromString("2")))
	for i := 0; i < 2; i++ {
		_, _, err := ledger.RecordFailure("BigWallet22222222222222222222222", "timeout")
		require.NoError(t, err)
	}

	h.HandleUpdate(context.Background(), command(testChatID, "/ledger"))
	require.Len(t, bot.sent, 2)
	text := bot.sent[1].Text
	assert.Contains(t, text, "2 wallet(s), 1 flagged")
	assert.Contains(t, text, "🚩")
	assert.Less(t, strings.Index(text, "BigWalle"), strings.Index(text, "SmallWal"))
}

func TestHandleUpdate_LastCycle(t *testing.T) {
	h, bot, _, history := newHandler(t, nil)

	h.HandleUpdate(context.Background(), command(testChatID, "/last"))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, "No cycles recorded yet", bot.sent[0].Text)

	_, err := history.Append(rewards.CycleRecord{ID: rewards.CycleID(now), StartedAt: now, TotalDistributed: 700_000_000})
	require.NoError(t, err)

	h.HandleUpdate(context.Background(), command(testChatID, "/last"))
	require.Len(t, bot.sent, 2)
	assert.Contains(t, bot.sent[1].Text, "0.7 SOL")
}

func TestHandleUpdate_Report(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h, bot, _, _ := newHandler(t, nil)
		h.HandleUpdate(context.Background(), command(testChatID, "/report"))
		require.Len(t, bot.sent, 1)
		assert.Contains(t, bot.sent[0].Text, "not enabled")
	})

	t.Run("sends report without extra reply", func(t *testing.T) {
		reporter := &fakeReporter{}
		h, bot, _, _ := newHandler(t, reporter)
		h.HandleUpdate(context.Background(), command(testChatID, "/report"))
		assert.Equal(t, 1, reporter.calls)
		assert.Empty(t, bot.sent)
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	h, bot, _, _ := newHandler(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	bot.updates <- command(testChatID, "/helps")
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not stop")
	}
	assert.True(t, bot.stopped)
	require.Len(t, bot.sent, 1)
	assert.Contains(t, bot.sent[0].Text, "/status")
}
