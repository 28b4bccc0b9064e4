package notifier

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/phuslu/log"
)

// Reply is the answer to one chat command. Photo, when set, is sent before
// Text.
type Reply struct {
	Text      string
	Photo     []byte
	PhotoName string
	Caption   string
}

// CommandHandler answers the raw text of a chat message.
type CommandHandler func(ctx context.Context, text string) Reply

// StartPolling long-polls for chat commands. Blocks until ctx is cancelled.
// Messages from chats other than the configured one are ignored.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	log.Info().Msg("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			log.Info().Msg("telegram polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.dispatch(ctx, update, handler)
		}
	}
}

func (t *TelegramNotifier) dispatch(ctx context.Context, update tgbotapi.Update, handler CommandHandler) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.Chat.ID != t.chatID {
		log.Warn().Int64("chat", msg.Chat.ID).Msg("ignoring message from unknown chat")
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	log.Info().Str("text", text).Msg("received command")

	reply := handler(ctx, text)
	if len(reply.Photo) > 0 {
		name := reply.PhotoName
		if name == "" {
			name = "chart.png"
		}
		if err := t.SendPhoto(ctx, name, reply.Photo, reply.Caption); err != nil {
			log.Error().Err(err).Msg("send photo reply")
		}
	}
	if reply.Text != "" {
		if err := t.Send(ctx, reply.Text); err != nil {
			log.Error().Err(err).Msg("send reply")
		}
	}
}
