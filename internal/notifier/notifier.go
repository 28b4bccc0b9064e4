package notifier

import "context"

// Notifier delivers operator messages. Text is HTML formatted.
type Notifier interface {
	Send(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, name string, png []byte, caption string) error
}

// NoopNotifier is used when Telegram is not configured.
type NoopNotifier struct{}

func (NoopNotifier) Send(context.Context, string) error { return nil }

func (NoopNotifier) SendPhoto(context.Context, string, []byte, string) error { return nil }

var (
	_ Notifier = NoopNotifier{}
	_ Notifier = (*TelegramNotifier)(nil)
)
