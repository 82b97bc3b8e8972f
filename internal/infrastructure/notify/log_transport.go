package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogTransport 在未啟用 Telegram 時以日誌取代實際投遞。
type LogTransport struct {
	log zerolog.Logger
}

func NewLogTransport(log zerolog.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) SendMessage(_ context.Context, text string) error {
	t.log.Info().Str("text", text).Msg("notification")
	return nil
}

func (t *LogTransport) SendPhoto(_ context.Context, photoURL, caption string) error {
	t.log.Info().Str("photo", photoURL).Str("caption", caption).Msg("notification")
	return nil
}

func (t *LogTransport) SendDocument(_ context.Context, path, caption string) error {
	t.log.Info().Str("document", path).Str("caption", caption).Msg("notification")
	return nil
}
