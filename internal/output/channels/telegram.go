package channels

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/config"
)

// MaxMessageSize is the Telegram limit in UTF-16 code units.
const MaxMessageSize = 4096

// botSender is the subset of *tgbotapi.BotAPI the channel uses.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts payloads to one chat through the Bot API.
type Telegram struct {
	api    botSender
	chatID int64
	logger *zerolog.Logger
}

// NewTelegram authenticates the bot token.
func NewTelegram(cfg config.TelegramConfig, logger *zerolog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating bot API: %w", err)
	}

	return newTelegram(api, cfg.ChatID, logger), nil
}

func newTelegram(api botSender, chatID int64, logger *zerolog.Logger) *Telegram {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Telegram{api: api, chatID: chatID, logger: logger}
}

// Name returns the channel name.
func (t *Telegram) Name() string { return NameTelegram }

// Send posts the rendered report, split into as many messages as needed.
func (t *Telegram) Send(ctx context.Context, payload ports.PushPayload) error {
	parts := SplitMessage(RenderHTML(payload), MaxMessageSize)

	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true

		if _, err := t.api.Send(msg); err != nil {
			return fmt.Errorf("sending part %d to chat %d: %w", i+1, t.chatID, err)
		}
	}

	t.logger.Debug().Str("push_id", payload.PushID).Int("parts", len(parts)).Msg("telegram push sent")

	return nil
}

// utf16Len returns the number of UTF-16 code units needed to encode s.
// Telegram counts message length in UTF-16 code units.
func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// SplitMessage splits text into parts of at most limit UTF-16 units,
// breaking at line boundaries where possible.
func SplitMessage(text string, limit int) []string {
	if utf16Len(text) <= limit {
		return []string{text}
	}

	var (
		parts []string
		cur   strings.Builder
		size  int
	)

	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			size = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf16Len(line)

		if size+n > limit {
			flush()
		}

		for n > limit {
			head, tail := splitUnits(line, limit)
			parts = append(parts, head)
			line = tail
			n = utf16Len(line)
		}

		cur.WriteString(line)
		size += n
	}

	flush()

	return parts
}

// splitUnits cuts s after at most maxUnits UTF-16 code units.
func splitUnits(s string, maxUnits int) (head, tail string) {
	units := 0

	for i, r := range s {
		w := 1
		if r > 0xFFFF {
			w = 2
		}

		if units+w > maxUnits {
			return s[:i], s[i:]
		}

		units += w
	}

	return s, ""
}
