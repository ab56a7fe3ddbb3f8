package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Telegram delivers through a bot. Address is a numeric chat id or an
// @channel username; DefaultChatID is used when the address is empty.
type Telegram struct {
	bot           *telego.Bot
	defaultChatID string
}

// NewTelegram creates a bot client. Extra options are passed to telego,
// e.g. telego.WithAPIServer for a self-hosted Bot API.
func NewTelegram(token, defaultChatID string, opts ...telego.BotOption) (*Telegram, error) {
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, defaultChatID: defaultChatID}, nil
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	address := msg.Address
	if address == "" {
		address = t.defaultChatID
	}
	chatID, err := parseChatID(address)
	if err != nil {
		return err
	}

	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + "\n\n" + msg.Body
	}
	if _, err := t.bot.SendMessage(ctx, tu.Message(chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func parseChatID(address string) (telego.ChatID, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return telego.ChatID{}, ErrNoAddress
	}
	if strings.HasPrefix(address, "@") {
		return tu.Username(address), nil
	}
	id, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("telegram chat id %q: %w", address, err)
	}
	return tu.ID(id), nil
}
