package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/kenes-ai/kenes/internal/runtime"
)

// BotClient wraps the Telegram bot operations the gateway uses, so tests
// can inject a mock instead of a live API client.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// NewBotClient dials the Telegram API with the given token.
func NewBotClient(token string) (BotClient, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

// telegramEvent maps a webhook update onto the inbound event contract.
// The update ID is the channel-supplied dedupe key; Telegram retries a
// webhook with the same update ID until it sees a 2xx.
func telegramEvent(tenantID uuid.UUID, u *tgmodels.Update) (runtime.InboundEvent, bool) {
	if u == nil || u.Message == nil || u.Message.Text == "" {
		return runtime.InboundEvent{}, false
	}
	return runtime.InboundEvent{
		TenantID:        tenantID,
		Source:          runtime.SourceTelegram,
		DedupeKey:       "telegram:" + strconv.FormatInt(u.ID, 10),
		Message:         u.Message.Text,
		ConversationRef: "telegram:" + strconv.FormatInt(u.Message.Chat.ID, 10),
	}, true
}

// TelegramNotifier delivers scheduler notifications over Telegram. It
// learns each tenant's chat from inbound traffic: the last chat a tenant
// wrote from is where proactive messages go.
type TelegramNotifier struct {
	client BotClient

	mu    sync.RWMutex
	chats map[uuid.UUID]int64
}

// NewTelegramNotifier creates a notifier over the given client.
func NewTelegramNotifier(client BotClient) *TelegramNotifier {
	return &TelegramNotifier{client: client, chats: make(map[uuid.UUID]int64)}
}

// Bind records the tenant's chat for outbound delivery.
func (n *TelegramNotifier) Bind(tenantID uuid.UUID, chatID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chats[tenantID] = chatID
}

// Send implements reminder.Notifier.
func (n *TelegramNotifier) Send(ctx context.Context, tenantID uuid.UUID, text string) error {
	n.mu.RLock()
	chatID, ok := n.chats[tenantID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no telegram chat bound for tenant %s", tenantID)
	}
	_, err := n.client.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
