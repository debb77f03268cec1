// Package telegram runs the Telegram adapter in long-polling mode.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"

	"github.com/aetherpack/aetherbot/internal/adapters"
	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/dispatcher"
	"github.com/aetherpack/aetherbot/internal/message"
)

const platformID = "telegram"

type Adapter struct {
	bot     *telego.Bot
	bus     *dispatcher.Dispatcher
	limiter *adapters.SendLimiter

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig, bus *dispatcher.Dispatcher) (*Adapter, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Adapter{
		bot: bot,
		bus: bus,
		// Telegram allows about one message per second per chat
		limiter: adapters.NewSendLimiter(1, 1),
	}, nil
}

func (a *Adapter) Name() string { return platformID }

func (a *Adapter) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel
	a.pollDone = make(chan struct{})

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}
	slog.Info("telegram connected", "username", a.bot.Username())

	go func() {
		defer close(a.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					a.handleMessage(update.Message)
				}
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop() error {
	if a.pollCancel != nil {
		a.pollCancel()
		<-a.pollDone
	}
	return nil
}

func (a *Adapter) handleMessage(m *telego.Message) {
	if m.From == nil {
		return
	}

	msg := &message.Message{
		ID:         strconv.Itoa(m.MessageID),
		PlatformID: platformID,
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		SenderID:   strconv.FormatInt(m.From.ID, 10),
		SenderName: m.From.FirstName,
		SelfID:     a.bot.Username(),
		Private:    m.Chat.Type == "private",
		RawText:    m.Text,
		ReceivedAt: time.Unix(int64(m.Date), 0),
	}
	if m.From.Username != "" {
		msg.SenderName = m.From.Username
	}
	if m.ReplyToMessage != nil {
		msg.Chain = append(msg.Chain, message.Reply{
			MessageID: strconv.Itoa(m.ReplyToMessage.MessageID),
			Summary:   m.ReplyToMessage.Text,
		})
	}
	msg.Chain = append(msg.Chain, decodeEntities(m.Text, m.Entities)...)

	a.bus.Publish(dispatcher.Event{
		Kind:       dispatcher.EventMessageReceived,
		PlatformID: platformID,
		Message:    msg,
	})
}

// decodeEntities splits the text into mention and text components.
// Entity offsets count UTF-16 code units per the Bot API.
func decodeEntities(text string, entities []telego.MessageEntity) []message.Component {
	if text == "" {
		return nil
	}
	units := utf16.Encode([]rune(text))

	var chain []message.Component
	cursor := 0
	for _, e := range entities {
		if e.Type != "mention" {
			continue
		}
		if e.Offset < cursor || e.Offset+e.Length > len(units) {
			continue
		}
		if e.Offset > cursor {
			chain = append(chain, message.Text{
				Content: string(utf16.Decode(units[cursor:e.Offset])),
			})
		}
		handle := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
		chain = append(chain, message.Mention{
			TargetID:    strings.TrimPrefix(handle, "@"),
			DisplayName: strings.TrimPrefix(handle, "@"),
		})
		cursor = e.Offset + e.Length
	}
	if cursor < len(units) {
		chain = append(chain, message.Text{
			Content: string(utf16.Decode(units[cursor:])),
		})
	}
	return chain
}

func (a *Adapter) Send(ctx context.Context, out *message.Outbound) error {
	chatID, err := strconv.ParseInt(out.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", out.ChatID, err)
	}

	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
	}
	var b strings.Builder
	for _, c := range out.Chain {
		switch c.Kind {
		case message.OutQuote:
			if id, err := strconv.Atoi(c.QuoteID); err == nil {
				params.ReplyParameters = &telego.ReplyParameters{MessageID: id}
			}
		case message.OutMention:
			b.WriteString("@" + c.TargetID + " ")
		case message.OutText:
			b.WriteString(c.Text)
		}
	}
	params.Text = b.String()
	if params.Text == "" {
		return nil
	}

	if err := a.limiter.Wait(ctx, out.ChatID); err != nil {
		return err
	}
	if _, err := a.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}
