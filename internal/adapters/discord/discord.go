// Package discord runs the Discord adapter over the gateway websocket.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/aetherpack/aetherbot/internal/adapters"
	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/dispatcher"
	"github.com/aetherpack/aetherbot/internal/message"
)

const platformID = "discord"

type Adapter struct {
	session *discordgo.Session
	bus     *dispatcher.Dispatcher
	limiter *adapters.SendLimiter
	selfID  string
}

func New(cfg config.DiscordConfig, bus *dispatcher.Dispatcher) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Adapter{
		session: session,
		bus:     bus,
		// Discord rate limits around 5 messages per 5s per channel
		limiter: adapters.NewSendLimiter(1, 5),
	}, nil
}

func (a *Adapter) Name() string { return platformID }

func (a *Adapter) Start(_ context.Context) error {
	a.session.AddHandler(a.handleMessage)
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("resolve bot user: %w", err)
	}
	a.selfID = user.ID
	slog.Info("discord connected", "username", user.Username)
	return nil
}

func (a *Adapter) Stop() error {
	return a.session.Close()
}

func (a *Adapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.selfID || m.Author.Bot {
		return
	}

	msg := &message.Message{
		ID:         m.ID,
		PlatformID: platformID,
		ChatID:     m.ChannelID,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		SelfID:     a.selfID,
		Private:    m.GuildID == "",
		RawText:    m.Content,
		ReceivedAt: time.Now(),
	}
	if m.MessageReference != nil {
		msg.Chain = append(msg.Chain, message.Reply{
			MessageID: m.MessageReference.MessageID,
		})
	}
	for _, u := range m.Mentions {
		msg.Chain = append(msg.Chain, message.Mention{
			TargetID:    u.ID,
			DisplayName: u.Username,
		})
	}
	if text := stripMentionMarkup(m.Content); text != "" {
		msg.Chain = append(msg.Chain, message.Text{Content: text})
	}

	a.bus.Publish(dispatcher.Event{
		Kind:       dispatcher.EventMessageReceived,
		PlatformID: platformID,
		Message:    msg,
	})
}

// stripMentionMarkup removes <@id> tokens; mentions are carried as chain
// components instead.
func stripMentionMarkup(content string) string {
	out := content
	for {
		start := strings.Index(out, "<@")
		if start < 0 {
			break
		}
		end := strings.Index(out[start:], ">")
		if end < 0 {
			break
		}
		out = out[:start] + out[start+end+1:]
	}
	return strings.TrimSpace(out)
}

func (a *Adapter) Send(ctx context.Context, out *message.Outbound) error {
	var b strings.Builder
	var ref *discordgo.MessageReference
	for _, c := range out.Chain {
		switch c.Kind {
		case message.OutQuote:
			ref = &discordgo.MessageReference{MessageID: c.QuoteID, ChannelID: out.ChatID}
		case message.OutMention:
			b.WriteString("<@" + c.TargetID + "> ")
		case message.OutText:
			b.WriteString(c.Text)
		}
	}
	text := b.String()
	if text == "" {
		return nil
	}

	if err := a.limiter.Wait(ctx, out.ChatID); err != nil {
		return err
	}
	send := &discordgo.MessageSend{Content: text, Reference: ref}
	if _, err := a.session.ChannelMessageSendComplex(out.ChatID, send); err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	return nil
}
