// Package lark runs the Feishu/Lark adapter in webhook mode: the open
// platform pushes im.message.receive_v1 events to an HTTP endpoint and
// replies go back through the IM send API.
package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aetherpack/aetherbot/internal/adapters"
	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/dispatcher"
	"github.com/aetherpack/aetherbot/internal/message"
)

const (
	platformID         = "lark"
	defaultDomain      = "https://open.larksuite.com"
	defaultWebhookPath = "/lark/events"
	eventTypeMessage   = "im.message.receive_v1"
)

type Adapter struct {
	cfg     config.LarkConfig
	bus     *dispatcher.Dispatcher
	client  *client
	limiter *adapters.SendLimiter

	botOpenID string
	server    *http.Server
	dedup     sync.Map // event_id -> struct{}
}

func New(cfg config.LarkConfig, bus *dispatcher.Dispatcher) (*Adapter, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("lark: app_id and app_secret are required")
	}
	domain := cfg.Domain
	if domain == "" {
		domain = defaultDomain
	}
	return &Adapter{
		cfg:     cfg,
		bus:     bus,
		client:  newClient(cfg.AppID, cfg.AppSecret, domain),
		limiter: adapters.NewSendLimiter(5, 10),
	}, nil
}

func (a *Adapter) Name() string { return platformID }

func (a *Adapter) Start(ctx context.Context) error {
	if openID, err := a.client.botInfo(ctx); err != nil {
		slog.Warn("lark: bot probe failed, mentions will not wake the bot", "error", err)
	} else {
		a.botOpenID = openID
	}

	path := a.cfg.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}
	addr := a.cfg.WebhookAddr
	if addr == "" {
		addr = ":3000"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, a.handleWebhook)
	a.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("lark: webhook server stopped", "error", err)
		}
	}()
	slog.Info("lark webhook listening", "addr", addr, "path", path)
	return nil
}

func (a *Adapter) Stop() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

// webhookEvent is the envelope the open platform posts. The
// url_verification variant arrives once when the endpoint is registered.
type webhookEvent struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
	Header    struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderID struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
		} `json:"sender"`
		Message larkMessage `json:"message"`
	} `json:"event"`
}

type larkMessage struct {
	MessageID   string `json:"message_id"`
	ChatID      string `json:"chat_id"`
	ChatType    string `json:"chat_type"` // "p2p" or "group"
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	CreateTime  string `json:"create_time"` // unix millis as string
	Mentions    []struct {
		Key string `json:"key"` // placeholder in content, "@_user_1"
		ID  struct {
			OpenID string `json:"open_id"`
		} `json:"id"`
		Name string `json:"name"`
	} `json:"mentions"`
}

func (a *Adapter) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		a.bus.Publish(dispatcher.Event{
			Kind: dispatcher.EventDecodeFailed, PlatformID: platformID,
			Err: fmt.Errorf("lark: decode webhook: %w", err),
		})
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if ev.Type == "url_verification" {
		if a.cfg.VerificationToken != "" && ev.Token != a.cfg.VerificationToken {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"challenge": ev.Challenge})
		return
	}

	if a.cfg.VerificationToken != "" && ev.Header.Token != a.cfg.VerificationToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)

	if ev.Header.EventType != eventTypeMessage {
		return
	}
	// the platform redelivers until acknowledged; drop repeats
	if _, seen := a.dedup.LoadOrStore(ev.Header.EventID, struct{}{}); seen {
		return
	}

	msg := a.decodeMessage(&ev)
	if msg == nil {
		return
	}
	a.bus.Publish(dispatcher.Event{
		Kind:       dispatcher.EventMessageReceived,
		PlatformID: platformID,
		Message:    msg,
	})
}

func (a *Adapter) decodeMessage(ev *webhookEvent) *message.Message {
	m := &ev.Event.Message
	if m.MessageType != "text" {
		return nil
	}

	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(m.Content), &content); err != nil {
		a.bus.Publish(dispatcher.Event{
			Kind: dispatcher.EventDecodeFailed, PlatformID: platformID,
			Err: fmt.Errorf("lark: decode message content: %w", err),
		})
		return nil
	}

	msg := &message.Message{
		ID:         m.MessageID,
		PlatformID: platformID,
		ChatID:     m.ChatID,
		SenderID:   ev.Event.Sender.SenderID.OpenID,
		SelfID:     a.botOpenID,
		Private:    m.ChatType == "p2p",
		RawText:    content.Text,
	}
	if millis, err := strconv.ParseInt(m.CreateTime, 10, 64); err == nil {
		msg.ReceivedAt = time.UnixMilli(millis)
	}

	// mentions appear as "@_user_N" placeholders inside the text;
	// lift them into chain components and drop the placeholders,
	// keeping the surrounding spacing intact
	text := content.Text
	for _, mention := range m.Mentions {
		if mention.Key != "" {
			text = strings.ReplaceAll(text, mention.Key, "")
		}
		msg.Chain = append(msg.Chain, message.Mention{
			TargetID:    mention.ID.OpenID,
			DisplayName: mention.Name,
		})
	}
	if strings.TrimSpace(text) != "" {
		msg.Chain = append(msg.Chain, message.Text{Content: text})
	}
	return msg
}

func (a *Adapter) Send(ctx context.Context, out *message.Outbound) error {
	var b strings.Builder
	for _, c := range out.Chain {
		switch c.Kind {
		case message.OutMention:
			fmt.Fprintf(&b, "<at user_id=%q></at> ", c.TargetID)
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
	return a.client.sendText(ctx, out.ChatID, text)
}
