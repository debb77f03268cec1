// Package dingtalk runs the DingTalk adapter in stream mode: the
// gateway registers a connection, receives bot callbacks over a
// websocket, and replies through the per-conversation session webhook.
package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aetherpack/aetherbot/internal/adapters"
	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/dispatcher"
	"github.com/aetherpack/aetherbot/internal/message"
)

const (
	platformID  = "dingtalk"
	openAPIBase = "https://api.dingtalk.com"
	botMsgTopic = "/v1.0/im/bot/messages/get"
	webhookTTL  = 90 * time.Minute
	dialTimeout = 15 * time.Second
)

type Adapter struct {
	cfg     config.DingTalkConfig
	bus     *dispatcher.Dispatcher
	limiter *adapters.SendLimiter
	http    *http.Client

	mu       sync.Mutex
	conn     *websocket.Conn
	webhooks map[string]sessionWebhook

	cancel context.CancelFunc
	done   chan struct{}
}

// sessionWebhook is the reply URL DingTalk issues per callback; it
// expires, so replies are only possible shortly after a message.
type sessionWebhook struct {
	url       string
	expiresAt time.Time
}

func New(cfg config.DingTalkConfig, bus *dispatcher.Dispatcher) *Adapter {
	return &Adapter{
		cfg:      cfg,
		bus:      bus,
		limiter:  adapters.NewSendLimiter(1, 3),
		http:     &http.Client{Timeout: 30 * time.Second},
		webhooks: make(map[string]sessionWebhook),
	}
}

func (a *Adapter) Name() string { return platformID }

func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	conn, err := a.connect(runCtx)
	if err != nil {
		cancel()
		return err
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	slog.Info("dingtalk connected")

	go a.readLoop(runCtx)
	return nil
}

func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
		a.mu.Lock()
		if a.conn != nil {
			a.conn.Close(websocket.StatusNormalClosure, "shutdown")
		}
		a.mu.Unlock()
		<-a.done
	}
	return nil
}

// connect performs the stream-mode handshake: open a gateway connection
// to obtain an endpoint and ticket, then dial the websocket.
func (a *Adapter) connect(ctx context.Context) (*websocket.Conn, error) {
	payload, _ := json.Marshal(map[string]any{
		"clientId":     a.cfg.ClientID,
		"clientSecret": a.cfg.ClientSecret,
		"subscriptions": []map[string]string{
			{"type": "CALLBACK", "topic": botMsgTopic},
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		openAPIBase+"/v1.0/gateway/connections/open", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dingtalk: open gateway connection: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("dingtalk: gateway registration failed: http %d: %s", resp.StatusCode, body)
	}

	var reg struct {
		Endpoint string `json:"endpoint"`
		Ticket   string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return nil, fmt.Errorf("dingtalk: decode registration: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, reg.Endpoint+"?ticket="+reg.Ticket, nil)
	if err != nil {
		return nil, fmt.Errorf("dingtalk: dial stream: %w", err)
	}
	return conn, nil
}

type streamFrame struct {
	Type    string `json:"type"`
	Headers struct {
		MessageID string `json:"messageId"`
		Topic     string `json:"topic"`
	} `json:"headers"`
	Data string `json:"data"`
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer close(a.done)
	backoff := time.Second
	for {
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()

		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("dingtalk: stream lost, reconnecting", "error", err, "backoff", backoff)
			a.bus.Publish(dispatcher.Event{Kind: dispatcher.EventDisconnected, PlatformID: platformID})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			fresh, connErr := a.connect(ctx)
			if connErr != nil {
				continue
			}
			a.mu.Lock()
			a.conn = fresh
			a.mu.Unlock()
			backoff = time.Second
			a.bus.Publish(dispatcher.Event{Kind: dispatcher.EventConnected, PlatformID: platformID})
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			a.bus.Publish(dispatcher.Event{
				Kind: dispatcher.EventDecodeFailed, PlatformID: platformID,
				Err: fmt.Errorf("dingtalk: decode frame: %w", err),
			})
			continue
		}
		a.ack(ctx, conn, frame.Headers.MessageID)
		if frame.Type == "CALLBACK" && frame.Headers.Topic == botMsgTopic {
			a.handleCallback(frame.Data)
		}
	}
}

// ack confirms receipt; unacked frames are redelivered.
func (a *Adapter) ack(ctx context.Context, conn *websocket.Conn, messageID string) {
	resp, _ := json.Marshal(map[string]any{
		"code":    200,
		"message": "OK",
		"headers": map[string]string{
			"contentType": "application/json",
			"messageId":   messageID,
		},
		"data": "{}",
	})
	if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
		slog.Warn("dingtalk: ack failed", "error", err)
	}
}

type botCallback struct {
	MsgID            string `json:"msgId"`
	ConversationID   string `json:"conversationId"`
	ConversationType string `json:"conversationType"` // "1" private, "2" group
	SenderStaffID    string `json:"senderStaffId"`
	SenderID         string `json:"senderId"`
	SenderNick       string `json:"senderNick"`
	ChatbotUserID    string `json:"chatbotUserId"`
	SessionWebhook   string `json:"sessionWebhook"`
	IsInAtList       bool   `json:"isInAtList"`
	CreateAt         int64  `json:"createAt"`
	Text             struct {
		Content string `json:"content"`
	} `json:"text"`
}

func (a *Adapter) handleCallback(data string) {
	var cb botCallback
	if err := json.Unmarshal([]byte(data), &cb); err != nil {
		a.bus.Publish(dispatcher.Event{
			Kind: dispatcher.EventDecodeFailed, PlatformID: platformID,
			Err: fmt.Errorf("dingtalk: decode callback: %w", err),
		})
		return
	}

	a.mu.Lock()
	a.webhooks[cb.ConversationID] = sessionWebhook{
		url:       cb.SessionWebhook,
		expiresAt: time.Now().Add(webhookTTL),
	}
	a.mu.Unlock()

	sender := cb.SenderStaffID
	if sender == "" {
		sender = cb.SenderID
	}
	msg := &message.Message{
		ID:         cb.MsgID,
		PlatformID: platformID,
		ChatID:     cb.ConversationID,
		SenderID:   sender,
		SenderName: cb.SenderNick,
		SelfID:     cb.ChatbotUserID,
		Private:    cb.ConversationType == "1",
		RawText:    cb.Text.Content,
		ReceivedAt: time.UnixMilli(cb.CreateAt),
	}
	// DingTalk delivers bot messages already stripped of the @; the at
	// flag arrives out of band
	if cb.IsInAtList {
		msg.Chain = append(msg.Chain, message.Mention{TargetID: cb.ChatbotUserID})
	}
	if text := strings.TrimSpace(cb.Text.Content); text != "" {
		msg.Chain = append(msg.Chain, message.Text{Content: text})
	}

	a.bus.Publish(dispatcher.Event{
		Kind:       dispatcher.EventMessageReceived,
		PlatformID: platformID,
		Message:    msg,
	})
}

func (a *Adapter) Send(ctx context.Context, out *message.Outbound) error {
	a.mu.Lock()
	hook, ok := a.webhooks[out.ChatID]
	a.mu.Unlock()
	if !ok || time.Now().After(hook.expiresAt) {
		return fmt.Errorf("dingtalk: no active session webhook for %q", out.ChatID)
	}

	var b strings.Builder
	var atIDs []string
	for _, c := range out.Chain {
		switch c.Kind {
		case message.OutMention:
			atIDs = append(atIDs, c.TargetID)
		case message.OutText:
			b.WriteString(c.Text)
		}
	}
	text := b.String()
	if text == "" {
		return nil
	}

	body := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": text},
	}
	if len(atIDs) > 0 {
		body["at"] = map[string]any{"atUserIds": atIDs}
	}
	payload, _ := json.Marshal(body)

	if err := a.limiter.Wait(ctx, out.ChatID); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dingtalk: send: http %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
