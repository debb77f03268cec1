// Package onebot connects to a OneBot v11 implementation (QQ bridges
// such as NapCat or Lagrange) over a forward websocket.
package onebot

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

	"github.com/gorilla/websocket"

	"github.com/aetherpack/aetherbot/internal/adapters"
	"github.com/aetherpack/aetherbot/internal/config"
	"github.com/aetherpack/aetherbot/internal/dispatcher"
	"github.com/aetherpack/aetherbot/internal/message"
)

const platformID = "onebot"

// chat ids are prefixed so group and private conversations with the
// same numeric id never collide
const (
	groupPrefix   = "group_"
	privatePrefix = "private_"
)

type Adapter struct {
	cfg     config.OneBotConfig
	bus     *dispatcher.Dispatcher
	limiter *adapters.SendLimiter

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg config.OneBotConfig, bus *dispatcher.Dispatcher) *Adapter {
	return &Adapter{
		cfg:     cfg,
		bus:     bus,
		limiter: adapters.NewSendLimiter(1.5, 3),
	}
}

func (a *Adapter) Name() string { return platformID }

func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	conn, err := a.dial(runCtx)
	if err != nil {
		cancel()
		return err
	}
	a.setConn(conn)
	slog.Info("onebot connected", "url", a.cfg.URL)

	go a.readLoop(runCtx)
	return nil
}

func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
		a.mu.Lock()
		if a.conn != nil {
			a.conn.Close()
		}
		a.mu.Unlock()
		<-a.done
	}
	return nil
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if a.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("onebot: dial %s: %w", a.cfg.URL, err)
	}
	return conn, nil
}

func (a *Adapter) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

// readLoop consumes events and reconnects with backoff on failure.
func (a *Adapter) readLoop(ctx context.Context) {
	defer close(a.done)
	backoff := time.Second
	for {
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("onebot: connection lost, reconnecting", "error", err, "backoff", backoff)
			a.bus.Publish(dispatcher.Event{Kind: dispatcher.EventDisconnected, PlatformID: platformID})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			fresh, dialErr := a.dial(ctx)
			if dialErr != nil {
				continue
			}
			a.setConn(fresh)
			backoff = time.Second
			a.bus.Publish(dispatcher.Event{Kind: dispatcher.EventConnected, PlatformID: platformID})
			continue
		}
		a.handleFrame(data)
	}
}

type wireEvent struct {
	PostType    string        `json:"post_type"`
	MessageType string        `json:"message_type"`
	MessageID   int64         `json:"message_id"`
	GroupID     int64         `json:"group_id"`
	UserID      int64         `json:"user_id"`
	SelfID      int64         `json:"self_id"`
	RawMessage  string        `json:"raw_message"`
	Time        int64         `json:"time"`
	Segments    []wireSegment `json:"message"`
	Sender      struct {
		Nickname string `json:"nickname"`
	} `json:"sender"`
}

type wireSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

func (a *Adapter) handleFrame(data []byte) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.bus.Publish(dispatcher.Event{
			Kind:       dispatcher.EventDecodeFailed,
			PlatformID: platformID,
			Err:        fmt.Errorf("onebot: decode event: %w", err),
		})
		return
	}
	if ev.PostType != "message" {
		return
	}

	private := ev.MessageType == "private"
	chatID := groupPrefix + strconv.FormatInt(ev.GroupID, 10)
	if private {
		chatID = privatePrefix + strconv.FormatInt(ev.UserID, 10)
	}

	msg := &message.Message{
		ID:         strconv.FormatInt(ev.MessageID, 10),
		PlatformID: platformID,
		ChatID:     chatID,
		SenderID:   strconv.FormatInt(ev.UserID, 10),
		SenderName: ev.Sender.Nickname,
		SelfID:     strconv.FormatInt(ev.SelfID, 10),
		Private:    private,
		RawText:    ev.RawMessage,
		ReceivedAt: time.Unix(ev.Time, 0),
	}
	for _, seg := range ev.Segments {
		switch seg.Type {
		case "text":
			msg.Chain = append(msg.Chain, message.Text{Content: seg.Data["text"]})
		case "at":
			msg.Chain = append(msg.Chain, message.Mention{TargetID: seg.Data["qq"]})
		case "reply":
			msg.Chain = append(msg.Chain, message.Reply{MessageID: seg.Data["id"]})
		case "face":
			msg.Chain = append(msg.Chain, message.Face{Code: seg.Data["id"]})
		case "image":
			ref := seg.Data["url"]
			if ref == "" {
				ref = seg.Data["file"]
			}
			msg.Chain = append(msg.Chain, message.Image{Ref: ref})
		}
	}

	a.bus.Publish(dispatcher.Event{
		Kind:       dispatcher.EventMessageReceived,
		PlatformID: platformID,
		Message:    msg,
	})
}

func (a *Adapter) Send(ctx context.Context, out *message.Outbound) error {
	var segments []map[string]any
	for _, c := range out.Chain {
		switch c.Kind {
		case message.OutQuote:
			segments = append(segments, map[string]any{
				"type": "reply", "data": map[string]string{"id": c.QuoteID},
			})
		case message.OutMention:
			segments = append(segments, map[string]any{
				"type": "at", "data": map[string]string{"qq": c.TargetID},
			})
		case message.OutText:
			segments = append(segments, map[string]any{
				"type": "text", "data": map[string]string{"text": c.Text},
			})
		}
	}
	if len(segments) == 0 {
		return nil
	}

	action := "send_group_msg"
	params := map[string]any{"message": segments}
	switch {
	case strings.HasPrefix(out.ChatID, groupPrefix):
		id, _ := strconv.ParseInt(strings.TrimPrefix(out.ChatID, groupPrefix), 10, 64)
		params["group_id"] = id
	case strings.HasPrefix(out.ChatID, privatePrefix):
		id, _ := strconv.ParseInt(strings.TrimPrefix(out.ChatID, privatePrefix), 10, 64)
		action = "send_private_msg"
		params["user_id"] = id
	default:
		return fmt.Errorf("onebot: bad chat id %q", out.ChatID)
	}

	if err := a.limiter.Wait(ctx, out.ChatID); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("onebot: not connected")
	}
	return a.conn.WriteJSON(map[string]any{
		"action": action,
		"params": params,
	})
}
