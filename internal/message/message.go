// Package message defines the canonical message model shared by platform
// adapters and the processing pipeline. Adapters decode wire events into a
// Message with an ordered component chain; the pipeline renders a Reply
// back for the adapter to encode.
package message

import (
	"fmt"
	"strings"
	"time"
)

// ComponentKind identifies a message chain element.
type ComponentKind string

const (
	KindText    ComponentKind = "text"
	KindMention ComponentKind = "mention"
	KindReply   ComponentKind = "reply"
	KindFace    ComponentKind = "face"
	KindImage   ComponentKind = "image"
)

// Component is one element of a message chain.
type Component interface {
	Kind() ComponentKind
	// PlainText returns the component's plain-text rendering.
	PlainText() string
}

// Text is a plain text segment.
type Text struct {
	Content string `json:"content"`
}

func (Text) Kind() ComponentKind { return KindText }
func (t Text) PlainText() string { return t.Content }

// Mention is an @-mention of a user.
type Mention struct {
	TargetID    string `json:"target_id"`
	DisplayName string `json:"display_name,omitempty"`
}

func (Mention) Kind() ComponentKind { return KindMention }
func (m Mention) PlainText() string {
	if m.DisplayName != "" {
		return "@" + m.DisplayName
	}
	return "@" + m.TargetID
}

// Reply references an earlier message being replied to.
type Reply struct {
	MessageID string `json:"message_id"`
	Summary   string `json:"summary,omitempty"`
}

func (Reply) Kind() ComponentKind { return KindReply }
func (r Reply) PlainText() string { return "" }

// Face is a platform emoji/sticker by numeric code.
type Face struct {
	Code string `json:"code"`
}

func (Face) Kind() ComponentKind { return KindFace }
func (f Face) PlainText() string { return fmt.Sprintf("[face:%s]", f.Code) }

// Image references an image by URL or platform file id.
type Image struct {
	Ref string `json:"ref"`
}

func (Image) Kind() ComponentKind { return KindImage }
func (Image) PlainText() string   { return "[image]" }

// Message is one inbound platform message, immutable after the adapter
// constructs it.
type Message struct {
	ID         string      `json:"id"`
	PlatformID string      `json:"platform_id"`
	ChatID     string      `json:"chat_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name,omitempty"`
	SelfID     string      `json:"self_id,omitempty"` // the bot's own id on this platform
	Private    bool        `json:"private"`
	RawText    string      `json:"raw_text"`
	Chain      []Component `json:"-"`
	ReceivedAt time.Time   `json:"received_at"`
}

// PlainText joins the chain's plain-text renderings. Falls back to RawText
// when the chain is empty (adapters that only carry text).
func (m *Message) PlainText() string {
	if len(m.Chain) == 0 {
		return m.RawText
	}
	var b strings.Builder
	for _, c := range m.Chain {
		b.WriteString(c.PlainText())
	}
	return b.String()
}

// MentionsUser reports whether the chain carries a Mention of the given id.
func (m *Message) MentionsUser(selfID string) bool {
	if selfID == "" {
		return false
	}
	for _, c := range m.Chain {
		if mc, ok := c.(Mention); ok && mc.TargetID == selfID {
			return true
		}
	}
	return false
}

// ChatKey scopes serialization and history: one key per conversation,
// unique across platforms.
//
//	{platform}:{chat_id}
func (m *Message) ChatKey() string {
	return m.PlatformID + ":" + m.ChatID
}
