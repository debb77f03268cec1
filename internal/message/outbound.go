package message

import "strings"

// OutboundKind identifies a reply chain element.
type OutboundKind string

const (
	OutText    OutboundKind = "text"
	OutMention OutboundKind = "mention"
	OutQuote   OutboundKind = "quote"
)

// OutboundComponent is one element of a reply chain.
type OutboundComponent struct {
	Kind     OutboundKind `json:"kind"`
	Text     string       `json:"text,omitempty"`      // OutText
	TargetID string       `json:"target_id,omitempty"` // OutMention
	QuoteID  string       `json:"quote_id,omitempty"`  // OutQuote: referenced message id
}

// Outbound is the canonical reply handed back to the originating adapter.
type Outbound struct {
	PlatformID string              `json:"platform_id"`
	ChatID     string              `json:"chat_id"`
	Chain      []OutboundComponent `json:"chain"`
}

// TextReply builds a plain single-segment reply addressed to a chat.
func TextReply(platformID, chatID, text string) *Outbound {
	return &Outbound{
		PlatformID: platformID,
		ChatID:     chatID,
		Chain:      []OutboundComponent{{Kind: OutText, Text: text}},
	}
}

// PlainText joins the text segments of the reply chain. Mention and quote
// components render in a readable debug form; adapters encode them natively.
func (o *Outbound) PlainText() string {
	var b strings.Builder
	for _, c := range o.Chain {
		switch c.Kind {
		case OutText:
			b.WriteString(c.Text)
		case OutMention:
			b.WriteString("@" + c.TargetID + " ")
		}
	}
	return b.String()
}
