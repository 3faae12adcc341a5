package model

import (
	"encoding/json"
	"strings"
)

// TempIDPrefix marks locally generated ids of pending messages.
const TempIDPrefix = "temp-"

// ContentKind tags the content union of a message.
type ContentKind string

const (
	KindText    ContentKind = "text"
	KindImage   ContentKind = "image"
	KindProduct ContentKind = "product"
)

// Product is the payload of a product-card message.
type Product struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	ImageURL  string  `json:"imageUrl,omitempty"`
}

// Content is the tagged union carried by a message.
type Content struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Caption  string      `json:"caption,omitempty"`
	MediaURL string      `json:"mediaUrl,omitempty"`
	Product  *Product    `json:"product,omitempty"`
}

// TextContent builds text content.
func TextContent(text string) Content {
	return Content{Kind: KindText, Text: text}
}

// ImageContent builds image content.
func ImageContent(mediaURL, caption string) Content {
	return Content{Kind: KindImage, MediaURL: mediaURL, Caption: caption}
}

// ProductContent builds product-card content.
func ProductContent(p Product) Content {
	return Content{Kind: KindProduct, Product: &p, MediaURL: p.ImageURL}
}

// UnmarshalJSON accepts either a bare string, decoded as text, or the tagged object.
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = TextContent(text)
		return nil
	}
	type plain Content
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Content(p)
	if c.Kind == "" {
		c.Kind = KindText
	}
	return nil
}

// Preview renders content for the chat list.
func (c Content) Preview() string {
	switch c.Kind {
	case KindImage:
		if c.Caption != "" {
			return c.Caption
		}
		return "[image]"
	case KindProduct:
		if c.Product != nil && c.Product.Name != "" {
			return "[product] " + c.Product.Name
		}
		return "[product]"
	default:
		return c.Text
	}
}

// Message is one entry of a chat's message list.
type Message struct {
	// Identity
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	FromMe    bool   `json:"fromMe"`

	// Content
	Content Content `json:"content"`

	// Provenance
	IsAIGenerated     bool   `json:"isAiGenerated,omitempty"`
	AgentName         string `json:"agentName,omitempty"`
	SenderDisplayName string `json:"senderDisplayName,omitempty"`

	// Timestamp in seconds since epoch. Local until the provider assigns it.
	Timestamp int64 `json:"timestamp"`

	// Pending is set on optimistic entries that have not been confirmed yet.
	Pending bool `json:"pending,omitempty"`
	// Seq orders pending entries by creation.
	Seq uint64 `json:"-"`
}

// IsTemp reports whether the message carries a locally generated id.
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.MessageID, TempIDPrefix)
}
