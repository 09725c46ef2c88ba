package lark

import (
	"context"
	"fmt"
	"net/http"
)

const sendMessagePath = "/open-apis/message/v4/send"

// DestinationKind selects how a message recipient is addressed.
type DestinationKind string

const (
	KindUserID DestinationKind = "user_id"
	KindOpenID DestinationKind = "open_id"
	KindChatID DestinationKind = "chat_id"
	KindEmail  DestinationKind = "email"
)

// ParseDestinationKind validates a kind name. Empty means KindUserID.
func ParseDestinationKind(s string) (DestinationKind, error) {
	switch k := DestinationKind(s); k {
	case "":
		return KindUserID, nil
	case KindUserID, KindOpenID, KindChatID, KindEmail:
		return k, nil
	default:
		return "", fmt.Errorf("unknown destination kind %q", s)
	}
}

// Destination is a message recipient.
type Destination struct {
	Kind DestinationKind
	ID   string
}

// SendText delivers a plain text message to dest.
func (c *Client) SendText(ctx context.Context, dest Destination, text string) error {
	kind := dest.Kind
	if kind == "" {
		kind = KindUserID
	}
	payload := map[string]any{
		string(kind): dest.ID,
		"msg_type":   "text",
		"content":    map[string]string{"text": text},
	}
	return c.do(ctx, "send", http.MethodPost, sendMessagePath, nil, payload, nil)
}
