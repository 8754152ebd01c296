package server

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/miniplay/acceptbot/internal/accept"
)

// decodeInbound converts a Feishu message-receive event into the
// orchestrator's inbound shape. Only the text body matters: the marker token
// can only appear in a text message, and non-command text falls out at the
// parse step.
func decodeInbound(event *larkim.P2MessageReceiveV1) accept.InboundEvent {
	var ev accept.InboundEvent
	if event == nil || event.Event == nil {
		return ev
	}
	if message := event.Event.Message; message != nil {
		if message.MessageId != nil {
			ev.MessageID = strings.TrimSpace(*message.MessageId)
		}
		if message.ChatId != nil {
			ev.ChatID = strings.TrimSpace(*message.ChatId)
		}
		if message.ParentId != nil {
			ev.ParentID = strings.TrimSpace(*message.ParentId)
		}
		if message.Content != nil {
			var content map[string]any
			if err := json.Unmarshal([]byte(*message.Content), &content); err == nil {
				if text, ok := content["text"].(string); ok {
					ev.Text = text
				}
			}
		}
		if message.CreateTime != nil {
			ev.CreatedAt = parseCreateTime(*message.CreateTime)
		}
	}
	if sender := event.Event.Sender; sender != nil && sender.SenderType != nil {
		ev.SenderType = strings.TrimSpace(*sender.SenderType)
	}
	return ev
}

// parseCreateTime decodes the millisecond epoch string Feishu puts on
// message events. A malformed value yields the zero time, which skips the
// staleness check rather than dropping the event.
func parseCreateTime(raw string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
