// Package im wraps the Lark IM API surface the bot consumes: fetching a
// referenced message, downloading its resources, and replying.
package im

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

type messageAPI interface {
	Get(ctx context.Context, req *larkim.GetMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.GetMessageResp, error)
	Reply(ctx context.Context, req *larkim.ReplyMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.ReplyMessageResp, error)
}

type messageResourceAPI interface {
	Get(ctx context.Context, req *larkim.GetMessageResourceReq, options ...larkcore.RequestOptionFunc) (*larkim.GetMessageResourceResp, error)
}

// Client talks to the Lark IM v1 API.
type Client struct {
	logger    *slog.Logger
	messages  messageAPI
	resources messageResourceAPI
}

func NewClient(log *slog.Logger, client *lark.Client) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		logger:    log.With(slog.String("component", "im")),
		messages:  client.Im.V1.Message,
		resources: client.Im.V1.MessageResource,
	}
}

// GetMessage fetches a message by id. Returns (nil, nil) when the platform
// reports success but has no such message.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Referenced, error) {
	req := larkim.NewGetMessageReqBuilder().
		MessageId(messageID).
		Build()
	resp, err := c.messages.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("feishu get message: %w", err)
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return nil, fmt.Errorf("feishu get message failed: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || len(resp.Data.Items) == 0 {
		return nil, nil
	}
	item := resp.Data.Items[0]
	ref := &Referenced{MessageID: messageID}
	if item.MessageId != nil {
		ref.MessageID = *item.MessageId
	}
	if item.MsgType != nil {
		ref.Kind = ParseKind(*item.MsgType)
	} else {
		ref.Kind = KindOther
	}
	if item.Body != nil && item.Body.Content != nil {
		ref.Content = *item.Body.Content
	}
	return ref, nil
}

// DownloadResource fetches the raw bytes of an image or file carried by a
// message. kind is ResourceImage or ResourceFile.
func (c *Client) DownloadResource(ctx context.Context, messageID, key, kind string) ([]byte, error) {
	req := larkim.NewGetMessageResourceReqBuilder().
		MessageId(messageID).
		FileKey(key).
		Type(kind).
		Build()
	resp, err := c.resources.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("feishu download resource: %w", err)
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return nil, fmt.Errorf("feishu download resource failed: %s (code: %d)", msg, code)
	}
	if resp.File == nil {
		return nil, fmt.Errorf("feishu download resource: empty payload")
	}
	data, err := io.ReadAll(resp.File)
	if err != nil {
		return nil, fmt.Errorf("feishu download resource: read: %w", err)
	}
	return data, nil
}

// Reply sends a plain-text reply to messageID. Failures are logged and
// returned but the orchestrator treats them as fire-and-forget.
func (c *Client) Reply(ctx context.Context, messageID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal reply content: %w", err)
	}
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := c.messages.Reply(ctx, req)
	if err != nil {
		c.logger.Error("reply failed", slog.String("message_id", messageID), slog.Any("error", err))
		return err
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		c.logger.Error("reply failed", slog.String("message_id", messageID), slog.Int("code", code), slog.String("msg", msg))
		return fmt.Errorf("feishu reply failed: %s (code: %d)", msg, code)
	}
	return nil
}
