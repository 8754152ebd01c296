package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/miniplay/acceptbot/internal/accept"
	"github.com/miniplay/acceptbot/internal/config"
	"github.com/miniplay/acceptbot/internal/project"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

type eventHandler interface {
	HandleEvent(ctx context.Context, ev accept.InboundEvent)
}

// WebhookHandler receives Feishu event-subscription callbacks and feeds
// message events into the acceptance pipeline.
type WebhookHandler struct {
	logger       *slog.Logger
	cfg          config.FeishuConfig
	orchestrator eventHandler
	registry     *project.Registry
}

func NewWebhookHandler(log *slog.Logger, cfg config.FeishuConfig, orchestrator eventHandler, registry *project.Registry) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:       log.With(slog.String("handler", "feishu_webhook")),
		cfg:          cfg,
		orchestrator: orchestrator,
		registry:     registry,
	}
}

// Register registers webhook callback routes and the status page.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/", h.HandleStatus)
	e.GET("/webhook", h.HandleProbe)
	e.POST("/webhook", h.Handle)
}

// HandleStatus reports the running service and its project bindings.
func (h *WebhookHandler) HandleStatus(c echo.Context) error {
	type projectStatus struct {
		Name    string   `json:"name"`
		ChatIDs []string `json:"chat_ids"`
	}
	projects := make([]projectStatus, 0, len(h.registry.All()))
	for _, p := range h.registry.All() {
		projects = append(projects, projectStatus{Name: p.Name, ChatIDs: p.ChatIDs})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "running",
		"message":  "🤖 需求验收机器人运行中",
		"projects": projects,
	})
}

// HandleProbe responds to health/probe requests on the webhook URL.
func (h *WebhookHandler) HandleProbe(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Handle processes one Feishu event callback: challenge handshake, token or
// signature verification, then dispatch of im.message.receive_v1 into the
// orchestrator. Other event types are acknowledged as no-ops by the
// dispatcher. Processing failures never surface as HTTP errors; an error
// status would make the platform redeliver the event.
func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.cfg.NormalizedInboundMode() != config.InboundModeWebhook {
		return echo.NewHTTPError(http.StatusBadRequest, "feishu inbound_mode is not webhook")
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}
	if err := validateCallbackAuth(payload, h.cfg); err != nil {
		return err
	}

	eventDispatcher := dispatcher.NewEventDispatcher(h.cfg.VerificationToken, h.cfg.EncryptKey)
	eventDispatcher.OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
		h.orchestrator.HandleEvent(context.WithoutCancel(c.Request().Context()), decodeInbound(event))
		return nil
	})

	resp := eventDispatcher.Handle(c.Request().Context(), &larkevent.EventReq{
		Header:     c.Request().Header,
		Body:       payload,
		RequestURI: c.Request().RequestURI,
	})
	if resp == nil {
		return c.NoContent(http.StatusOK)
	}
	for key, values := range resp.Header {
		for _, value := range values {
			c.Response().Header().Add(key, value)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return nil
	}
	_, err = c.Response().Write(resp.Body)
	return err
}

func validateCallbackAuth(payload []byte, cfg config.FeishuConfig) error {
	if strings.TrimSpace(cfg.EncryptKey) != "" {
		// Lark SDK signature verification is enabled only when encryptKey is configured.
		return nil
	}
	var fuzzy larkevent.EventFuzzy
	if err := json.Unmarshal(payload, &fuzzy); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid feishu webhook payload: %v", err))
	}
	if larkevent.ReqType(strings.TrimSpace(fuzzy.Type)) == larkevent.ReqTypeChallenge {
		return nil
	}
	expectedToken := strings.TrimSpace(cfg.VerificationToken)
	if expectedToken == "" {
		return echo.NewHTTPError(http.StatusForbidden, "feishu webhook requires verification_token when encrypt_key is empty")
	}
	requestToken := strings.TrimSpace(fuzzy.Token)
	if fuzzy.Header != nil && strings.TrimSpace(fuzzy.Header.Token) != "" {
		requestToken = strings.TrimSpace(fuzzy.Header.Token)
	}
	if requestToken == "" || requestToken != expectedToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid feishu webhook token")
	}
	return nil
}
