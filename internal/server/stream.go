package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/miniplay/acceptbot/internal/config"
)

const streamReconnectDelay = 3 * time.Second

// Stream receives message events over the Feishu websocket long connection,
// the alternative to the webhook callback for deployments without a public
// URL.
type Stream struct {
	logger       *slog.Logger
	cfg          config.FeishuConfig
	baseURL      string
	orchestrator eventHandler
}

func NewStream(log *slog.Logger, cfg config.FeishuConfig, baseURL string, orchestrator eventHandler) *Stream {
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		logger:       log.With(slog.String("component", "feishu_stream")),
		cfg:          cfg,
		baseURL:      baseURL,
		orchestrator: orchestrator,
	}
}

// Start runs the websocket client until ctx is cancelled, reconnecting after
// transient disconnects.
func (s *Stream) Start(ctx context.Context) {
	newClient := func() *larkws.Client {
		eventDispatcher := dispatcher.NewEventDispatcher(s.cfg.VerificationToken, s.cfg.EncryptKey)
		eventDispatcher.OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
			if ctx.Err() != nil {
				return nil
			}
			s.orchestrator.HandleEvent(ctx, decodeInbound(event))
			return nil
		})
		return larkws.NewClient(
			s.cfg.AppID,
			s.cfg.AppSecret,
			larkws.WithEventHandler(eventDispatcher),
			larkws.WithDomain(s.baseURL),
			larkws.WithLogger(larkSlogLogger{logger: s.logger}),
		)
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			client := newClient()
			err := client.Start(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.logger.Error("websocket client failed", slog.Any("error", err))
			} else {
				s.logger.Warn("websocket client exited without error; reconnecting")
			}
			timer := time.NewTimer(streamReconnectDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// larkSlogLogger adapts slog to the Lark SDK logger interface.
type larkSlogLogger struct {
	logger *slog.Logger
}

var _ larkcore.Logger = larkSlogLogger{}

func (l larkSlogLogger) Debug(_ context.Context, args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}

func (l larkSlogLogger) Info(_ context.Context, args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}

func (l larkSlogLogger) Warn(_ context.Context, args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}

func (l larkSlogLogger) Error(_ context.Context, args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}
