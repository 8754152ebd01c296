package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/miniplay/acceptbot/internal/accept"
	"github.com/miniplay/acceptbot/internal/bitable"
	"github.com/miniplay/acceptbot/internal/config"
	"github.com/miniplay/acceptbot/internal/dedup"
	"github.com/miniplay/acceptbot/internal/extract"
	"github.com/miniplay/acceptbot/internal/im"
	"github.com/miniplay/acceptbot/internal/logger"
	"github.com/miniplay/acceptbot/internal/project"
	"github.com/miniplay/acceptbot/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideRegistry,
			provideLarkClient,
			provideBitableClient,
			provideIMClient,
			provideDedupSet,
			provideExtractor,
			provideResolver,
			provideOrchestrator,
			provideWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			startStream,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideRegistry(cfg config.Config) *project.Registry {
	return project.NewRegistry(cfg.Projects)
}

func provideLarkClient(cfg config.Config) *lark.Client {
	return lark.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, lark.WithOpenBaseUrl(larkBaseURL(cfg.Feishu)))
}

func provideBitableClient(log *slog.Logger, client *lark.Client, cfg config.Config) *bitable.Client {
	return bitable.NewClient(log, client, cfg.Table)
}

func provideIMClient(log *slog.Logger, client *lark.Client) *im.Client {
	return im.NewClient(log, client)
}

func provideDedupSet(cfg config.Config) *dedup.Set {
	return dedup.NewSet(cfg.Accept.DedupCapacity)
}

func provideExtractor(log *slog.Logger, imClient *im.Client, bitableClient *bitable.Client, cfg config.Config) *extract.Extractor {
	return extract.NewExtractor(log, imClient, bitableClient, cfg.Table.LinkHosts)
}

func provideResolver(log *slog.Logger, registry *project.Registry, bitableClient *bitable.Client) *accept.Resolver {
	return accept.NewResolver(log, registry, bitableClient)
}

func provideOrchestrator(
	log *slog.Logger,
	registry *project.Registry,
	resolver *accept.Resolver,
	bitableClient *bitable.Client,
	extractor *extract.Extractor,
	imClient *im.Client,
	events *dedup.Set,
	cfg config.Config,
) *accept.Orchestrator {
	staleness := time.Duration(cfg.Accept.StalenessSeconds) * time.Second
	return accept.NewOrchestrator(log, registry, resolver, bitableClient, extractor, imClient, events, staleness)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, orchestrator *accept.Orchestrator, registry *project.Registry) *server.WebhookHandler {
	return server.NewWebhookHandler(log, cfg.Feishu, orchestrator, registry)
}

func provideServer(log *slog.Logger, cfg config.Config, webhook *server.WebhookHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, webhook)
}

func startStream(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, orchestrator *accept.Orchestrator) {
	if cfg.Feishu.NormalizedInboundMode() != config.InboundModeWebsocket {
		log.Info("webhook mode enabled; websocket connect skipped")
		return
	}
	stream := server.NewStream(log, cfg.Feishu, larkBaseURL(cfg.Feishu), orchestrator)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { stream.Start(ctx); return nil },
		OnStop:  func(_ context.Context) error { cancel(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, registry *project.Registry) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			for _, p := range registry.All() {
				log.Info("project configured", slog.String("name", p.Name), slog.Int("chats", len(p.ChatIDs)))
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func larkBaseURL(cfg config.FeishuConfig) string {
	if cfg.NormalizedRegion() == config.RegionLark {
		return lark.LarkBaseUrl
	}
	return lark.FeishuBaseUrl
}
