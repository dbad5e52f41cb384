package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/wagate/internal/config"
	"github.com/memohai/wagate/internal/db"
	"github.com/memohai/wagate/internal/handlers"
	"github.com/memohai/wagate/internal/healthcheck"
	"github.com/memohai/wagate/internal/logger"
	"github.com/memohai/wagate/internal/media"
	"github.com/memohai/wagate/internal/media/providers/localfs"
	"github.com/memohai/wagate/internal/message"
	"github.com/memohai/wagate/internal/message/event"
	"github.com/memohai/wagate/internal/server"
	"github.com/memohai/wagate/internal/signedurl"
	"github.com/memohai/wagate/internal/sweep"
	"github.com/memohai/wagate/internal/webhook"
	"github.com/memohai/wagate/internal/whatsapp"
)

type serveOptions struct {
	Migrate bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and media server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply pending migrations before serving (postgres only)")
	return cmd
}

func runServe(opts serveOptions) error {
	app := fx.New(
		fx.Supply(opts),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideMessageStore,
			event.NewHub,
			provideMediaStorage,
			provideSigner,
			provideWhatsAppClient,
			provideMediaPipeline,
			provideWebhookService,
			provideSweeper,
			provideServerHandler(providePingHandler),
			provideServerHandler(handlers.NewWebhookServerHandler),
			provideServerHandler(handlers.NewMediaServerHandler),
			provideServerHandler(handlers.NewEventsServerHandler),
			provideServer,
		),
		fx.Invoke(
			startMediaPipeline,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideMessageStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, opts serveOptions) (message.Store, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn("using in-memory message store; data is lost on restart")
		return message.NewMemoryStore(), nil
	}
	if opts.Migrate {
		if err := db.MigrateUp(log, cfg.Postgres); err != nil {
			return nil, err
		}
	}
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		pool.Close()
		return nil
	}})
	return message.NewPostgresStore(log, pool), nil
}

func provideMediaStorage(cfg config.Config) (*localfs.Provider, error) {
	return localfs.New(cfg.Media.Root)
}

func provideSigner(cfg config.Config) (*signedurl.Signer, error) {
	return signedurl.New(signedurl.Config{
		Required: cfg.SignedURLs.Required,
		Secret:   cfg.SignedURLs.Secret,
		TTL:      cfg.SignedURLs.TTL,
	})
}

func provideWhatsAppClient(log *slog.Logger, cfg config.Config) *whatsapp.Client {
	if cfg.WhatsApp.AccessToken == "" {
		log.Warn("whatsapp access token is empty; media downloads will fail")
	}
	return whatsapp.NewClient(log, whatsapp.ClientConfig{
		BaseURL:          cfg.WhatsApp.GraphBaseURL,
		APIVersion:       cfg.WhatsApp.APIVersion,
		AccessToken:      cfg.WhatsApp.AccessToken,
		Timeout:          cfg.WhatsApp.HTTPTimeout,
		MaxDownloadBytes: cfg.Media.MaxOriginalBytes,
	})
}

func provideMediaPipeline(log *slog.Logger, cfg config.Config, store message.Store, storage *localfs.Provider) *media.Pipeline {
	return media.NewPipeline(log, store, storage, media.PipelineConfig{
		MaxOriginalBytes: cfg.Media.MaxOriginalBytes,
		Retry: media.RetryPolicy{
			MaxAttempts: cfg.Media.DownloadMaxAttempts,
			BaseDelay:   cfg.Media.DownloadRetryDelay,
		},
		Thumbnail: media.ThumbnailOptions{
			MaxWidth:  cfg.Media.ThumbnailMaxWidth,
			MaxHeight: cfg.Media.ThumbnailMaxHeight,
			Quality:   cfg.Media.ThumbnailQuality,
		},
		IngestTimeout: cfg.Media.IngestTimeout,
	})
}

func provideWebhookService(log *slog.Logger, cfg config.Config, store message.Store, hub *event.Hub, pipeline *media.Pipeline, client *whatsapp.Client, signer *signedurl.Signer) *webhook.Service {
	if cfg.WhatsApp.AppSecret == "" {
		log.Warn("whatsapp app secret is empty; webhook signatures are not verified")
	}
	return webhook.NewService(log, webhook.Config{
		AppSecret:   cfg.WhatsApp.AppSecret,
		VerifyToken: cfg.WhatsApp.VerifyToken,
	}, store, hub, pipeline, client, signer)
}

func provideSweeper(log *slog.Logger, cfg config.Config, store message.Store, svc *webhook.Service) *sweep.Sweeper {
	return sweep.NewSweeper(log, store, sweep.Config{
		Schedule:   cfg.Sweep.Schedule,
		StaleAfter: cfg.Sweep.StaleAfter,
	}, svc.OnMediaStatus)
}

func providePingHandler(log *slog.Logger, store message.Store, storage *localfs.Provider) *handlers.PingHandler {
	return handlers.NewPingHandler(log,
		healthcheck.StoreChecker("message_store", store),
		healthcheck.DirectoryChecker("media_root", storage.Root()),
	)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startMediaPipeline(lc fx.Lifecycle, logger *slog.Logger, pipeline *media.Pipeline) {
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		if err := pipeline.Wait(ctx); err != nil {
			logger.Warn("media ingestions still running at shutdown", slog.Any("error", err))
		}
		return nil
	}})
}

func startSweeper(lc fx.Lifecycle, cfg config.Config, sweeper *sweep.Sweeper) {
	if !cfg.Sweep.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeper.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return sweeper.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("server listening", slog.String("addr", srv.Addr()))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
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
