package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/nexus-social/internal/calls"
	"github.com/Tyrowin/nexus-social/internal/chat"
	"github.com/Tyrowin/nexus-social/internal/config"
	"github.com/Tyrowin/nexus-social/internal/identity"
	"github.com/Tyrowin/nexus-social/internal/logging"
	"github.com/Tyrowin/nexus-social/internal/metrics"
	"github.com/Tyrowin/nexus-social/internal/server"
	"github.com/Tyrowin/nexus-social/internal/signaling"
	"github.com/Tyrowin/nexus-social/internal/social"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nexus-social: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, docs := openIdentityStore(cfg, logger)

	msgLog, closeLog, err := openMessageLog(cfg, docs, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLog.Close(); err != nil {
			logger.Warn("message_log_close_failed", zap.Error(err))
		}
	}()

	codec, err := chat.NewCodec(cfg.Messages.Codec, cfg.Messages.CodecSecret)
	if err != nil {
		return err
	}

	hub := server.NewHub(logger, m)
	coordinator := calls.NewCoordinator(hub, logger, m)
	relay := signaling.NewRelay(hub, logger, m)
	graph := social.NewService(store, hub, social.Options{Logger: logger, Metrics: m})
	router := chat.NewRouter(hub, chat.Options{
		Log:            msgLog,
		Codec:          codec,
		Fanout:         cfg.Chat.GroupFanout,
		Members:        graph,
		PersistTimeout: cfg.Messages.PersistTimeout.Std(),
		Logger:         logger,
		Metrics:        m,
	})

	srv := server.New(hub, server.Deps{
		Calls:   coordinator,
		Relay:   relay,
		Chat:    router,
		Social:  graph,
		Logger:  logger,
		Metrics: m,
	}, server.OptionsFromConfig(*cfg))
	srv.Start()

	httpServer := server.CreateServer(cfg.Server.Port, srv.SetupRoutes(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("server_starting",
		zap.String("addr", cfg.Server.Port),
		zap.String("identity_store", cfg.Store.Kind),
		zap.String("message_log", cfg.Messages.LogKind),
		zap.String("group_fanout", cfg.Chat.GroupFanout))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(httpServer, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := cfg.Server.ShutdownTimeout.Std()
		httpErr := server.ShutdownServer(httpServer, timeout, logger)
		hubErr := srv.Shutdown(timeout)
		return errors.Join(httpErr, hubErr)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server_stopped", zap.Error(err))
		return err
	}
	logger.Info("server_stopped")
	return nil
}

// openIdentityStore returns the identity store and the document client it
// reads through, which the document message log shares.
func openIdentityStore(cfg *config.Config, logger *zap.Logger) (identity.Store, identity.DocumentClient) {
	if cfg.Store.Kind == config.StoreHTTP {
		docs := identity.NewHTTPDocuments(identity.HTTPDocumentsOptions{
			BaseURL:    cfg.Store.BaseURL,
			AuthToken:  cfg.Store.AuthToken,
			Timeout:    cfg.Store.RequestTimeout.Std(),
			MaxRetries: cfg.Store.MaxRetries,
			Logger:     logger,
		})
		return identity.NewDocumentStore(docs, cfg.Store.UsersFolder, logger), docs
	}

	logger.Warn("memory_identity_store", zap.String("hint", "users and groups are lost on restart"))
	store := identity.NewMemoryStore(logger)
	return store, store.Documents()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openMessageLog(cfg *config.Config, docs identity.DocumentClient, logger *zap.Logger) (chat.MessageLog, io.Closer, error) {
	switch cfg.Messages.LogKind {
	case config.LogPebble:
		l, err := chat.OpenPebbleLog(cfg.Messages.PebblePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	case config.LogDocument:
		return chat.NewDocumentLog(docs, logger), nopCloser{}, nil
	default:
		return chat.NewMemoryLog(), nopCloser{}, nil
	}
}
