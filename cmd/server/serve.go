package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/codecanvas-io/collab/internal/bootstrap"
	"github.com/codecanvas-io/collab/internal/config"
	"github.com/codecanvas-io/collab/internal/infra/broker"
	"github.com/codecanvas-io/collab/internal/infra/cache"
	mq "github.com/codecanvas-io/collab/internal/infra/queue"
	"github.com/codecanvas-io/collab/internal/realtime"
	"github.com/codecanvas-io/collab/internal/relay"
	"github.com/codecanvas-io/collab/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inj := bootstrap.BuildContainer()
	cfg, err := do.Invoke[*config.Config](inj)
	if err != nil {
		return err
	}
	log, err := do.Invoke[*zap.Logger](inj)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.App.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	if _, err := telemetry.SetupTracing(cfg); err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	if _, err := telemetry.SetupMetrics(cfg); err != nil {
		log.Warn("metrics disabled", zap.Error(err))
	}
	if err := telemetry.InitRelayMetrics(); err != nil {
		return err
	}

	rly, err := do.Invoke[*relay.Relay](inj)
	if err != nil {
		return err
	}
	engine, err := do.Invoke[*gin.Engine](inj)
	if err != nil {
		return err
	}
	clients := do.MustInvoke[*realtime.Registry](inj)

	srv := &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("collab server listening", zap.String("addr", cfg.App.Addr), zap.String("broker", cfg.Collab.Broker))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		rly.RunSweeper(gctx, cfg.Collab.SweepInterval, cfg.Collab.InactiveThreshold)
		return nil
	})
	if cfg.Collab.Broker == config.BrokerRedis {
		b := do.MustInvoke[*broker.Redis](inj)
		g.Go(func() error { return b.Run(gctx, rly) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// hijacked WebSocket connections are not tracked by the server
		err := srv.Shutdown(shutdownCtx)
		clients.CloseAll()
		if werr := clients.Wait(shutdownCtx); werr != nil {
			log.Warn("websocket clients still open at shutdown", zap.Int("clients", clients.Len()), zap.Error(werr))
		}
		return err
	})

	err = g.Wait()

	// every read pump has returned, so no handler can schedule another save
	log.Info("flushed pending saves", zap.Int("count", rly.Flush()))
	closeResources(inj, cfg, log)

	if err != nil {
		return err
	}
	log.Info("collab server stopped cleanly")
	return nil
}

func closeResources(inj *do.Injector, cfg *config.Config, log *zap.Logger) {
	if cfg.RabbitMQ.Enabled {
		if pub, err := do.Invoke[*mq.Publisher](inj); err == nil {
			if err := pub.Close(); err != nil {
				log.Warn("close rabbitmq publisher", zap.Error(err))
			}
		}
	}
	if rdb, err := do.Invoke[*redis.Client](inj); err == nil {
		if err := cache.Close(rdb); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}
	if d, err := do.Invoke[*gorm.DB](inj); err == nil {
		if sqlDB, err := d.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.ShutdownMetrics(ctx); err != nil {
		log.Warn("shutdown metrics", zap.Error(err))
	}
	if err := telemetry.Shutdown(ctx); err != nil {
		log.Warn("shutdown tracing", zap.Error(err))
	}
}
