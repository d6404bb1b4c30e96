package bootstrap

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codecanvas-io/collab/internal/config"
	"github.com/codecanvas-io/collab/internal/infra/broker"
	"github.com/codecanvas-io/collab/internal/infra/cache"
	"github.com/codecanvas-io/collab/internal/infra/db"
	"github.com/codecanvas-io/collab/internal/infra/logger"
	mq "github.com/codecanvas-io/collab/internal/infra/queue"
	"github.com/codecanvas-io/collab/internal/middleware"
	"github.com/codecanvas-io/collab/internal/modules/handler"
	"github.com/codecanvas-io/collab/internal/modules/repo"
	"github.com/codecanvas-io/collab/internal/modules/service"
	"github.com/codecanvas-io/collab/internal/realtime"
	"github.com/codecanvas-io/collab/internal/relay"
	"github.com/codecanvas-io/collab/internal/router"
)

func BuildContainer() *do.Injector {
	inj := do.New()

	// config
	do.Provide(inj, func(i *do.Injector) (*config.Config, error) {
		return config.Load()
	})

	// logger
	do.Provide(inj, func(i *do.Injector) (*zap.Logger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return logger.New(cfg.Log.Level, cfg.App.Env)
	})

	// DB
	do.Provide(inj, func(i *do.Injector) (*gorm.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		d, err := db.New(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Telemetry.Enabled {
			if err := db.RegisterOpenTelemetryPlugin(d); err != nil {
				return nil, err
			}
		}
		// [optional] auto migrate
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(d); err != nil {
				return nil, err
			}
		}
		return d, nil
	})

	// Redis
	do.Provide(inj, func(i *do.Injector) (*redis.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		rdb, err := cache.New(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Telemetry.Enabled {
			if err := cache.RegisterOpenTelemetryPlugin(rdb); err != nil {
				return nil, err
			}
		}
		return rdb, nil
	})

	// RabbitMQ DialFunc for connection and reconnection
	do.Provide(inj, func(i *do.Injector) (mq.DialFunc, error) {
		return mq.NewDialFunc(do.MustInvoke[*config.Config](i)), nil
	})

	// RabbitMQ Publisher
	do.Provide(inj, func(i *do.Injector) (*mq.Publisher, error) {
		return mq.NewPublisher(do.MustInvoke[mq.DialFunc](i), do.MustInvoke[*zap.Logger](i))
	})

	// Activity events go to RabbitMQ only when it is enabled
	do.Provide(inj, func(i *do.Injector) (service.EventPublisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.RabbitMQ.Enabled {
			return nil, nil
		}
		pub, err := do.Invoke[*mq.Publisher](i)
		if err != nil {
			return nil, err
		}
		return pub, nil
	})

	// Repo
	do.Provide(inj, func(i *do.Injector) (repo.UserRepo, error) {
		return repo.NewUserRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.ProjectRepo, error) {
		return repo.NewProjectRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.FileRepo, error) {
		return repo.NewFileRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.ActivityRepo, error) {
		return repo.NewActivityRepo(do.MustInvoke[*gorm.DB](i)), nil
	})

	// Service
	do.Provide(inj, func(i *do.Injector) (service.AccessService, error) {
		return service.NewAccessService(do.MustInvoke[repo.ProjectRepo](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.UserService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewUserService(
			do.MustInvoke[repo.UserRepo](i),
			do.MustInvoke[*redis.Client](i),
			cfg.Collab.UserCacheTTL,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.FileService, error) {
		return service.NewFileService(do.MustInvoke[repo.FileRepo](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.ActivityService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewActivityService(
			do.MustInvoke[repo.ActivityRepo](i),
			do.MustInvoke[service.EventPublisher](i),
			cfg.RabbitMQ.Exchange,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	// Broker
	do.Provide(inj, func(i *do.Injector) (*broker.Redis, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return broker.NewRedis(
			do.MustInvoke[*redis.Client](i),
			cfg.Collab.BrokerChannelPrefix,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	// Relay
	do.Provide(inj, func(i *do.Injector) (*relay.Relay, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*zap.Logger](i)

		systemID, err := EnsureSystemUser(context.Background(), do.MustInvoke[service.UserService](i), cfg, log)
		if err != nil {
			return nil, err
		}

		opts := relay.Options{
			SaveDebounce:    cfg.Collab.SaveDebounce,
			PendingOpsLimit: cfg.Collab.PendingOpsLimit,
			SystemAuthorID:  systemID,
		}
		if cfg.Collab.Broker == config.BrokerRedis {
			opts.Broadcaster = do.MustInvoke[*broker.Redis](i)
		}
		return relay.New(
			do.MustInvoke[service.FileService](i),
			do.MustInvoke[service.ActivityService](i),
			log,
			opts,
		), nil
	})

	// Realtime
	do.Provide(inj, func(i *do.Injector) (*realtime.Registry, error) {
		return realtime.NewRegistry(), nil
	})
	do.Provide(inj, func(i *do.Injector) (*realtime.Dispatcher, error) {
		return realtime.NewDispatcher(
			do.MustInvoke[*relay.Relay](i),
			do.MustInvoke[service.AccessService](i),
			do.MustInvoke[service.UserService](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	// Handler
	do.Provide(inj, func(i *do.Injector) (*handler.CollabHandler, error) {
		return handler.NewCollabHandler(
			do.MustInvoke[*relay.Relay](i),
			do.MustInvoke[service.AccessService](i),
			do.MustInvoke[service.ActivityService](i),
			do.MustInvoke[service.FileService](i),
			do.MustInvoke[*realtime.Dispatcher](i),
			do.MustInvoke[*realtime.Registry](i),
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	// Router
	do.Provide(inj, func(i *do.Injector) (*middleware.TokenVerifier, error) {
		return middleware.NewTokenVerifier(do.MustInvoke[*config.Config](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*gin.Engine, error) {
		return router.NewRouter(router.RouterDeps{
			Config:        do.MustInvoke[*config.Config](i),
			Log:           do.MustInvoke[*zap.Logger](i),
			Verifier:      do.MustInvoke[*middleware.TokenVerifier](i),
			CollabHandler: do.MustInvoke[*handler.CollabHandler](i),
		}), nil
	})
	return inj
}
