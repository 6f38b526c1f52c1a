// Run the keepsake API server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/gorilla/handlers"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arkstead/keepsake/activity"
	"github.com/arkstead/keepsake/config"
	"github.com/arkstead/keepsake/minter"
	"github.com/arkstead/keepsake/mutator"
	"github.com/arkstead/keepsake/queue"
	"github.com/arkstead/keepsake/runner"
	"github.com/arkstead/keepsake/server"
	"github.com/arkstead/keepsake/services"
	"github.com/arkstead/keepsake/setup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if cfg.AuthPassword == "" {
		logger.Fatal("no AUTH_PASSWORD configured, refusing to serve an unprotected API")
	}

	if err := setup.DB(cfg); err != nil {
		logger.Fatal("could not connect to database", zap.Error(err))
	}
	if err := setup.Migrate(cfg); err != nil {
		logger.Fatal("could not run migrations", zap.Error(err))
	}

	metrics.Namespace = "keepsake.server"
	metrics.Start("web")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	q := queue.NewRedis(rdb, logger)

	mut := mutator.New(cfg.StorageBase, cfg.PreservationBase)

	var ledger runner.Ledger = runner.DBLedger{}
	var publisher *activity.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = activity.NewPublisher(cfg.KafkaBrokers, cfg.KafkaActivityTopic, logger)
		ledger = &activity.PublishingLedger{
			Next:    ledger,
			Sink:    publisher,
			Mutator: mut,
			BaseURL: cfg.PreservationBase,
			Logger:  logger,
		}
	}

	auth := server.NewSharedSecretAuthorizer()
	auth.AddUser(cfg.AuthUser, cfg.AuthPassword)

	srv := server.New(&server.Server{
		Submit: &services.Submitter{
			Store:   services.DBStore{},
			Mint:    minter.Local{},
			Queue:   q,
			Exports: services.DBExportCounter{},
			Logger:  logger,
		},
		Store: services.DBStore{},
		Stream: &activity.Stream{
			Source:   activity.DBSource{},
			Mutator:  mut,
			BaseURL:  cfg.PreservationBase,
			PageSize: cfg.ActivityPageSize,
		},
		Pusher:     &services.EventPusher{Ledger: ledger, Logger: logger},
		Mutator:    mut,
		PushSecret: cfg.ActivityPushSecret,
		Auth:       auth,
		Logger:     logger,
	}, ":"+cfg.Port)
	srv.Handler = handlers.LoggingHandler(os.Stdout, srv.Handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		setup.MeasureActiveQueries(ctx, 5*time.Second, logger)
		return nil
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("could not close activity publisher", zap.Error(err))
		}
	}
}
