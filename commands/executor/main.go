// Run the keepsake job executor.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arkstead/keepsake/activity"
	"github.com/arkstead/keepsake/config"
	"github.com/arkstead/keepsake/executor"
	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/mutator"
	"github.com/arkstead/keepsake/queue"
	"github.com/arkstead/keepsake/rest"
	"github.com/arkstead/keepsake/runner"
	"github.com/arkstead/keepsake/services"
	"github.com/arkstead/keepsake/setup"
	"github.com/arkstead/keepsake/siegfried"
	"github.com/arkstead/keepsake/storage"
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

	if err := setup.DB(cfg); err != nil {
		logger.Fatal("could not connect to database", zap.Error(err))
	}
	if err := setup.Migrate(cfg); err != nil {
		logger.Fatal("could not run migrations", zap.Error(err))
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Fatal("could not load executor policy", zap.Error(err))
	}

	metrics.Namespace = "keepsake.executor"
	metrics.Start("worker")

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

	repo := storage.NewHTTPRepository(rest.NewClient(cfg.StorageUser, cfg.StoragePassword, cfg.StorageBase))
	blobs := storage.NewFSBlobStore(cfg.BlobDir)

	runners := runner.Set{
		models.KindImport: &runner.ImportRunner{
			Repo:   repo,
			Ledger: ledger,
			Logger: logger,
		},
		models.KindExport: &runner.ExportRunner{
			Repo:   repo,
			Blobs:  blobs,
			Log:    runner.DBExportLog{},
			Logger: logger,
		},
		models.KindPipeline: &runner.PipelineRunner{
			Tool:   siegfried.New(cfg.SiegfriedPath, logger),
			Logger: logger,
		},
	}

	exec := &executor.Executor{
		Store:   services.DBStore{},
		Queue:   q,
		Runners: runners,
		Policy:  &policy,
		Logger:  logger,
	}
	watchdog := &services.Watchdog{
		Store:  services.DBStore{},
		Queue:  q,
		Policy: &policy,
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		exec.Run(ctx)
		return nil
	})
	g.Go(func() error {
		watchdog.Watch(ctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		setup.MeasureActiveQueries(ctx, time.Second, logger)
		return nil
	})
	g.Go(func() error {
		setup.MeasureJobStatusCounts(ctx, time.Second, logger)
		return nil
	})
	g.Go(func() error {
		setup.MeasureQueueDepth(ctx, q, 5*time.Second, logger)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("executor exited", zap.Error(err))
	}
	logger.Info("all workers drained, exiting")
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("could not close activity publisher", zap.Error(err))
		}
	}
}
