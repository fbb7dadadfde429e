package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aawaheed/datashare/internal/config"
	"github.com/aawaheed/datashare/internal/core/usecase"
	"github.com/aawaheed/datashare/internal/infrastructure/index/elastic"
	"github.com/aawaheed/datashare/internal/infrastructure/queue/nats"
	"github.com/aawaheed/datashare/internal/infrastructure/repository/postgres"
	"github.com/aawaheed/datashare/internal/infrastructure/resilience"
)

type App struct {
	Config config.Config

	BatchQueue *nats.Queue
	ScanQueue  *nats.Queue

	SubmitUC *usecase.SubmitBatchUseCase
	AccessUC *usecase.BatchAccessUseCase
	ExecUC   *usecase.ExecuteBatchUseCase
	ScanUC   *usecase.ResumeScanUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewBatchSearchRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	batchQueue, err := nats.NewWithOptions(cfg.NATSURL, cfg.BatchSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init batch queue: %w", err)
	}
	scanQueue, err := nats.NewWithOptions(cfg.NATSURL, cfg.ScanSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		batchQueue.Close()
		return nil, fmt.Errorf("init scan queue: %w", err)
	}

	keepAlive, err := time.ParseDuration(cfg.ScrollDuration)
	if err != nil {
		keepAlive = 0
	}
	indexer := elastic.New(cfg.ElasticURL, elastic.Options{
		PageSize:           cfg.ScrollPageSize,
		KeepAlive:          keepAlive,
		ResilienceExecutor: executor,
	})

	submitUC := usecase.NewSubmitBatchUseCase(repo, batchQueue, cfg.MaxBatchQueries)
	accessUC := usecase.NewBatchAccessUseCase(repo)
	execUC := usecase.NewExecuteBatchUseCase(repo, indexer)
	scanUC := usecase.NewResumeScanUseCase(indexer, scanQueue)

	return &App{
		Config: cfg,

		BatchQueue: batchQueue,
		ScanQueue:  scanQueue,

		SubmitUC: submitUC,
		AccessUC: accessUC,
		ExecUC:   execUC,
		ScanUC:   scanUC,

		closeFn: func() {
			batchQueue.Close()
			scanQueue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
