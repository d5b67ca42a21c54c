// Package app wires the ingestion components from configuration. The
// service binary and the operator CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/licitaciones/platform/pkg/acquisition"
	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/database"
	"github.com/licitaciones/platform/pkg/common/kafka"
	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/dedup"
	"github.com/licitaciones/platform/pkg/ingestion"
	"github.com/licitaciones/platform/pkg/normalizer"
	"github.com/licitaciones/platform/pkg/schedule"
	"github.com/licitaciones/platform/pkg/storage"
	"github.com/licitaciones/platform/pkg/store"
	"github.com/licitaciones/platform/pkg/terminology"
)

type App struct {
	Config   *config.Config
	Sources  config.SourcesConfig
	Tenders  *store.Repository
	States   *store.StateRepository
	Runs     *ingestion.Repository
	Schedule *schedule.Engine
	Service  *ingestion.Service

	closers []func() error
}

func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	vocab, err := terminology.Load(cfg.VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("loading status vocabulary: %w", err)
	}
	loc := cfg.Location()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	a := &App{
		Config:  cfg,
		Sources: sources,
		Tenders: store.NewRepository(db),
		States:  store.NewStateRepository(db),
		Runs:    ingestion.NewRepository(db),
	}
	a.closers = append(a.closers, database.ClosePostgres)

	if err := a.Tenders.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrating tender tables: %w", err)
	}
	if err := a.Runs.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrating run history: %w", err)
	}

	a.Schedule, err = schedule.NewEngine(sources, loc, schedule.SystemClock, cfg.RetryAfterFailure)
	if err != nil {
		return nil, err
	}
	registry, err := normalizer.NewRegistry(sources.Sources, normalizer.Options{Vocabulary: vocab, Location: loc})
	if err != nil {
		return nil, err
	}
	acquirers, err := Acquirers(sources)
	if err != nil {
		return nil, err
	}

	archiver, err := storage.NewArchiver(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("Artifact archive unavailable, continuing without it")
		archiver = storage.NoopArchiver{}
	}

	var locker ingestion.Locker = ingestion.NewLocalLocker()
	if cfg.RedisEnabled {
		client, err := database.GetRedis(cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis run locks enabled but unavailable: %w", err)
		}
		locker = ingestion.ChainLocker{locker, ingestion.NewRedisLocker(client, cfg.LockTTL)}
		a.closers = append(a.closers, database.CloseRedis)
	}

	var events ingestion.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.RunEventsTopic)
		a.closers = append(a.closers, producer.Close)
		events = producer
	}

	runner := ingestion.NewRunner(ingestion.RunnerConfig{
		ArtifactRoot: cfg.ArtifactRoot,
		Settle:       cfg.SettleDelay,
		ChunkSize:    cfg.ChunkSize,
		Location:     loc,
		Clock:        schedule.SystemClock,
	}, registry, dedup.NewEngine(a.Tenders, cfg.UpdateExisting), archiver, acquirers)

	a.Service = ingestion.NewService(ingestion.Dependencies{
		Sources:     sources,
		Schedule:    a.Schedule,
		Runner:      runner,
		States:      a.States,
		History:     a.Runs,
		Locker:      locker,
		Events:      events,
		Validator:   ingestion.NewValidator(sources, loc),
		MaxParallel: cfg.MaxParallelRuns,
		HistoryTTL:  cfg.RunHistoryTTL,
	})
	return a, nil
}

// Acquirers builds the acquisition hook of every source that declares one.
func Acquirers(sources config.SourcesConfig) (map[string]acquisition.Acquirer, error) {
	out := make(map[string]acquisition.Acquirer)
	for _, src := range sources.Sources {
		if src.Acquisition == nil {
			continue
		}
		acq, err := acquisition.New(src.Acquisition)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		out[src.Name] = acq
	}
	return out, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Log.WithError(err).Warn("close failed")
		}
	}
}
