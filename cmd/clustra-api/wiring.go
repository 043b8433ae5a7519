package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Nxdus/clustra-project/internal/cdn"
	"github.com/Nxdus/clustra-project/internal/config"
	"github.com/Nxdus/clustra-project/internal/objstore"
	"github.com/Nxdus/clustra-project/internal/progress"
	"github.com/Nxdus/clustra-project/internal/quota"
	"github.com/Nxdus/clustra-project/internal/service"
	"github.com/Nxdus/clustra-project/internal/store"
	"github.com/Nxdus/clustra-project/internal/transcode"
	"github.com/Nxdus/clustra-project/internal/worker"
	"github.com/Nxdus/clustra-project/pkg/log"
)

// initLogger installs the global zap logger at the configured level and
// returns the teardown to run on exit.
func initLogger(cfg *config.Config) func() {
	logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
	if err != nil {
		logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger := log.InitLog(logLvl)
	undo := zap.ReplaceGlobals(logger)

	return func() {
		_ = logger.Sync()
		undo()
	}
}

// pipeline holds every component of the transcoding service, wired once and
// shared by the run and worker commands.
type pipeline struct {
	store  store.Store
	videos *service.VideoService
	worker *worker.Worker
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}
	st := store.NewStore(db)

	if err := st.InitialMigration(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("running initial migration: %w", err)
	}

	objects, err := objstore.NewMinioStore(
		objstore.WithEndpoint(cfg.S3.Endpoint),
		objstore.WithBucket(cfg.S3.Bucket),
		objstore.WithAccessKey(cfg.S3.AccessKey),
		objstore.WithSecretKey(cfg.S3.SecretKey),
		objstore.WithSSL(cfg.S3.UseSSL),
	)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initializing object store: %w", err)
	}

	var invalidator cdn.Invalidator
	if cfg.CDN.Endpoint != "" {
		invalidator = cdn.NewHTTPInvalidator(cfg.CDN.Endpoint, cfg.CDN.DistributionID)
	} else {
		invalidator = cdn.NewNoopInvalidator()
	}

	if err := os.MkdirAll(cfg.Service.WorkDir, 0o755); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	tracker := progress.NewTracker()
	cancels := worker.NewCancelRegistry()
	guard := quota.NewGuard(st.User())

	wkr := worker.New(worker.Config{
		Store:         st,
		Objects:       objects,
		Uploader:      objstore.NewUploader(objects),
		Transcoder:    transcode.NewTranscoder(cfg.Service.FfmpegPath, cfg.Service.FfprobePath),
		Quota:         guard,
		Invalidator:   invalidator,
		Tracker:       tracker,
		Cancels:       cancels,
		WorkDir:       cfg.Service.WorkDir,
		SweepInterval: time.Duration(cfg.Service.SweepInterval) * time.Second,
		BatchSize:     cfg.Service.SweepBatchSize,
	})

	videos := service.NewVideoService(st, objects, guard, tracker, cancels, invalidator, cfg.CDN.Domain)
	if cfg.Service.InlineTranscode {
		videos = videos.WithInlineRunner(wkr)
	}

	return &pipeline{
		store:  st,
		videos: videos,
		worker: wkr,
	}, nil
}

func (p *pipeline) Close() {
	if err := p.store.Close(); err != nil {
		zap.S().Warnw("failed to close data store", "error", err)
	}
}
