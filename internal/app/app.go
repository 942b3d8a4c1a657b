// Package app assembles the video service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/pipeline"
	"github.com/makeasinger/videogen/internal/progress"
	"github.com/makeasinger/videogen/internal/service"
	"github.com/makeasinger/videogen/internal/worker"
	ws "github.com/makeasinger/videogen/internal/websocket"
)

// App holds every long-lived component of a running server.
type App struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Redis        *redis.Client
	Store        progress.Store
	Hub          *ws.Hub
	Orchestrator *pipeline.Orchestrator
	Service      *service.JobService
	Services     ServiceStatus

	inProcess   *service.InProcessDispatcher
	asynqClient *asynq.Client
	inspector   *asynq.Inspector
	worker      *asynq.Server
}

// ServiceStatus reports which external services are real rather than mocked.
type ServiceStatus struct {
	OpenAI bool `json:"openai"`
	Image  bool `json:"image"`
	Speech bool `json:"speech"`
	Video  bool `json:"video"`
	R2     bool `json:"r2"`
}

// New builds the App. Nothing is started until StartWorker or the HTTP
// listener runs. Extra observers receive pipeline events next to the hub.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, obs ...pipeline.Observer) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Redis: redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
	}

	if err := a.Redis.Ping(ctx).Err(); err != nil {
		if cfg.Store.Driver == config.StoreDriverRedis || cfg.Dispatch.Mode == config.DispatchAsynq {
			return nil, fmt.Errorf("redis is required for this configuration: %w", err)
		}
		log := logging.Component(logger, "app")
		log.Warn().Err(err).Msg("redis not available, rate limiting disabled")
	}

	store, err := OpenStore(ctx, cfg, a.Redis)
	if err != nil {
		return nil, err
	}
	a.Store = store

	collab, status := NewCollaborators(ctx, cfg, logger)
	a.Services = status

	a.Hub = ws.NewHub(logger)
	orch, err := pipeline.NewOrchestrator(store, collab, cfg.Participants, pipeline.Options{
		StageTimeout:     cfg.Pipeline.StageTimeout,
		SceneConcurrency: cfg.Pipeline.SceneConcurrency,
		StoryTemperature: cfg.Pipeline.StoryTemperature,
		SceneTemperature: cfg.Pipeline.SceneTemperature,
		Image: pipeline.ImageParams{
			Width:  cfg.Image.Width,
			Height: cfg.Image.Height,
			Steps:  cfg.Image.Steps,
		},
	}, logger, append([]pipeline.Observer{a.Hub}, obs...)...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.Orchestrator = orch

	var dispatcher service.Dispatcher
	switch cfg.Dispatch.Mode {
	case config.DispatchAsynq:
		opt := redisClientOpt(cfg)
		a.asynqClient = asynq.NewClient(opt)
		a.inspector = asynq.NewInspector(opt)
		dispatcher = service.NewAsynqDispatcher(a.asynqClient, a.inspector, store, logger)
	default:
		a.inProcess = service.NewInProcessDispatcher(orch, logger)
		dispatcher = a.inProcess
	}

	a.Service = service.NewJobService(store, service.NewRegistry(), dispatcher, logger)
	return a, nil
}

// OpenStore opens the progress store selected by cfg. rdb is only used by
// the redis driver.
func OpenStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (progress.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverRedis:
		return progress.NewRedisStore(rdb, cfg.Store.RedisTTL), nil
	case config.StoreDriverSQLite:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		return progress.OpenSQLite(ctx, cfg.Store.SQLitePath)
	default:
		return progress.NewMemoryStore(), nil
	}
}

// NewCollaborators picks a real client for every service with a configured
// endpoint and the mock for the rest.
func NewCollaborators(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (pipeline.Collaborators, ServiceStatus) {
	var status ServiceStatus
	log := logging.Component(logger, "app")

	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2, err := client.NewR2Client(ctx, &cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			storage = r2
			status.R2 = true
		}
	} else {
		log.Info().Msg("R2 storage not configured, using local paths")
	}

	mock := client.NewMockMedia(cfg.Mock.Delay, storage, logger)
	collab := pipeline.Collaborators{
		Text:    client.NewMockText(cfg.Mock.Delay),
		Images:  mock,
		Audio:   mock,
		Videos:  mock,
		Splicer: mock,
	}

	if openai := client.NewOpenAIClient(&cfg.OpenAI, logger); openai.IsConfigured() {
		collab.Text = openai
		status.OpenAI = true
	}
	if images := client.NewImageClient(&cfg.Image, logger); images.IsConfigured() {
		collab.Images = images
		status.Image = true
	}
	if speech := client.NewSpeechClient(&cfg.Speech, logger); speech.IsConfigured() {
		collab.Audio = speech
		status.Speech = true
	}
	if video := client.NewVideoClient(&cfg.Video, logger); video.IsConfigured() {
		collab.Videos = video
		collab.Splicer = video
		status.Video = true
	}

	log.Info().
		Bool("openai", status.OpenAI).
		Bool("image", status.Image).
		Bool("speech", status.Speech).
		Bool("video", status.Video).
		Bool("r2", status.R2).
		Msg("collaborators configured")
	return collab, status
}

func redisClientOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// StartWorker runs the queue worker when jobs are dispatched through asynq.
// It is a no-op for in-process dispatch.
func (a *App) StartWorker() error {
	if a.Config.Dispatch.Mode != config.DispatchAsynq {
		return nil
	}

	a.worker = asynq.NewServer(redisClientOpt(a.Config), asynq.Config{
		Concurrency: a.Config.Dispatch.Concurrency,
		Queues: map[string]int{
			service.QueueVideo: 1,
		},
		Logger:   newAsynqLogger(a.Logger),
		LogLevel: asynqLogLevel(a.Config.Server.LogLevel),
	})

	mux := asynq.NewServeMux()
	worker.NewPipelineWorker(a.Orchestrator, a.Logger).Register(mux)

	if err := a.worker.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	a.Logger.Info().Int("concurrency", a.Config.Dispatch.Concurrency).Msg("asynq worker started")
	return nil
}

// RunHub serves websocket fan-out until ctx is done.
func (a *App) RunHub(ctx context.Context) {
	a.Hub.Run(ctx)
}

// Shutdown stops running jobs and releases every resource.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.inProcess != nil {
		if err := a.inProcess.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher: %w", err))
		}
	}
	if a.worker != nil {
		a.worker.Shutdown()
	}
	if a.asynqClient != nil {
		if err := a.asynqClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("asynq client: %w", err))
		}
	}
	if a.inspector != nil {
		_ = a.inspector.Close()
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := a.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	return errors.Join(errs...)
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
